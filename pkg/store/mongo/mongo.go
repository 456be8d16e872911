// Package mongo is a [store.Store] backed by MongoDB, for update state
// shared between hosts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/nixupdate/pkg/store"
)

const (
	updatesCollection = "updates"
	logsCollection    = "update_logs"
)

type updateDoc struct {
	AttrPath        string     `bson:"_id"`
	LastAttempt     *time.Time `bson:"last_attempt,omitempty"`
	NextAttempt     *time.Time `bson:"next_attempt,omitempty"`
	CurrentVersion  string     `bson:"current_version"`
	ProposedVersion string     `bson:"proposed_version"`
	LatestVersion   string     `bson:"latest_version"`
	PRURL           string     `bson:"pr_url,omitempty"`
	PRNumber        int        `bson:"pr_number,omitempty"`
}

type logDoc struct {
	DrvPath    string    `bson:"_id"`
	AttrPath   string    `bson:"attr_path"`
	Timestamp  time.Time `bson:"timestamp"`
	Status     string    `bson:"status"`
	ErrorLog   string    `bson:"error_log"`
	OldVersion string    `bson:"old_version"`
	NewVersion string    `bson:"new_version"`
	RunID      string    `bson:"run_id,omitempty"`
}

// Store is a MongoDB database.
type Store struct {
	client  *mongo.Client
	updates *mongo.Collection
	logs    *mongo.Collection
}

// Connect connects to uri, verifies the connection and ensures indexes
// on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:  client,
		updates: db.Collection(updatesCollection),
		logs:    db.Collection(logsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "attr_path", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create log index: %w", err)
	}
	_, err = s.updates.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "next_attempt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create update index: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, attr string) (*store.Record, error) {
	var doc updateDoc
	err := s.updates.FindOne(ctx, bson.M{"_id": attr}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r := store.Record(doc)
	return &r, nil
}

func (s *Store) UpsertRecord(ctx context.Context, rec *store.Record) error {
	doc := updateDoc(*rec)
	_, err := s.updates.ReplaceOne(ctx, bson.M{"_id": doc.AttrPath}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) ListRecords(ctx context.Context) ([]store.Record, error) {
	cur, err := s.updates.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []updateDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Record, len(docs))
	for i, d := range docs {
		out[i] = store.Record(d)
	}
	return out, nil
}

func (s *Store) RecordFailure(ctx context.Context, l *store.Log) error {
	doc := logDoc(*l)
	_, err := s.logs.ReplaceOne(ctx, bson.M{"_id": doc.DrvPath}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetLogByDrv(ctx context.Context, id string) (*store.Log, error) {
	var doc logDoc
	err := s.logs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) && !strings.HasPrefix(id, store.StorePrefix) {
		filter := bson.M{"_id": bson.M{"$regex": "/" + regexp.QuoteMeta(id) + "$"}}
		opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
		err = s.logs.FindOne(ctx, filter, opts).Decode(&doc)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l := store.Log(doc)
	return &l, nil
}

func (s *Store) GetFailedLogsByAttr(ctx context.Context, attr string) ([]store.Log, error) {
	filter := bson.M{"attr_path": attr, "status": store.StatusFailed}
	cur, err := s.logs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []logDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Log, len(docs))
	for i, d := range docs {
		out[i] = store.Log(d)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (store.Stats, error) {
	var st store.Stats
	var err error
	if st.Records, err = s.updates.CountDocuments(ctx, bson.M{}); err != nil {
		return st, err
	}
	if st.Proposed, err = s.updates.CountDocuments(ctx, bson.M{"proposed_version": bson.M{"$ne": ""}}); err != nil {
		return st, err
	}
	if st.InBackoff, err = s.updates.CountDocuments(ctx, bson.M{"next_attempt": bson.M{"$gt": now}}); err != nil {
		return st, err
	}
	if st.Logs, err = s.logs.CountDocuments(ctx, bson.M{}); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ store.Store = (*Store)(nil)
