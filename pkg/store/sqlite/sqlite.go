// Package sqlite is the embedded [store.Store], built on gorm with the
// sqlite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/matzehuels/nixupdate/pkg/store"
)

type updateRow struct {
	AttrPath        string `gorm:"primaryKey;column:attr_path"`
	LastAttempt     *time.Time
	NextAttempt     *time.Time `gorm:"index"`
	CurrentVersion  string
	ProposedVersion string
	LatestVersion   string
	PRURL           string `gorm:"column:pr_url"`
	PRNumber        int    `gorm:"column:pr_number"`
}

func (updateRow) TableName() string { return "updates" }

type logRow struct {
	DrvPath    string    `gorm:"primaryKey;column:drv_path"`
	AttrPath   string    `gorm:"index;not null"`
	Timestamp  time.Time `gorm:"index;not null"`
	Status     string    `gorm:"not null"`
	ErrorLog   string
	OldVersion string
	NewVersion string
	RunID      string `gorm:"column:run_id"`
}

func (logRow) TableName() string { return "update_logs" }

// Store is a sqlite database file.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	// between pool members.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&updateRow{}, &logRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetRecord(ctx context.Context, attr string) (*store.Record, error) {
	var row updateRow
	err := s.db.WithContext(ctx).Where("attr_path = ?", attr).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *Store) UpsertRecord(ctx context.Context, rec *store.Record) error {
	row := fromRecord(rec)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attr_path"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (s *Store) ListRecords(ctx context.Context) ([]store.Record, error) {
	var rows []updateRow
	if err := s.db.WithContext(ctx).Order("attr_path").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Record, len(rows))
	for i := range rows {
		out[i] = *rows[i].record()
	}
	return out, nil
}

func (s *Store) RecordFailure(ctx context.Context, l *store.Log) error {
	row := logRow(*l)
	row.Timestamp = row.Timestamp.UTC()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "drv_path"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (s *Store) GetLogByDrv(ctx context.Context, id string) (*store.Log, error) {
	var row logRow
	err := s.db.WithContext(ctx).Where("drv_path = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && !strings.HasPrefix(id, store.StorePrefix) {
		err = s.db.WithContext(ctx).
			Where("drv_path LIKE ? ESCAPE '\\'", "%/"+escapeLike(id)).
			Order("timestamp DESC").
			First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l := store.Log(row)
	return &l, nil
}

func (s *Store) GetFailedLogsByAttr(ctx context.Context, attr string) ([]store.Log, error) {
	var rows []logRow
	err := s.db.WithContext(ctx).
		Where("attr_path = ? AND status = ?", attr, store.StatusFailed).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.Log, len(rows))
	for i, r := range rows {
		out[i] = store.Log(r)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (store.Stats, error) {
	var st store.Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&updateRow{}).Count(&st.Records).Error; err != nil {
		return st, err
	}
	if err := db.Model(&updateRow{}).Where("proposed_version <> ''").Count(&st.Proposed).Error; err != nil {
		return st, err
	}
	if err := db.Model(&updateRow{}).Where("next_attempt > ?", now.UTC()).Count(&st.InBackoff).Error; err != nil {
		return st, err
	}
	if err := db.Model(&logRow{}).Count(&st.Logs).Error; err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *updateRow) record() *store.Record {
	return &store.Record{
		AttrPath:        r.AttrPath,
		LastAttempt:     r.LastAttempt,
		NextAttempt:     r.NextAttempt,
		CurrentVersion:  r.CurrentVersion,
		ProposedVersion: r.ProposedVersion,
		LatestVersion:   r.LatestVersion,
		PRURL:           r.PRURL,
		PRNumber:        r.PRNumber,
	}
}

func fromRecord(r *store.Record) updateRow {
	return updateRow{
		AttrPath:        r.AttrPath,
		LastAttempt:     utc(r.LastAttempt),
		NextAttempt:     utc(r.NextAttempt),
		CurrentVersion:  r.CurrentVersion,
		ProposedVersion: r.ProposedVersion,
		LatestVersion:   r.LatestVersion,
		PRURL:           r.PRURL,
		PRNumber:        r.PRNumber,
	}
}

// utc normalizes stored times. The driver writes times as text, so
// comparisons in SQL only order correctly within one zone.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ store.Store = (*Store)(nil)
