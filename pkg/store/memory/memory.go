// Package memory is an in-process [store.Store] for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matzehuels/nixupdate/pkg/store"
)

// Store keeps everything in maps. The zero value is not usable; call New.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	logs    map[string]store.Log
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]store.Record),
		logs:    make(map[string]store.Log),
	}
}

func (s *Store) GetRecord(_ context.Context, attr string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[attr]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *Store) UpsertRecord(_ context.Context, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AttrPath] = *cloneRecord(*rec)
	return nil
}

func (s *Store) ListRecords(_ context.Context) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttrPath < out[j].AttrPath })
	return out, nil
}

func (s *Store) RecordFailure(_ context.Context, l *store.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[l.DrvPath] = *l
	return nil
}

func (s *Store) GetLogByDrv(_ context.Context, id string) (*store.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.logs[id]; ok {
		return &l, nil
	}
	if strings.HasPrefix(id, store.StorePrefix) {
		return nil, store.ErrNotFound
	}

	var best *store.Log
	for _, l := range s.logs {
		if strings.HasSuffix(l.DrvPath, "/"+id) && (best == nil || l.Timestamp.After(best.Timestamp)) {
			best = &l
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) GetFailedLogsByAttr(_ context.Context, attr string) ([]store.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Log
	for _, l := range s.logs {
		if l.AttrPath == attr && l.Status == store.StatusFailed {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Store) Stats(_ context.Context, now time.Time) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := store.Stats{Records: int64(len(s.records)), Logs: int64(len(s.logs))}
	for _, r := range s.records {
		if r.ProposedVersion != "" {
			st.Proposed++
		}
		if r.InBackoff(now) {
			st.InBackoff++
		}
	}
	return st, nil
}

func (s *Store) Close() error { return nil }

func cloneRecord(r store.Record) *store.Record {
	if r.LastAttempt != nil {
		t := *r.LastAttempt
		r.LastAttempt = &t
	}
	if r.NextAttempt != nil {
		t := *r.NextAttempt
		r.NextAttempt = &t
	}
	return &r
}

var _ store.Store = (*Store)(nil)
