// Package store persists update scheduling state and failure logs.
//
// Two kinds of rows are kept:
//
//   - one [Record] per attribute path, read and written by the scheduler
//   - one [Log] per derivation path for failed update attempts
//
// Backends live in subpackages: sqlite (embedded, the default), mongo and
// memory.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record or log does not exist.
var ErrNotFound = errors.New("store: not found")

// StatusFailed is the status of every failure log row.
const StatusFailed = "failed"

// Record is the scheduling state of one package.
//
// NextAttempt is never before LastAttempt when both are set.
type Record struct {
	AttrPath    string
	LastAttempt *time.Time
	NextAttempt *time.Time

	CurrentVersion  string
	ProposedVersion string // cleared when an update lands
	LatestVersion   string

	// Set when a pull request was opened for ProposedVersion.
	PRURL    string
	PRNumber int
}

// Log is a recorded failed update attempt.
type Log struct {
	DrvPath    string
	AttrPath   string
	Timestamp  time.Time
	Status     string
	ErrorLog   string
	OldVersion string
	NewVersion string
	RunID      string
}

// Stats summarizes the store.
type Stats struct {
	Records   int64 `json:"records"`
	Proposed  int64 `json:"proposed"`
	InBackoff int64 `json:"in_backoff"`
	Logs      int64 `json:"logs"`
}

// Store is the persistence interface used by the scheduler and the CLI.
// Implementations are safe for concurrent use.
type Store interface {
	// GetRecord returns ErrNotFound when attr has never been checked.
	GetRecord(ctx context.Context, attr string) (*Record, error)
	UpsertRecord(ctx context.Context, rec *Record) error
	ListRecords(ctx context.Context) ([]Record, error)

	// RecordFailure inserts the log, replacing any row with the same
	// derivation path.
	RecordFailure(ctx context.Context, l *Log) error
	// GetLogByDrv looks up a log by exact derivation path. An id that is
	// not a store path also matches derivation paths ending in "/<id>".
	GetLogByDrv(ctx context.Context, id string) (*Log, error)
	// GetFailedLogsByAttr returns the failures of attr, newest first.
	GetFailedLogsByAttr(ctx context.Context, attr string) ([]Log, error)

	// Stats counts records in backoff relative to now.
	Stats(ctx context.Context, now time.Time) (Stats, error)
	Close() error
}

// StorePrefix is the prefix of full derivation paths.
const StorePrefix = "/nix/store/"

// InBackoff reports whether r is not yet due at now.
func (r *Record) InBackoff(now time.Time) bool {
	return r.NextAttempt != nil && r.NextAttempt.After(now)
}
