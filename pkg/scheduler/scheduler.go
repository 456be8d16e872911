// Package scheduler decides when a package is checked again.
//
// Packages with nothing to update back off: 2 days after the first check,
// then 4, then 6 at most. A landed update resets the wait to 2 days.
// Failed attempts go to the failure log and leave the backoff alone.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/store"
)

const day = 24 * time.Hour

// Scheduler records check outcomes in a store.
type Scheduler struct {
	Store store.Store
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *log.Logger
}

// New returns a scheduler over s using the wall clock.
func New(s store.Store, logger *log.Logger) *Scheduler {
	return &Scheduler{Store: s, Logger: logger}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// record loads attr, returning nil when it has never been checked.
func (s *Scheduler) record(ctx context.Context, attr string) (*store.Record, error) {
	rec, err := s.Store.GetRecord(ctx, attr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, nixerrors.Wrap(nixerrors.ErrCodeStore, err, "load update record for %s", attr)
	}
	return rec, nil
}

func (s *Scheduler) upsert(ctx context.Context, rec *store.Record) error {
	if err := s.Store.UpsertRecord(ctx, rec); err != nil {
		return nixerrors.Wrap(nixerrors.ErrCodeStore, err, "save update record for %s", rec.AttrPath)
	}
	return nil
}

// ShouldCheck reports whether attr is due: it has no record, no next
// attempt, or the next attempt is not in the future.
func (s *Scheduler) ShouldCheck(ctx context.Context, attr string) (bool, error) {
	rec, err := s.record(ctx, attr)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.NextAttempt == nil {
		return true, nil
	}
	due := !rec.NextAttempt.After(s.now())
	if !due {
		s.logger().Debug("in backoff", "attr", attr, "next_attempt", rec.NextAttempt.Format(time.RFC3339))
	}
	return due, nil
}

// BackoffDays returns the wait after a check at now that found nothing to
// do, given the previous record (nil if none).
func BackoffDays(rec *store.Record, now time.Time) int {
	if rec == nil || rec.LastAttempt == nil {
		return 2
	}
	since := int(now.Sub(*rec.LastAttempt) / day)
	if since >= 0 && since <= 2 {
		return 4
	}
	return 6
}

// RecordNoUpdate records a check that found no usable update. The
// proposed version and pull request are kept.
func (s *Scheduler) RecordNoUpdate(ctx context.Context, attr, current, latest string) error {
	rec, err := s.record(ctx, attr)
	if err != nil {
		return err
	}
	now := s.now()
	days := BackoffDays(rec, now)
	next := now.Add(time.Duration(days) * day)

	if rec == nil {
		rec = &store.Record{AttrPath: attr}
	}
	rec.LastAttempt = &now
	rec.NextAttempt = &next
	rec.CurrentVersion = current
	rec.LatestVersion = latest

	s.logger().Debug("no update available", "attr", attr, "next_attempt", next.Format(time.RFC3339), "days", days)
	return s.upsert(ctx, rec)
}

// RecordSuccess records a verified update from one version to another.
func (s *Scheduler) RecordSuccess(ctx context.Context, attr, from, to string) error {
	rec, err := s.record(ctx, attr)
	if err != nil {
		return err
	}
	now := s.now()
	next := now.Add(2 * day)

	if rec == nil {
		rec = &store.Record{AttrPath: attr}
	}
	rec.LastAttempt = &now
	rec.NextAttempt = &next
	rec.CurrentVersion = to
	rec.LatestVersion = to
	rec.ProposedVersion = ""
	rec.PRURL = ""
	rec.PRNumber = 0

	s.logger().Info("recorded update", "attr", attr, "from", from, "to", to)
	return s.upsert(ctx, rec)
}

// RecordProposal notes that version was proposed in a pull request. Later
// checks treat it as pending until upstream moves past it.
func (s *Scheduler) RecordProposal(ctx context.Context, attr, version, prURL string, prNumber int) error {
	rec, err := s.record(ctx, attr)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &store.Record{AttrPath: attr}
	}
	rec.ProposedVersion = version
	rec.PRURL = prURL
	rec.PRNumber = prNumber
	return s.upsert(ctx, rec)
}

// IsProposed reports whether latest is already proposed for attr.
func (s *Scheduler) IsProposed(ctx context.Context, attr, latest string) (bool, error) {
	rec, err := s.record(ctx, attr)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.ProposedVersion != "" && rec.ProposedVersion == latest, nil
}

// Failure describes a failed update attempt.
type Failure struct {
	DrvPath    string
	AttrPath   string
	Err        error
	OldVersion string
	NewVersion string
}

// RecordFailure stores the failure with its full error text, replacing an
// earlier failure of the same derivation. The run ID comes from ctx.
func (s *Scheduler) RecordFailure(ctx context.Context, f Failure) error {
	text := ""
	if f.Err != nil {
		text = f.Err.Error()
	}
	l := &store.Log{
		DrvPath:    f.DrvPath,
		AttrPath:   f.AttrPath,
		Timestamp:  s.now(),
		Status:     store.StatusFailed,
		ErrorLog:   text,
		OldVersion: f.OldVersion,
		NewVersion: f.NewVersion,
		RunID:      RunID(ctx),
	}
	if err := s.Store.RecordFailure(ctx, l); err != nil {
		return nixerrors.Wrap(nixerrors.ErrCodeStore, err, "record failure for %s", f.AttrPath)
	}
	return nil
}

type ctxKey int

const runIDKey ctxKey = 0

// WithRunID tags ctx with the ID of the current run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID returns the run ID stored by WithRunID, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
