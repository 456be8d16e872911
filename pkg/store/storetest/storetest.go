// Package storetest checks [store.Store] implementations against the
// behavior the scheduler and CLI rely on.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matzehuels/nixupdate/pkg/store"
)

// Run exercises a fresh, empty store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("records", func(t *testing.T) { testRecords(t, newStore(t)) })
	t.Run("failure logs", func(t *testing.T) { testLogs(t, newStore(t)) })
	t.Run("log lookup by suffix", func(t *testing.T) { testLogSuffix(t, newStore(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(days int) *time.Time {
	t := base.AddDate(0, 0, days)
	return &t
}

func testRecords(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetRecord(ctx, "hello"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetRecord() on empty store error = %v, want ErrNotFound", err)
	}

	rec := &store.Record{
		AttrPath:        "hello",
		LastAttempt:     at(0),
		NextAttempt:     at(2),
		CurrentVersion:  "1.0.0",
		ProposedVersion: "1.1.0",
		LatestVersion:   "1.1.0",
		PRURL:           "https://github.com/o/r/pull/7",
		PRNumber:        7,
	}
	if err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRecord(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentVersion != "1.0.0" || got.ProposedVersion != "1.1.0" || got.PRNumber != 7 || got.PRURL != rec.PRURL {
		t.Errorf("GetRecord() = %+v", got)
	}
	if got.LastAttempt == nil || !got.LastAttempt.Equal(*at(0)) || got.NextAttempt == nil || !got.NextAttempt.Equal(*at(2)) {
		t.Errorf("timestamps = %v, %v", got.LastAttempt, got.NextAttempt)
	}

	// Overwrite clears fields.
	rec.ProposedVersion = ""
	rec.CurrentVersion = "1.1.0"
	rec.NextAttempt = at(4)
	if err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetRecord(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProposedVersion != "" || got.CurrentVersion != "1.1.0" || !got.NextAttempt.Equal(*at(4)) {
		t.Errorf("after upsert = %+v", got)
	}

	if err := s.UpsertRecord(ctx, &store.Record{AttrPath: "abc"}); err != nil {
		t.Fatal(err)
	}
	all, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].AttrPath != "abc" || all[1].AttrPath != "hello" {
		t.Errorf("ListRecords() = %+v", all)
	}
	if all[0].LastAttempt != nil || all[0].NextAttempt != nil {
		t.Errorf("unset timestamps came back set: %+v", all[0])
	}
}

func failure(drv, attr string, day int, msg string) *store.Log {
	return &store.Log{
		DrvPath:    drv,
		AttrPath:   attr,
		Timestamp:  *at(day),
		Status:     store.StatusFailed,
		ErrorLog:   msg,
		OldVersion: "1.0.0",
		NewVersion: "1.1.0",
		RunID:      "run-1",
	}
}

func testLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	drv := "/nix/store/aaa-hello-1.0.0.drv"

	if err := s.RecordFailure(ctx, failure(drv, "hello", 0, "first")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, failure(drv, "hello", 1, "second")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, failure("/nix/store/bbb-hello-1.0.0.drv", "hello", 2, "third")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, failure("/nix/store/ccc-other.drv", "other", 3, "other")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLogByDrv(ctx, drv)
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorLog != "second" || got.RunID != "run-1" || got.NewVersion != "1.1.0" {
		t.Errorf("re-recorded failure not overwritten: %+v", got)
	}

	logs, err := s.GetFailedLogsByAttr(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("GetFailedLogsByAttr() = %d rows, want 2", len(logs))
	}
	if logs[0].ErrorLog != "third" || logs[1].ErrorLog != "second" {
		t.Errorf("not newest first: %q, %q", logs[0].ErrorLog, logs[1].ErrorLog)
	}

	if logs, _ := s.GetFailedLogsByAttr(ctx, "missing"); len(logs) != 0 {
		t.Errorf("unexpected logs: %+v", logs)
	}
	if _, err := s.GetLogByDrv(ctx, "/nix/store/zzz-missing.drv"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetLogByDrv() error = %v, want ErrNotFound", err)
	}
}

func testLogSuffix(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.RecordFailure(ctx, failure("/nix/store/aaa-hello-1.0.0.drv", "hello", 0, "old")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, failure("/nix/store/x/aaa-hello-1.0.0.drv", "hello", 5, "new")); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFailure(ctx, failure("/nix/store/b_c-tool.drv", "tool", 0, "tool")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLogByDrv(ctx, "aaa-hello-1.0.0.drv")
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorLog != "new" {
		t.Errorf("suffix lookup = %q, want newest match", got.ErrorLog)
	}

	if _, err := s.GetLogByDrv(ctx, "hello-1.0.0.drv"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("partial name matched: %v", err)
	}
	// Wildcard characters in the id are literal.
	if _, err := s.GetLogByDrv(ctx, "b%c-tool.drv"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wildcard matched: %v", err)
	}
	if _, err := s.GetLogByDrv(ctx, "/nix/store/aaa"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store path used suffix matching: %v", err)
	}
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	records := []*store.Record{
		{AttrPath: "a", LastAttempt: at(0), NextAttempt: at(2)},
		{AttrPath: "b", LastAttempt: at(0), NextAttempt: at(6), ProposedVersion: "2.0"},
		{AttrPath: "c", LastAttempt: at(-10), NextAttempt: at(-4)},
		{AttrPath: "d"},
	}
	for _, r := range records {
		if err := s.UpsertRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordFailure(ctx, failure("/nix/store/aaa-a.drv", "a", 0, "x")); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, *at(1))
	if err != nil {
		t.Fatal(err)
	}
	want := store.Stats{Records: 4, Proposed: 1, InBackoff: 2, Logs: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
}
