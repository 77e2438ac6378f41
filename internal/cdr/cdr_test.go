package cdr

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.CDRConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "cdr.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	answered := Record{
		CallID:      7,
		Device:      "SEP001122334455",
		Line:        "reception",
		Direction:   DirectionOutbound,
		PeerNum:     "1002",
		Dialed:      "1002",
		Codec:       "ulaw",
		Start:       start,
		Answer:      start.Add(4 * time.Second),
		End:         start.Add(64 * time.Second),
		Disposition: DispositionAnswered,
	}
	if err := s.Write(ctx, answered); err != nil {
		t.Fatalf("Write answered: %v", err)
	}

	missed := Record{
		CallID:      8,
		Device:      "SEP001122334455",
		Line:        "reception",
		Direction:   DirectionInbound,
		PeerNum:     "1003",
		Start:       start.Add(time.Minute),
		End:         start.Add(time.Minute + 16*time.Second),
		Disposition: DispositionNoAnswer,
	}
	if err := s.Write(ctx, missed); err != nil {
		t.Fatalf("Write missed: %v", err)
	}

	records, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	// Newest first.
	if records[0].CallID != 8 || records[1].CallID != 7 {
		t.Errorf("order = %d, %d, want 8, 7", records[0].CallID, records[1].CallID)
	}
	got := records[1]
	if got.Line != "reception" || got.Dialed != "1002" || got.Codec != "ulaw" {
		t.Errorf("record = %+v", got)
	}
	if !got.Start.Equal(answered.Start) || !got.Answer.Equal(answered.Answer) {
		t.Errorf("times = %v / %v", got.Start, got.Answer)
	}
	if !records[0].Answer.IsZero() {
		t.Error("unanswered record should have zero answer time")
	}
}

func TestDurations(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r := Record{
		Start:  start,
		Answer: start.Add(5 * time.Second),
		End:    start.Add(65 * time.Second),
	}
	if r.Duration() != 65*time.Second {
		t.Errorf("Duration = %v, want 65s", r.Duration())
	}
	if r.BillSec() != 60*time.Second {
		t.Errorf("BillSec = %v, want 60s", r.BillSec())
	}

	unanswered := Record{Start: start, End: start.Add(10 * time.Second)}
	if unanswered.BillSec() != 0 {
		t.Errorf("unanswered BillSec = %v, want 0", unanswered.BillSec())
	}
}

func TestDisabledStoreIsNil(t *testing.T) {
	s, err := Open(config.CDRConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Open disabled: %v", err)
	}
	if s != nil {
		t.Fatal("disabled store should be nil")
	}

	// Nil store methods are no-ops.
	ctx := context.Background()
	if err := s.Write(ctx, Record{}); err != nil {
		t.Errorf("nil Write: %v", err)
	}
	if _, err := s.Recent(ctx, 5); err != nil {
		t.Errorf("nil Recent: %v", err)
	}
	if err := s.HealthCheck(ctx); err != nil {
		t.Errorf("nil HealthCheck: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestSchemaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.db")
	cfg := config.CDRConfig{Enabled: true, Path: path, BusyTimeout: 1}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	r := Record{
		CallID: 1, Device: "SEP1", Line: "a", Direction: DirectionInbound,
		Start: time.Now(), End: time.Now(), Disposition: DispositionFailed,
	}
	if err := s.Write(context.Background(), r); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Close()

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	records, err := s.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent after reopen: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records after reopen = %d, want 1", len(records))
	}
}
