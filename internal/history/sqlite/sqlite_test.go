package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "whatsapp", PID: 4242}},
		{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "whatsapp", PID: 4242, Forced: true}},
		{Type: history.EventDisconnect, OccurredAt: time.Now().UTC(), Record: history.Record{
			Name: "whatsapp", Removed: []string{"qr_code", "status_file", "auth_cache"}}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM worker_history WHERE name = ?", "whatsapp").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 events in history, got %d", count)
	}

	var forced bool
	if err := sink.db.QueryRowContext(ctx, "SELECT forced FROM worker_history WHERE event = 'stop'").Scan(&forced); err != nil {
		t.Fatalf("forced: %v", err)
	}
	if !forced {
		t.Fatal("stop event should be recorded as forced")
	}

	var removed string
	if err := sink.db.QueryRowContext(ctx, "SELECT removed FROM worker_history WHERE event = 'disconnect'").Scan(&removed); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if removed != "qr_code,status_file,auth_cache" {
		t.Fatalf("removed = %q", removed)
	}
}

func TestSQLiteSink_InMemoryKeepsErrors(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := history.Event{
		Type:       history.EventPurgeFailed,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Name: "whatsapp", Error: "auth cache locked"},
	}
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	var msg string
	if err := sink.db.QueryRowContext(ctx, "SELECT error FROM worker_history").Scan(&msg); err != nil {
		t.Fatalf("query: %v", err)
	}
	if msg != "auth cache locked" {
		t.Fatalf("error column = %q", msg)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "x", PID: 1}})
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
