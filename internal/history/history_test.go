package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

func TestRecorderFillsDefaultsAndSurvivesCancellation(t *testing.T) {
	store := &captureStore{}
	recorder := NewRecorder(store, time.Second, nil)
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	recorder.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Record(ctx, Entry{ProjectName: "shop", UserQuery: "q"})

	if len(store.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(store.entries))
	}
	got := store.entries[0]
	if got.ID == uuid.Nil || got.Status != StatusSucceeded {
		t.Fatalf("entry = %+v", got)
	}
	if !got.CreatedAt.Equal(now) || got.CreatedAt.Location() != time.UTC {
		t.Fatalf("CreatedAt = %v, want %v in UTC", got.CreatedAt, now)
	}
	if store.ctxErr != nil {
		t.Fatalf("store saw cancelled context: %v", store.ctxErr)
	}
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	store := &captureStore{err: errors.New("disk full")}
	recorder := NewRecorder(store, 0, nil)
	recorder.Record(context.Background(), Entry{ProjectName: "shop", UserQuery: "q", Status: StatusFailed})
	if store.calls != 1 {
		t.Fatalf("calls = %d", store.calls)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{20, 20},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		if got := NormalizeLimit(tt.in); got != tt.want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.HistoryConfig{Backend: BackendNone}, nil)
	if err != nil {
		t.Fatalf("Open(none) error = %v", err)
	}
	if _, ok := store.(Noop); !ok {
		t.Fatalf("Open(none) = %T", store)
	}

	store, err = Open(ctx, config.HistoryConfig{Backend: BackendSQLite, SQLitePath: t.TempDir() + "/h.db"}, nil)
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*SQLiteStore); !ok {
		t.Fatalf("Open(sqlite) = %T", store)
	}

	if _, err := Open(ctx, config.HistoryConfig{Backend: "mongo"}, nil); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

type captureStore struct {
	Noop
	entries []Entry
	calls   int
	err     error
	ctxErr  error
}

func (s *captureStore) Record(ctx context.Context, entry Entry) error {
	s.calls++
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}
