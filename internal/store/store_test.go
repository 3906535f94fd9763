package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ouroboros/internal/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "experience.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exps := []types.Experience{
		{Goal: "first", Success: true, QualityScore: 0.9, Insights: []string{"fast path works"}, Duration: 2 * time.Second},
		{Goal: "second", Success: false, QualityScore: 0.3},
		{Goal: "third", Success: true, QualityScore: 0.8},
	}
	for _, e := range exps {
		if err := s.Store(ctx, e); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recent count = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].Goal != "third" || got[2].Goal != "first" {
		t.Fatalf("order = %q, %q, %q", got[0].Goal, got[1].Goal, got[2].Goal)
	}
	if got[2].Insights[0] != "fast path works" {
		t.Fatalf("insights = %v", got[2].Insights)
	}
	if got[2].Duration != 2*time.Second {
		t.Fatalf("duration = %v", got[2].Duration)
	}
}

func TestSuccessRate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if rate, err := s.SuccessRate(ctx); err != nil || rate != 0 {
		t.Fatalf("empty store rate = %v, %v", rate, err)
	}

	for _, ok := range []bool{true, true, false, true} {
		if err := s.Store(ctx, types.Experience{Goal: "g", Success: ok}); err != nil {
			t.Fatal(err)
		}
	}
	rate, err := s.SuccessRate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.75 {
		t.Fatalf("rate = %v, want 0.75", rate)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 4 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

// recordingStore captures experiences for worker tests.
type recordingStore struct {
	mu   sync.Mutex
	exps []types.Experience
	err  error
}

func (r *recordingStore) Store(_ context.Context, exp types.Experience) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.exps = append(r.exps, exp)
	return nil
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exps)
}

func TestAsyncStoreFlushOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingStore{}
	a := NewAsync(rec, 32)

	for i := 0; i < 20; i++ {
		if err := a.Store(context.Background(), types.Experience{Goal: "g", Success: true}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	a.Close()
	a.Close() // Idempotent

	// Every accepted write was flushed before Close returned.
	if rec.count() != 20 {
		t.Fatalf("flushed = %d, want 20", rec.count())
	}
	if a.Stored() != 20 || a.Failed() != 0 {
		t.Fatalf("counters = %d stored, %d failed", a.Stored(), a.Failed())
	}
}

func TestAsyncStoreBackpressure(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingStore{}
	a := NewAsync(rec, 1)

	// More writes than the queue holds: the overflow goes through
	// synchronously rather than being dropped.
	for i := 0; i < 10; i++ {
		if err := a.Store(context.Background(), types.Experience{Goal: "g"}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	a.Close()

	if rec.count() != 10 {
		t.Fatalf("persisted = %d, want 10", rec.count())
	}
}

func TestAsyncStoreCountsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recordingStore{err: errors.New("disk full")}
	a := NewAsync(rec, 4)

	a.Store(context.Background(), types.Experience{Goal: "g"})
	a.Close()

	if a.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", a.Failed())
	}
}
