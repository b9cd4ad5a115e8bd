package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/voxhub/internal/model"
)

func newTestStore(t *testing.T, limit int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", limit)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeResult(id string) model.Result {
	return model.Result{
		JobID:      id,
		Status:     model.StatusCompleted,
		URL:        "/tmp/" + id + ".wav",
		SampleRate: 24000,
		DurationMS: 1500,
		FinishedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLitePutAndGet(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()
	r := makeResult("job-1")

	inserted, err := s.Put(ctx, r)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !inserted {
		t.Fatal("Put reported not inserted for a new job")
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobID != r.JobID || got.Status != r.Status || got.URL != r.URL ||
		got.SampleRate != r.SampleRate || got.DurationMS != r.DurationMS || !got.FinishedAt.Equal(r.FinishedAt) {
		t.Errorf("Get = %+v, want %+v", got, r)
	}
}

func TestSQLitePutNeverOverwrites(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()

	first := makeResult("job-1")
	if _, err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second := first
	second.Status = model.StatusFailed
	second.Error = "boom"
	inserted, err := s.Put(ctx, second)
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if inserted {
		t.Error("second Put reported inserted")
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Status != model.StatusCompleted || got.Error != "" {
		t.Errorf("result was overwritten: %+v", got)
	}
}

func TestSQLiteGetNotFound(t *testing.T) {
	s := newTestStore(t, 10)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteFailedResult(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()
	r := model.Result{JobID: "bad", Status: model.StatusFailed, Error: "model crashed", FinishedAt: time.Now().UTC().Truncate(time.Second)}

	if _, err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "bad")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Error != "model crashed" || got.URL != "" {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteEvictsOldest(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()

	for i := range 5 {
		if _, err := s.Put(ctx, makeResult(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(All) = %d, want 3", len(all))
	}
	for _, id := range []string{"job-2", "job-3", "job-4"} {
		if _, ok := all[id]; !ok {
			t.Errorf("%s missing after eviction", id)
		}
	}
	if _, err := s.Get(ctx, "job-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job-0 should be evicted, err = %v", err)
	}
}

func TestSQLiteAllStable(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()
	_, _ = s.Put(ctx, makeResult("a"))
	_, _ = s.Put(ctx, makeResult("b"))

	first, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	second, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("len = %d, %d, want 2", len(first), len(second))
	}
	for id, r := range first {
		if other := second[id]; other.URL != r.URL || !other.FinishedAt.Equal(r.FinishedAt) {
			t.Errorf("result %s changed between reads: %+v vs %+v", id, r, second[id])
		}
	}
}
