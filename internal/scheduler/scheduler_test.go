package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruner struct {
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakePruner) PruneSessions(before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.n, f.err
}

func TestRunOnce(t *testing.T) {
	store := &fakePruner{n: 3}
	s := New(store, 30*24*time.Hour, "", nil)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if len(store.cutoffs) != 1 || !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoffs = %v, want [%v]", store.cutoffs, want)
	}
}

func TestRunOnceError(t *testing.T) {
	s := New(&fakePruner{n: 2, err: errors.New("disk full")}, time.Hour, "", nil)
	n, err := s.RunOnce()
	if err == nil {
		t.Error("expected store error")
	}
	if n != 0 {
		t.Errorf("failed run reported %d pruned", n)
	}
}

func TestRetentionDisabled(t *testing.T) {
	store := &fakePruner{}
	s := New(store, 0, "", nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if !s.Next().IsZero() {
		t.Error("nothing should be scheduled without retention")
	}
	if _, err := s.RunOnce(); err == nil {
		t.Error("expected error without retention")
	}
	if len(store.cutoffs) != 0 {
		t.Error("store must not be touched")
	}
}

func TestStartSchedules(t *testing.T) {
	s := New(&fakePruner{}, 24*time.Hour, "@hourly", nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	next := s.Next()
	if next.IsZero() {
		t.Fatal("expected a scheduled run")
	}
	if d := time.Until(next); d <= 0 || d > time.Hour {
		t.Errorf("next run in %v, want within an hour", d)
	}
}

func TestStartInvalidSpec(t *testing.T) {
	s := New(&fakePruner{}, time.Hour, "every tuesday", nil)
	if err := s.Start(); err == nil {
		t.Error("expected error for invalid cron spec")
	}
}
