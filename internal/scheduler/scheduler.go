package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@daily"

// Pruner deletes transcripts idle since before a cutoff.
type Pruner interface {
	PruneSessions(before time.Time) (int64, error)
}

// Scheduler prunes old transcripts on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	store     Pruner
	retention time.Duration
	spec      string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entryID cron.EntryID
}

func New(store Pruner, retention time.Duration, spec string, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:      cron.New(),
		store:     store,
		retention: retention,
		spec:      spec,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Start registers the prune job and starts the cron runner. A zero
// retention disables pruning.
func (s *Scheduler) Start() error {
	if s.retention <= 0 {
		s.logger.Info("retention disabled, not scheduling prune")
		return nil
	}
	id, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(); err != nil {
			s.logger.Error("prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.spec, err)
	}
	s.mu.Lock()
	s.entryID = id
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "retention", s.retention)
	return nil
}

// Stop halts the runner and waits for a running prune to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes immediately.
func (s *Scheduler) RunOnce() (int64, error) {
	if s.retention <= 0 {
		return 0, errors.New("retention is not configured")
	}
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.PruneSessions(cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("pruned sessions", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Next reports when the prune job runs next; zero if it is not scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}
