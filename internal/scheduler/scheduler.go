// Package scheduler runs migration batches periodically while the
// migration is marked running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/tigerroll/wpmigrate/internal/domain/model"
	"github.com/tigerroll/wpmigrate/internal/importer"
	"github.com/tigerroll/wpmigrate/internal/state"
	"github.com/tigerroll/wpmigrate/pkg/batch/support/util/logger"
)

// DefaultPollInterval is how often the loop checks whether a batch is due.
const DefaultPollInterval = 15 * time.Second

// BatchRunner runs a single batch.
type BatchRunner interface {
	RunBatch(ctx context.Context) model.BatchResult
}

// Scheduler invokes a BatchRunner every run interval and holds a file lock
// so only one scheduler runs per host.
type Scheduler struct {
	runner   BatchRunner
	state    *state.RunStateManager
	settings importer.SettingsProvider
	poll     time.Duration

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// New creates a Scheduler guarded by the lock file at lockPath.
func New(runner BatchRunner, st *state.RunStateManager, settings importer.SettingsProvider, lockPath string, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		state:    st,
		settings: settings,
		poll:     DefaultPollInterval,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires the lock file and launches the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("scheduler already running")
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire scheduler lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another scheduler holds %s", s.lockPath)
	}

	s.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.running.Store(true)
	go s.loop(loopCtx, done)
	logger.Infof("scheduler: started (lock %s)", s.lockPath)
	return nil
}

// Stop ends the loop, waits for an in-flight batch and releases the lock.
func (s *Scheduler) Stop() {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := s.lock.Unlock(); err != nil {
		logger.Warnf("scheduler: failed to release lock: %v", err)
	}
	s.running.Store(false)
	logger.Infof("scheduler: stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a batch when the migration is running and the next run time
// has passed, then records the following run time. It reports whether a
// batch ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	st, err := s.state.Get(ctx)
	if err != nil {
		logger.Errorf("scheduler: failed to read run state: %v", err)
		return false
	}
	if !st.Running {
		return false
	}
	now := s.state.Now()
	if st.NextRunAt != nil && now.Before(*st.NextRunAt) {
		return false
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		logger.Errorf("scheduler: failed to load settings: %v", err)
		return false
	}

	res := s.runner.RunBatch(ctx)
	logger.Infof("scheduler: batch %s: %s", res.Outcome, res.Message)

	next := s.state.Now().Add(settings.RunInterval())
	if _, err := s.state.Update(context.WithoutCancel(ctx), func(st *model.RunState) {
		if st.Running {
			st.NextRunAt = &next
		} else {
			st.NextRunAt = nil
		}
	}); err != nil {
		logger.Errorf("scheduler: failed to record next run: %v", err)
	}
	return true
}
