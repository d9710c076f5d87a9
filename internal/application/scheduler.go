package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
)

// Validator validates every stored credential.
type Validator interface {
	ValidateAll(ctx context.Context) ([]string, error)
}

// Synchronizer refreshes the persistent store from the remote.
type Synchronizer interface {
	SyncActive(ctx context.Context) (SyncReport, error)
}

// SnapshotPublisher rebuilds and prunes the shared snapshots.
type SnapshotPublisher interface {
	PublishAll(ctx context.Context) error
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// SchedulerConfig holds the timing of background runs.
type SchedulerConfig struct {
	Interval     time.Duration // Time between scheduled runs.
	RetryBackoff time.Duration // Wait before re-validating after failures.
	Budget       time.Duration // Execution budget of one run.
	SweepMaxAge  time.Duration // Snapshot age removed by the end-of-run sweep.
}

// refreshRequest represents a manual refresh trigger.
type refreshRequest struct {
	done chan model.RunReport
}

// Scheduler runs validate, sync and publish in sequence on a fixed interval
// and on demand. Runs execute one at a time on the Start goroutine; each is
// bounded by the configured budget and abandoned as Expired when it runs out.
type Scheduler struct {
	validator Validator
	syncer    Synchronizer
	publisher SnapshotPublisher
	cfg       SchedulerConfig
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
	refreshCh chan refreshRequest

	mu      sync.RWMutex
	state   model.RunState
	runSeq  uint64
	lastRun *model.RunReport
}

// NewScheduler creates a new Scheduler with all required dependencies.
func NewScheduler(validator Validator, syncer Synchronizer, publisher SnapshotPublisher, cfg SchedulerConfig, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	return &Scheduler{
		validator: validator,
		syncer:    syncer,
		publisher: publisher,
		cfg:       cfg,
		now:       o.now,
		wait:      o.wait,
		refreshCh: make(chan refreshRequest),
		state:     model.RunStateIdle,
	}
}

// Start runs an immediate cycle, then one per interval. It also serves
// RefreshNow requests. Start blocks until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		case req := <-s.refreshCh:
			req.done <- s.RunOnce(ctx)
		}
	}
}

// RefreshNow triggers a run outside the schedule and waits for its report.
// It requires Start to be running.
func (s *Scheduler) RefreshNow(ctx context.Context) (model.RunReport, error) {
	done := make(chan model.RunReport, 1)
	req := refreshRequest{done: done}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return model.RunReport{}, ctx.Err()
	}

	select {
	case report := <-done:
		return report, nil
	case <-ctx.Done():
		return model.RunReport{}, ctx.Err()
	}
}

// RunOnce executes a single run on the calling goroutine. Writes committed
// before the budget runs out are kept.
func (s *Scheduler) RunOnce(ctx context.Context) model.RunReport {
	report := model.RunReport{StartedAt: s.now()}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	s.mu.Lock()
	s.runSeq++
	seq := s.runSeq
	s.state = model.RunStateIdle
	s.mu.Unlock()

	// Expiration hook: fires when the budget runs out or the caller cancels.
	stop := context.AfterFunc(runCtx, func() {
		s.mu.Lock()
		if s.runSeq == seq {
			s.state = model.RunStateExpired
		}
		s.mu.Unlock()
		slog.Warn("refresh run expired", "budget", s.cfg.Budget, "cause", runCtx.Err())
	})

	s.run(runCtx, &report)

	report.State = model.RunStateIdle
	if !stop() {
		report.State = model.RunStateExpired
	}
	report.FinishedAt = s.now()

	s.mu.Lock()
	s.state = report.State
	s.lastRun = &report
	s.mu.Unlock()

	slog.Info("refresh run complete",
		"state", report.State,
		"invalid", len(report.InvalidCredentials),
		"retried", report.Retried,
		"collections", report.CollectionsSynced,
		"items", report.ItemsSynced,
		"sync_errors", report.SyncErrors,
		"swept", report.EntriesSwept,
		"duration", report.Duration().Round(time.Millisecond),
	)

	return report
}

func (s *Scheduler) run(ctx context.Context, report *model.RunReport) {
	s.setState(model.RunStateValidating)
	invalid, err := s.validator.ValidateAll(ctx)
	if err != nil {
		slog.Error("validation failed", "error", err)
	}
	if ctx.Err() != nil {
		report.InvalidCredentials = invalid
		return
	}

	if len(invalid) > 0 {
		report.Retried = true
		slog.Info("retrying validation after back-off", "invalid", len(invalid), "backoff", s.cfg.RetryBackoff)

		if err := s.wait(ctx, s.cfg.RetryBackoff); err != nil {
			report.InvalidCredentials = invalid
			return
		}

		invalid, err = s.validator.ValidateAll(ctx)
		if err != nil {
			slog.Error("validation retry failed", "error", err)
		}
		if ctx.Err() != nil {
			report.InvalidCredentials = invalid
			return
		}
	}
	report.InvalidCredentials = invalid

	s.setState(model.RunStateSyncing)
	syncReport, err := s.syncer.SyncActive(ctx)
	if err != nil {
		slog.Error("sync failed", "error", err)
		report.SyncErrors++
	}
	report.CollectionsSynced = syncReport.Collections
	report.ItemsSynced = syncReport.Items
	report.SyncErrors += syncReport.Errors
	if ctx.Err() != nil {
		return
	}

	s.setState(model.RunStatePublishing)
	if err := s.publisher.PublishAll(ctx); err != nil {
		slog.Error("publish failed", "error", err)
	}
	if ctx.Err() != nil {
		return
	}

	swept, err := s.publisher.SweepExpired(ctx, s.cfg.SweepMaxAge)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("snapshot sweep incomplete", "error", err)
	}
	report.EntriesSwept = swept
}

// State returns the step the scheduler is currently in.
func (s *Scheduler) State() model.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastRun returns the report of the most recent completed or expired run.
func (s *Scheduler) LastRun() (model.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return model.RunReport{}, false
	}
	return *s.lastRun, true
}

// setState advances the current run. Expired is terminal for the run.
func (s *Scheduler) setState(state model.RunState) {
	s.mu.Lock()
	if s.state != model.RunStateExpired {
		s.state = state
	}
	s.mu.Unlock()
}
