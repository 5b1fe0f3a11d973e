// Package scheduler runs vidmux housekeeping on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is one unit of scheduled work.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	fn   TaskFunc
}

// Scheduler runs named tasks on a shared cron expression. Expressions have
// six fields, seconds first, e.g. "0 */15 * * * *".
type Scheduler struct {
	mu sync.Mutex

	cron   *cron.Cron
	parser cron.Parser
	tasks  []task
	logger *slog.Logger

	// Running state
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewScheduler creates a scheduler with no tasks.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser)),
		parser: parser,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// ValidateSpec reports whether spec is a valid schedule.
func (s *Scheduler) ValidateSpec(spec string) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Add registers fn to run on spec. Overlapping runs of the same task are skipped.
func (s *Scheduler) Add(name, spec string, fn TaskFunc) error {
	if err := s.ValidateSpec(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := task{name: name, fn: fn}
	s.tasks = append(s.tasks, t)

	var busy sync.Mutex
	_, err := s.cron.AddFunc(spec, func() {
		if !busy.TryLock() {
			s.logger.Warn("skipping scheduled task, previous run still active", slog.String("task", name))
			return
		}
		defer busy.Unlock()
		s.run(s.runContext(), t)
	})
	return err
}

// Start begins running scheduled tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop halts the schedule and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.running.Wait()

	s.mu.Lock()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow runs every registered task once, synchronously, and returns the first error.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]task(nil), s.tasks...)
	s.mu.Unlock()

	var firstErr error
	for _, t := range tasks {
		if err := s.run(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, t task) error {
	s.running.Add(1)
	defer s.running.Done()

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled task failed",
			slog.String("task", t.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", t.name, err)
	}
	s.logger.DebugContext(ctx, "scheduled task completed",
		slog.String("task", t.name),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
