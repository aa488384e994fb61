// Package scheduler runs the fetch and monitor cycles on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

// JobFunc is one scheduled run.
type JobFunc func(ctx context.Context) error

// Scheduler triggers registered jobs every fixed interval. A tick that
// arrives while the previous run of the same job is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler.
func New(log logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}

	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a job under a unique name.
func (s *Scheduler) Add(name string, every time.Duration, job JobFunc) error {
	if every < time.Second {
		return fmt.Errorf("schedule %s: interval %s is below one second", name, every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("schedule %s: already registered", name)
	}

	id, err := s.cron.AddFunc("@every "+every.String(), func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.entries[name] = id

	s.log.Info("Job scheduled",
		logger.String("job", name),
		logger.Duration("every", every),
	)
	return nil
}

// Next returns the next activation of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins triggering jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) run(name string, job JobFunc) {
	started := time.Now()
	s.log.Info("Job started", logger.String("job", name))

	err := job(s.ctx)
	switch {
	case err == nil:
		s.log.Info("Job finished",
			logger.String("job", name),
			logger.Duration("duration", time.Since(started)),
		)
	case errors.Is(err, context.Canceled):
		s.log.Warn("Job cancelled", logger.String("job", name))
	default:
		s.log.Error("Job failed",
			logger.String("job", name),
			logger.Duration("duration", time.Since(started)),
			logger.Error(err),
		)
	}
}

// cronLogger adapts Logger to the cron package's logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logger.Any(key, kv[i+1]))
	}
	return out
}
