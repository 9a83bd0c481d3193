// Package scheduler runs periodic background jobs such as payment
// reconciliation and webhook ledger pruning.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/blueprintstore/internal/logging"
)

// Job is one periodic task. Run is called once per Interval; a returned
// error or a panic is logged and the job keeps its schedule.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of jobs and their tickers.
type Scheduler struct {
	logger  *slog.Logger
	jobs    []Job
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	running atomic.Int32
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger, stop: make(chan struct{})}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 {
		job.Interval = 5 * time.Minute
	}
	s.jobs = append(s.jobs, job)
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Running returns the number of job loops currently alive.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Start launches one loop per job and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		s.running.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop ends every job loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	defer s.running.Add(-1)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeRun(ctx, job)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) {
	log := s.logger.With("job", job.Name)
	defer func() {
		if r := recover(); r != nil {
			jobRuns.WithLabelValues(job.Name, "panic").Inc()
			log.Error("panic in scheduled job", "panic", fmt.Sprint(r))
		}
	}()

	if err := job.Run(logging.WithLogger(ctx, log)); err != nil {
		jobRuns.WithLabelValues(job.Name, "error").Inc()
		log.Warn("scheduled job failed", "error", err)
		return
	}
	jobRuns.WithLabelValues(job.Name, "ok").Inc()
}
