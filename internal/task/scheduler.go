package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnknownJob is returned by RunOnce for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a named piece of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires registered jobs on their own tickers. Runs of the same
// job never overlap; a slow run delays the next tick instead of stacking.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:    make(map[string]Job),
		running: make(map[string]*sync.Mutex),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "scheduler"),
	}
}

// Register adds a job. Registering a name twice replaces the earlier job.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	if _, ok := s.running[job.Name]; !ok {
		s.running[job.Name] = &sync.Mutex{}
	}
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches a ticker goroutine per job with a positive interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(job)
	}
	s.logger.Info("scheduler started", "job_count", len(s.jobs))
}

// Stop cancels running jobs and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(s.ctx, job.Name); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("job failed", "job", job.Name, "error", err)
			}
		}
	}
}

// RunOnce runs the named job now and returns its error.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	lock := s.running[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := job.Run(ctx)
	s.logger.Debug("job finished",
		"job", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil)
	return err
}
