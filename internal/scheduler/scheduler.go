package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lyallcooper/primescan/internal/db"
	"github.com/lyallcooper/primescan/internal/primes"
	"github.com/lyallcooper/primescan/internal/services"
)

// Parser is the cron parser shared by the scheduler and the job form:
// standard five fields, no seconds.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler manages scheduled jobs
type Scheduler struct {
	db      *db.DB
	scanner *services.Scanner
	parser  cron.Parser
	tick    time.Duration

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
}

// New creates a new scheduler
func New(database *db.DB, scanner *services.Scanner) *Scheduler {
	return &Scheduler{
		db:      database,
		scanner: scanner,
		parser:  Parser,
		tick:    time.Minute,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	// Create cancellable context for all spawned jobs
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler, cancels scans it started and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs starts the first due job. Only one scan runs at a time, so the
// rest are picked up on a later tick.
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetEnabledJobs()
	if err != nil {
		log.Printf("scheduler: failed to get jobs: %v", err)
		return
	}

	now := time.Now()

	for _, job := range jobs {
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}

		h, err := s.RunJob(ctx, job)
		if errors.Is(err, services.ErrScanActive) {
			log.Printf("scheduler: job %d (%s) skipped, a scan is already active", job.ID, job.Name)
			s.advance(job, now)
			continue
		}
		if err != nil {
			log.Printf("scheduler: failed to start scan for job %d: %v", job.ID, err)
			continue
		}

		s.wg.Add(1)
		go s.watch(ctx, h)
		return
	}
}

// RunJob starts a scan of the job's range and records the run on the job
func (s *Scheduler) RunJob(ctx context.Context, job *db.ScheduledJob) (*services.ScanHandle, error) {
	log.Printf("scheduler: running job %d (%s)", job.ID, job.Name)

	h, err := s.scanner.StartRange(ctx, primes.Range{First: job.First, Last: job.Last}, &job.ID)
	if err != nil {
		return nil, err
	}

	nextRun := s.advance(job, time.Now())
	log.Printf("scheduler: started scan run %d for job %d, next run at %v", h.ID, job.ID, nextRun)

	return h, nil
}

// advance records a run attempt at now and schedules the next one
func (s *Scheduler) advance(job *db.ScheduledJob, now time.Time) time.Time {
	schedule, err := s.parser.Parse(job.CronExpression)
	if err != nil {
		log.Printf("scheduler: invalid cron expression for job %d: %v", job.ID, err)
		return time.Time{}
	}

	nextRun := schedule.Next(now)
	if err := s.db.UpdateJobLastRun(job.ID, now, nextRun); err != nil {
		log.Printf("scheduler: failed to update job last run: %v", err)
	}
	return nextRun
}

// watch follows a scheduled scan until its worker exits. If the scheduler
// stops first the scan is cancelled.
func (s *Scheduler) watch(ctx context.Context, h *services.ScanHandle) {
	defer s.wg.Done()

	if err := h.Wait(ctx); err == nil {
		return
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Cancel(cancelCtx); err != nil && !errors.Is(err, services.ErrNotActive) {
		log.Printf("scheduler: failed to cancel scan %d on shutdown: %v", h.ID, err)
	}
}

// UpdateNextRun updates the next run time for a job
func (s *Scheduler) UpdateNextRun(job *db.ScheduledJob) error {
	schedule, err := s.parser.Parse(job.CronExpression)
	if err != nil {
		return err
	}

	nextRun := schedule.Next(time.Now())
	job.NextRunAt = &nextRun

	return s.db.UpdateScheduledJob(job)
}
