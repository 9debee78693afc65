// Package scheduler runs the periodic maintenance jobs and keeps their status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
)

var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
)

// JobFunc is the work of a job.
type JobFunc func(ctx context.Context) error

// Job describes a job to register.
type Job struct {
	ID          string
	Name        string
	Description string
	// Schedule is a five field cron expression.
	Schedule string
	// Singleton jobs never overlap; a run that is due while one is active is rescheduled.
	Singleton bool
	// RunOnStart triggers one run as soon as the scheduler starts.
	RunOnStart bool
	Run        JobFunc
}

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      JobStatus `json:"status"`
	LastRun     time.Time `json:"lastRun"`
	NextRun     time.Time `json:"nextRun"`
	Schedule    string    `json:"schedule"`
	Enabled     bool      `json:"enabled"`
	RunCount    int       `json:"runCount"`
	ErrorCount  int       `json:"errorCount"`
	LastError   string    `json:"lastError,omitempty"`
	Singleton   bool      `json:"singleton"`
	RunOnStart  bool      `json:"runOnStart,omitempty"`

	gocronJob gocron.Job
}

// Scheduler manages scheduled jobs.
type Scheduler struct {
	gocron gocron.Scheduler

	mu   sync.RWMutex
	jobs map[string]*JobInfo

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New() (*Scheduler, error) {
	gocronScheduler, err := gocron.NewScheduler(gocron.WithLogger(newLogger("scheduler")))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		gocron: gocronScheduler,
		jobs:   make(map[string]*JobInfo),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	log.Info("Starting job scheduler")
	s.gocron.Start()

	s.mu.Lock()
	var instant []string
	for id, info := range s.jobs {
		if nextRun, err := info.gocronJob.NextRun(); err == nil {
			info.NextRun = nextRun
			log.Debug("Next run time for job", "id", id, "nextRun", nextRun)
		} else {
			log.Warn("Failed to get next run time for job", "id", id, "error", err)
		}
		if info.RunOnStart {
			instant = append(instant, id)
		}
	}
	s.mu.Unlock()

	for _, id := range instant {
		log.Info("Running job immediately after start", "id", id)
		if err := s.RunNow(id); err != nil {
			log.Error("Failed to run job immediately after start", "id", id, "error", err)
		}
	}
	log.Info("Job scheduler started", "jobs", len(s.jobs))
}

// Stop cancels running jobs and stops the scheduler.
func (s *Scheduler) Stop() error {
	log.Info("Stopping job scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// Add registers a job.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("job needs an id and a function")
	}
	schedule := strings.TrimSpace(job.Schedule)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s is already registered", job.ID)
	}

	var opts []gocron.JobOption
	opts = append(opts, gocron.WithName(job.ID))
	if job.Singleton {
		opts = append(opts, gocron.WithSingletonMode(gocron.LimitModeReschedule))
	}

	gj, err := s.gocron.NewJob(gocron.CronJob(schedule, false), gocron.NewTask(s.wrap(job.ID, job.Run)), opts...)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}

	s.jobs[job.ID] = &JobInfo{
		ID:          job.ID,
		Name:        job.Name,
		Description: job.Description,
		Status:      JobStatusScheduled,
		Schedule:    schedule,
		Enabled:     true,
		Singleton:   job.Singleton,
		RunOnStart:  job.RunOnStart,
		gocronJob:   gj,
	}
	log.Info("Added job to scheduler", "id", job.ID, "schedule", schedule, "singleton", job.Singleton)
	return nil
}

// RunNow triggers a job immediately. The run happens asynchronously.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	info, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	log.Info("Manually triggering job", "id", id, "name", info.Name)
	if err := info.gocronJob.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", id, err)
	}
	return nil
}

// Jobs returns a snapshot of all jobs sorted by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, info := range s.jobs {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return *info, true
}

// Enable enables a job.
func (s *Scheduler) Enable(id string) error {
	return s.setEnabled(id, true)
}

// Disable disables a job. Scheduled runs of a disabled job are skipped.
func (s *Scheduler) Disable(id string) error {
	return s.setEnabled(id, false)
}

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	info.Enabled = enabled
	if nextRun, err := info.gocronJob.NextRun(); err == nil {
		info.NextRun = nextRun
	}
	log.Info("Changed job state", "id", id, "enabled", enabled)
	return nil
}

// wrap updates the job statistics around each run.
func (s *Scheduler) wrap(id string, run JobFunc) func() {
	return func() {
		s.mu.Lock()
		info := s.jobs[id]
		if info == nil || !info.Enabled {
			s.mu.Unlock()
			log.Debug("Job is disabled, skipping", "id", id)
			return
		}
		info.Status = JobStatusRunning
		info.LastRun = time.Now()
		info.RunCount++
		name := info.Name
		s.mu.Unlock()

		log.Info("Starting job", "id", id, "name", name)
		err := run(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if nextRun, nerr := info.gocronJob.NextRun(); nerr == nil {
			info.NextRun = nextRun
		}
		if err != nil {
			log.Error("Job failed", "id", id, "name", name, "error", err)
			info.Status = JobStatusFailed
			info.ErrorCount++
			info.LastError = err.Error()
			return
		}
		log.Info("Job completed successfully", "id", id, "name", name)
		info.Status = JobStatusCompleted
		info.LastError = ""
	}
}
