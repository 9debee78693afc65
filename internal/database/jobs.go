package database

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// JobRunStatus is the outcome of a job run.
type JobRunStatus string

const (
	JobRunRunning   JobRunStatus = "running"
	JobRunCompleted JobRunStatus = "completed"
	JobRunFailed    JobRunStatus = "failed"
)

// JobRun is one execution of a scheduled job.
type JobRun struct {
	ID          uint         `gorm:"primarykey"`
	JobID       string       `gorm:"not null;index"`
	Status      JobRunStatus `gorm:"not null;index"`
	StartedAt   time.Time    `gorm:"not null;index"`
	CompletedAt *time.Time
	// Items is the number of rows the run changed or reported.
	Items int
	Error string
}

// Duration returns how long the run took, or 0 while it is running.
func (r *JobRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// JobStats aggregates the runs of one job.
type JobStats struct {
	JobID             string
	TotalRuns         int64
	SuccessfulRuns    int64
	FailedRuns        int64
	TotalItems        int64
	AverageDuration   time.Duration
	LastSuccessfulRun *time.Time
}

// JobDB defines the interface for job run journaling.
type JobDB interface {
	StartJobRun(ctx context.Context, jobID string) (*JobRun, error)
	CompleteJobRun(ctx context.Context, runID uint, items int, runErr error) error
	GetJobRuns(ctx context.Context, jobID string, page, pageSize int) ([]JobRun, int64, error)
	GetJobStats(ctx context.Context, since *time.Time) ([]JobStats, error)
}

// StartJobRun records the start of a job run.
func (c *Client) StartJobRun(ctx context.Context, jobID string) (*JobRun, error) {
	run := JobRun{
		JobID:     jobID,
		Status:    JobRunRunning,
		StartedAt: time.Now(),
	}
	if err := c.db.WithContext(ctx).Create(&run).Error; err != nil {
		log.Error("failed to create job run", "job", jobID, "error", err)
		return nil, err
	}
	return &run, nil
}

// CompleteJobRun records the end of a job run.
func (c *Client) CompleteJobRun(ctx context.Context, runID uint, items int, runErr error) error {
	now := time.Now()
	updates := map[string]any{
		"status":       JobRunCompleted,
		"completed_at": now,
		"items":        items,
	}
	if runErr != nil {
		updates["status"] = JobRunFailed
		updates["error"] = runErr.Error()
	}

	if err := c.db.WithContext(ctx).Model(&JobRun{}).Where("id = ?", runID).Updates(updates).Error; err != nil {
		log.Error("failed to complete job run", "run", runID, "error", err)
		return err
	}
	return nil
}

// GetJobRuns returns the runs of a job, newest first. An empty jobID returns every job.
func (c *Client) GetJobRuns(ctx context.Context, jobID string, page, pageSize int) ([]JobRun, int64, error) {
	q := c.db.WithContext(ctx).Model(&JobRun{})
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		log.Error("failed to count job runs", "error", err)
		return nil, 0, err
	}

	offset, limit := normalizePage(page, pageSize)
	var runs []JobRun
	result := q.Order("started_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&runs)
	if result.Error != nil && result.Error != gorm.ErrRecordNotFound {
		log.Error("failed to get job runs", "error", result.Error)
		return nil, 0, result.Error
	}
	return runs, total, nil
}

// GetJobStats aggregates the runs per job.
func (c *Client) GetJobStats(ctx context.Context, since *time.Time) ([]JobStats, error) {
	q := c.db.WithContext(ctx).Model(&JobRun{})
	if since != nil {
		q = q.Where("started_at >= ?", *since)
	}

	var runs []JobRun
	if err := q.Order("job_id").Find(&runs).Error; err != nil {
		log.Error("failed to get job stats", "error", err)
		return nil, err
	}

	// sqlite stores timestamps as text, so durations are computed here instead of in SQL
	byJob := map[string]*JobStats{}
	durations := map[string]time.Duration{}
	var order []string
	for i := range runs {
		r := &runs[i]
		s, ok := byJob[r.JobID]
		if !ok {
			s = &JobStats{JobID: r.JobID}
			byJob[r.JobID] = s
			order = append(order, r.JobID)
		}
		s.TotalRuns++
		s.TotalItems += int64(r.Items)
		switch r.Status {
		case JobRunCompleted:
			s.SuccessfulRuns++
			durations[r.JobID] += r.Duration()
			if r.CompletedAt != nil && (s.LastSuccessfulRun == nil || r.CompletedAt.After(*s.LastSuccessfulRun)) {
				t := *r.CompletedAt
				s.LastSuccessfulRun = &t
			}
		case JobRunFailed:
			s.FailedRuns++
		}
	}

	stats := make([]JobStats, 0, len(order))
	for _, id := range order {
		s := byJob[id]
		if s.SuccessfulRuns > 0 {
			s.AverageDuration = durations[id] / time.Duration(s.SuccessfulRuns)
		}
		stats = append(stats, *s)
	}
	return stats, nil
}
