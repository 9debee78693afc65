package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/notify/email"
	"github.com/checkloops/checkloops/internal/scheduler"
	"github.com/checkloops/checkloops/internal/training"
)

// Job ids.
const (
	JobExpireInvites     = "expire_invites"
	JobReconcileHolidays = "reconcile_holidays"
	JobTrainingReminders = "training_reminders"
	JobQuizReminders     = "quiz_reminders"
)

// itemFunc is a job body returning the number of rows it changed or reported.
type itemFunc func(ctx context.Context) (int, error)

// setupJobs configures all scheduled jobs.
func (e *Engine) setupJobs() error {
	jobs := []scheduler.Job{
		{
			ID:          JobExpireInvites,
			Name:        "Expire Invites",
			Description: "Marks pending invites past their expiry as expired",
			Schedule:    e.cfg.Invites.ExpireSchedule,
			Singleton:   true,
			RunOnStart:  true,
			Run:         e.journaled(JobExpireInvites, e.expireInvites),
		},
		{
			ID:          JobReconcileHolidays,
			Name:        "Reconcile Holidays",
			Description: "Recomputes holiday balances from approved requests",
			Schedule:    e.cfg.Holiday.ReconcileSchedule,
			Singleton:   true,
			Run:         e.journaled(JobReconcileHolidays, e.reconcileHolidays),
		},
		{
			ID:          JobQuizReminders,
			Name:        "Quiz Reminders",
			Description: "Emails staff whose compliance quiz is overdue",
			Schedule:    e.cfg.Quiz.ReminderSchedule,
			Singleton:   true,
			Run:         e.journaled(JobQuizReminders, e.quizReminders),
		},
	}
	if e.cfg.Training.RemindersEnabled {
		jobs = append(jobs, scheduler.Job{
			ID:          JobTrainingReminders,
			Name:        "Training Reminders",
			Description: "Emails staff with expired or soon expiring training",
			Schedule:    e.cfg.Training.ReminderSchedule,
			Singleton:   true,
			Run:         e.journaled(JobTrainingReminders, e.trainingReminders),
		})
	}

	for _, job := range jobs {
		if err := e.scheduler.Add(job); err != nil {
			return fmt.Errorf("failed to add %s job: %w", job.ID, err)
		}
	}
	log.Info("Scheduled jobs configured successfully", "jobs", len(jobs))
	return nil
}

// journaled records every run of a job in the local journal and in the metrics.
func (e *Engine) journaled(jobID string, fn itemFunc) scheduler.JobFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		var run *database.JobRun
		if e.db != nil {
			var err error
			if run, err = e.db.StartJobRun(ctx, jobID); err != nil {
				log.Warn("Failed to journal job start", "job", jobID, "error", err)
			}
		}

		items, err := fn(ctx)

		if run != nil {
			if cerr := e.db.CompleteJobRun(context.WithoutCancel(ctx), run.ID, items, err); cerr != nil {
				log.Warn("Failed to journal job completion", "job", jobID, "error", cerr)
			}
		}

		status := string(database.JobRunCompleted)
		if err != nil {
			status = string(database.JobRunFailed)
		}
		jobRunsTotal.WithLabelValues(jobID, status).Inc()
		jobItemsTotal.WithLabelValues(jobID).Add(float64(items))
		jobDuration.WithLabelValues(jobID).Observe(time.Since(start).Seconds())
		return err
	}
}

// RunJob runs a job synchronously, bypassing the schedule. Used by the CLI.
func (e *Engine) RunJob(ctx context.Context, jobID string) (int, error) {
	var fn itemFunc
	switch jobID {
	case JobExpireInvites:
		fn = e.expireInvites
	case JobReconcileHolidays:
		fn = e.reconcileHolidays
	case JobTrainingReminders:
		fn = e.trainingReminders
	case JobQuizReminders:
		fn = e.quizReminders
	default:
		return 0, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, jobID)
	}
	var items int
	err := e.journaled(jobID, func(ctx context.Context) (int, error) {
		n, err := fn(ctx)
		items = n
		return n, err
	})(ctx)
	return items, err
}

func (e *Engine) expireInvites(ctx context.Context) (int, error) {
	return e.expirer.ExpireStale(ctx, e.now())
}

func (e *Engine) reconcileHolidays(ctx context.Context) (int, error) {
	year := e.reconciler.CurrentYear()
	var (
		items int
		errs  []error
	)
	for _, site := range e.cfg.Sites {
		report, err := e.reconciler.Reconcile(ctx, site, year, e.cfg.Holiday.AutoApply, database.SystemActor)
		if report != nil {
			items += len(report.Discrepancies)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", site, err))
		}
	}
	return items, errors.Join(errs...)
}

func (e *Engine) trainingReminders(ctx context.Context) (int, error) {
	if !e.notifier.Enabled() {
		log.Debug("Email notifications are disabled, skipping training reminders")
		return 0, nil
	}
	now := e.now()
	var (
		sent int
		errs []error
	)
	for _, site := range e.cfg.Sites {
		reminders, err := e.trainings.Reminders(ctx, site, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", site, err))
			continue
		}
		for _, r := range reminders {
			mail := email.TrainingReminder{
				Email: r.Email,
				Name:  r.Name,
				Items: lo.Map(r.Items, func(c training.Cell, _ int) email.TrainingItem {
					item := email.TrainingItem{Training: c.Training, Status: string(c.Status), StatusLabel: c.Status.Label()}
					if c.ExpiresAt != nil {
						item.ExpiresAt = c.ExpiresAt.Time
					}
					return item
				}),
			}
			if err := e.notifier.SendTrainingReminder(ctx, mail); err != nil {
				log.Error("Failed to send training reminder", "user", r.Email, "error", err)
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (e *Engine) quizReminders(ctx context.Context) (int, error) {
	if !e.notifier.Enabled() {
		log.Debug("Email notifications are disabled, skipping quiz reminders")
		return 0, nil
	}
	now := e.now()
	var (
		sent int
		errs []error
	)
	for _, site := range e.cfg.Sites {
		overdue, err := e.overdue.Overdue(ctx, site, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("site %d: %w", site, err))
			continue
		}
		for _, u := range overdue {
			mail := email.QuizReminder{Email: u.Email, Name: u.FullName}
			if u.NextQuizDue != nil {
				mail.DueAt = *u.NextQuizDue
			}
			if err := e.notifier.SendQuizReminder(ctx, mail); err != nil {
				log.Error("Failed to send quiz reminder", "user", u.Email, "error", err)
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}
