// Package engine wires the CheckLoops services together and runs the scheduled jobs.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/checkloops/checkloops/internal/avatar"
	"github.com/checkloops/checkloops/internal/cache"
	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/diagnose"
	"github.com/checkloops/checkloops/internal/gpdirectory"
	"github.com/checkloops/checkloops/internal/gravatar"
	"github.com/checkloops/checkloops/internal/holiday"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/notify/email"
	"github.com/checkloops/checkloops/internal/quiz"
	"github.com/checkloops/checkloops/internal/scheduler"
	"github.com/checkloops/checkloops/internal/slots"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/internal/training"
	"github.com/checkloops/checkloops/internal/users"
	"github.com/checkloops/checkloops/pkg/supabase"
)

type inviteExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type holidayReconciler interface {
	CurrentYear() int
	Reconcile(ctx context.Context, siteID int64, year int, apply bool, actor string) (*holiday.ReconcileReport, error)
}

type trainingSource interface {
	Matrix(ctx context.Context, siteID int64, now time.Time) (*training.Matrix, error)
	Reminders(ctx context.Context, siteID int64, now time.Time) ([]training.Reminder, error)
}

type overdueSource interface {
	Overdue(ctx context.Context, siteID int64, now time.Time) ([]staff.MasterUser, error)
}

type notifier interface {
	Enabled() bool
	SendTrainingReminder(ctx context.Context, r email.TrainingReminder) error
	SendQuizReminder(ctx context.Context, r email.QuizReminder) error
}

type counter interface {
	CountUsers(ctx context.Context, siteID int64) (int, error)
	CountInvites(ctx context.Context, siteID int64, status staff.InviteStatus) (int, error)
	CountPendingHolidayRequests(ctx context.Context, siteID int64) (int, error)
	CountAttemptsSince(ctx context.Context, siteID int64, since time.Time) (int, error)
}

// Engine holds every service of the backend and the job scheduler.
type Engine struct {
	cfg       *config.Config
	db        database.DB
	supabase  *supabase.Client
	repo      *staff.Repository
	cache     *cache.EngineCache
	email     *email.NotificationService
	scheduler *scheduler.Scheduler

	invites   *invite.Service
	users     *users.Service
	holidays  *holiday.Service
	training  *training.Service
	quiz      *quiz.Service
	slots     *slots.Service
	avatars   *avatar.Service
	practices *gpdirectory.Client
	prober    *diagnose.Prober

	// narrow views used by jobs and the dashboard
	expirer    inviteExpirer
	reconciler holidayReconciler
	trainings  trainingSource
	overdue    overdueSource
	notifier   notifier
	counts     counter
	now        func() time.Time
}

// New creates a new Engine instance.
func New(cfg *config.Config, db database.DB) (*Engine, error) {
	sched, err := scheduler.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	client := supabase.New(supabase.Options{
		URL:            cfg.Supabase.URL,
		ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
		AnonKey:        cfg.Supabase.AnonKey,
		Timeout:        cfg.Supabase.Timeout,
		PageSize:       cfg.Supabase.PageSize,
	})
	repo := staff.New(client)
	engineCache := cache.NewEngineCache(cfg.Cache)
	emailService := email.New(cfg.Email, cfg.ServerURL)

	var mailer invite.Mailer
	if cfg.Invites.Delivery == config.InviteDeliverySMTP {
		if !emailService.Enabled() {
			log.Warn("Invites are delivered over SMTP but email is disabled, invites will fail")
		}
		mailer = emailService
	}

	e := &Engine{
		cfg:       cfg,
		db:        db,
		supabase:  client,
		repo:      repo,
		cache:     engineCache,
		email:     emailService,
		scheduler: sched,

		invites:   invite.New(repo, client, mailer, db, cfg),
		users:     users.New(repo, client, engineCache.RoleCache, db, cfg),
		holidays:  holiday.New(repo, db, cfg.Holiday),
		training:  training.New(repo, cfg.Training),
		quiz:      quiz.New(repo, db, cfg.Quiz),
		slots:     slots.New(repo, db),
		avatars:   avatar.New(repo, client, gravatar.New(cfg.Gravatar), db, cfg.Avatars),
		practices: gpdirectory.New(cfg.GPDirectory, engineCache),
		prober:    diagnose.New(client),
		now:       time.Now,
	}
	e.expirer = e.invites
	e.reconciler = e.holidays
	e.trainings = e.training
	e.overdue = e.quiz
	e.notifier = emailService
	e.counts = repo

	if err := e.setupJobs(); err != nil {
		return nil, fmt.Errorf("failed to setup jobs: %w", err)
	}
	return e, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.scheduler.Start()
	<-ctx.Done()
	return nil
}

// Close stops the engine and cleans up resources.
func (e *Engine) Close() error {
	return e.scheduler.Stop()
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// DB returns the local journal.
func (e *Engine) DB() database.DB { return e.db }

// Supabase returns the service role client.
func (e *Engine) Supabase() *supabase.Client { return e.supabase }

// Repository returns the typed table access.
func (e *Engine) Repository() *staff.Repository { return e.repo }

// Cache returns the shared caches.
func (e *Engine) Cache() *cache.EngineCache { return e.cache }

// Scheduler returns the job scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Service accessors.

func (e *Engine) Invites() *invite.Service { return e.invites }
func (e *Engine) Users() *users.Service { return e.users }
func (e *Engine) Holidays() *holiday.Service { return e.holidays }
func (e *Engine) Training() *training.Service { return e.training }
func (e *Engine) Quiz() *quiz.Service { return e.quiz }
func (e *Engine) Slots() *slots.Service { return e.slots }
func (e *Engine) Avatars() *avatar.Service { return e.avatars }
func (e *Engine) Practices() *gpdirectory.Client { return e.practices }
func (e *Engine) Prober() *diagnose.Prober { return e.prober }
