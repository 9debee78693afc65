// Package handler implements the HTTP endpoints of the CheckLoops API.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ccoveille/go-safecast"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/checkloops/checkloops/internal/api/auth"
	"github.com/checkloops/checkloops/internal/avatar"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/engine"
	"github.com/checkloops/checkloops/internal/gpdirectory"
	"github.com/checkloops/checkloops/internal/holiday"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/quiz"
	"github.com/checkloops/checkloops/internal/scheduler"
	"github.com/checkloops/checkloops/internal/slots"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/internal/training"
	"github.com/checkloops/checkloops/internal/users"
	"github.com/checkloops/checkloops/pkg/supabase"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type InviteService interface {
	Create(ctx context.Context, req invite.CreateRequest) (*staff.SiteInvite, error)
	Resend(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error)
	Cancel(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error)
	Revoke(ctx context.Context, id int64, actor string) (*staff.SiteInvite, error)
	Accept(ctx context.Context, req invite.AcceptRequest) (*invite.AcceptResult, error)
	List(ctx context.Context, siteID int64, status staff.InviteStatus) ([]staff.SiteInvite, error)
	SimpleInvite(ctx context.Context, req invite.CreateRequest) error
}

type UserService interface {
	CreateUser(ctx context.Context, req users.CreateRequest) (*staff.MasterUser, error)
	SetRole(ctx context.Context, authUserID, role, actor string) error
	SetKioskPIN(ctx context.Context, authUserID, pin, actor string) error
	List(ctx context.Context, siteID int64, activeOnly bool) ([]staff.MasterUser, error)
}

type HolidayService interface {
	CurrentYear() int
	Calendar() holiday.Calendar
	Summary(ctx context.Context, userID int64, year int) (*holiday.Summary, error)
	Validate(req staff.HolidayRequest, summary *holiday.Summary) (float64, error)
	Reconcile(ctx context.Context, siteID int64, year int, apply bool, actor string) (*holiday.ReconcileReport, error)
}

type TrainingService interface {
	Matrix(ctx context.Context, siteID int64, now time.Time) (*training.Matrix, error)
	Record(ctx context.Context, rec staff.TrainingRecord) (*staff.TrainingRecord, error)
}

type QuizService interface {
	Draw(ctx context.Context, n int) ([]quiz.PublicQuestion, error)
	Submit(ctx context.Context, userID int64, answers []quiz.Answer, practice bool) (*quiz.SubmitResult, error)
}

type SlotService interface {
	Save(ctx context.Context, siteID int64, mappings []slots.Mapping, actor string) ([]staff.SlotMapping, error)
	List(ctx context.Context, siteID int64) ([]staff.SlotMapping, error)
}

type AvatarService interface {
	Upload(ctx context.Context, authUserID string, r io.Reader, actor string) (string, error)
	URL(ctx context.Context, authUserID string) (string, error)
	List(ctx context.Context, limit, offset int) ([]avatar.Object, error)
}

type PracticeSearcher interface {
	Search(ctx context.Context, name, postcode string) ([]gpdirectory.Practice, error)
}

// ProfileLookup resolves staff profiles and invites, for the caller and for site checks.
type ProfileLookup interface {
	GetUserByAuthID(ctx context.Context, authUserID string) (*staff.MasterUser, error)
	GetUserByID(ctx context.Context, id int64) (*staff.MasterUser, error)
	GetInviteByID(ctx context.Context, id int64) (*staff.SiteInvite, error)
}

type DashboardSource interface {
	Dashboard(ctx context.Context, siteID int64) (*engine.Dashboard, error)
}

type JobScheduler interface {
	Jobs() []scheduler.JobInfo
	RunNow(id string) error
	Enable(id string) error
	Disable(id string) error
}

// Journal is the local job and audit history.
type Journal interface {
	GetJobRuns(ctx context.Context, jobID string, page, pageSize int) ([]database.JobRun, int64, error)
	GetAuditEvents(ctx context.Context, filter database.AuditFilter, page, pageSize int, sortOrder database.SortOrder) ([]database.AuditEvent, int64, error)
}

// Services are the dependencies of the handlers.
type Services struct {
	Invites   InviteService
	Users     UserService
	Holidays  HolidayService
	Training  TrainingService
	Quiz      QuizService
	Slots     SlotService
	Avatars   AvatarService
	Practices PracticeSearcher
	Profiles  ProfileLookup
	Dashboard DashboardSource
	Jobs      JobScheduler
	Journal   Journal
}

type Handler struct {
	Services
	now func() time.Time
}

func New(s Services) *Handler {
	return &Handler{Services: s, now: time.Now}
}

// Health reports that the server is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, invite.ErrInvalidEmail),
		errors.Is(err, invite.ErrInvalidRole),
		errors.Is(err, invite.ErrInvalidSite),
		errors.Is(err, invite.ErrUnknownStatus),
		errors.Is(err, users.ErrInvalidRole),
		errors.Is(err, users.ErrWeakPassword),
		errors.Is(err, users.ErrInvalidSiteID),
		errors.Is(err, staff.ErrInvalidPIN),
		errors.Is(err, holiday.ErrInvalidRange),
		errors.Is(err, holiday.ErrNoWorkingDays),
		errors.Is(err, training.ErrInvalidRecord),
		errors.Is(err, training.ErrUnknownTrainingType),
		errors.Is(err, quiz.ErrInvalidQuestion),
		errors.Is(err, quiz.ErrInvalidAnswer),
		errors.Is(err, quiz.ErrNoAnswers),
		errors.Is(err, quiz.ErrIncomplete),
		errors.Is(err, slots.ErrEmptySlotType),
		errors.Is(err, slots.ErrEmptyCategory),
		errors.Is(err, slots.ErrDuplicateSlotType),
		errors.Is(err, slots.ErrInvalidSite),
		errors.Is(err, avatar.ErrUnsupportedImage),
		errors.Is(err, gpdirectory.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, invite.ErrEmailMismatch),
		errors.Is(err, ErrOtherSite):
		return http.StatusForbidden
	case errors.Is(err, invite.ErrInviteNotFound),
		errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, holiday.ErrUserNotFound),
		errors.Is(err, quiz.ErrUserNotFound),
		errors.Is(err, quiz.ErrNoQuestions),
		errors.Is(err, avatar.ErrUserNotFound),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, staff.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, invite.ErrDuplicateInvite),
		errors.Is(err, invite.ErrAlreadyMember),
		errors.Is(err, invite.ErrInvalidTransition),
		errors.Is(err, users.ErrUserExists),
		errors.Is(err, staff.ErrStaleInvite):
		return http.StatusConflict
	case errors.Is(err, invite.ErrInviteExpired):
		return http.StatusGone
	case errors.Is(err, avatar.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, holiday.ErrInsufficientEntitlement):
		return http.StatusUnprocessableEntity
	case errors.Is(err, invite.ErrDeliveryFailed):
		return http.StatusBadGateway
	}
	if supabase.StatusCode(err) > 0 {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes the error response for err. Internal errors are logged and not exposed.
func fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "path", c.FullPath(), "error", err)
		if status == http.StatusInternalServerError {
			c.JSON(status, gin.H{"success": false, "error": msg})
			return
		}
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// actor returns the auth user id of the caller, used as audit actor.
func actor(c *gin.Context) string {
	if u := auth.CurrentUser(c); u != nil {
		return u.AuthUserID
	}
	return ""
}

func parseUintParam(param string) (uint, error) {
	var id uint64
	var err error
	if id, err = strconv.ParseUint(param, 10, 0); err != nil {
		return 0, err
	}
	return uint(id), nil
}

// parseID parses a positive row id.
func parseID(param string) (int64, error) {
	id, err := parseUintParam(param)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, strconv.ErrRange
	}
	return safecast.ToInt64(id)
}

// pagination reads page and pageSize, falling back to the defaults on bad input.
func pagination(c *gin.Context) (page, pageSize int, err error) {
	page, pageSize = 1, defaultPageSize
	if pageStr := c.Query("page"); pageStr != "" {
		if p, perr := parseUintParam(pageStr); perr == nil && p > 0 {
			if page, err = safecast.ToInt(p); err != nil {
				return 0, 0, err
			}
		}
	}
	if sizeStr := c.Query("pageSize"); sizeStr != "" {
		if ps, perr := parseUintParam(sizeStr); perr == nil && ps > 0 && ps <= maxPageSize {
			if pageSize, err = safecast.ToInt(ps); err != nil {
				return 0, 0, err
			}
		}
	}
	return page, pageSize, nil
}
