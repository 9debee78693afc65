package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/checkloops/checkloops/internal/api/auth"
	"github.com/checkloops/checkloops/internal/api/models"
	"github.com/checkloops/checkloops/internal/avatar"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/gpdirectory"
	"github.com/checkloops/checkloops/internal/holiday"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/quiz"
	"github.com/checkloops/checkloops/internal/scheduler"
	"github.com/checkloops/checkloops/internal/staff"
	"github.com/checkloops/checkloops/pkg/supabase"
)

const callerID = "caller-uuid"

type fakeInvites struct {
	InviteService
	created  invite.CreateRequest
	accepted invite.AcceptRequest
	touched  []int64
	err      error
}

func (f *fakeInvites) Cancel(_ context.Context, id int64, _ string) (*staff.SiteInvite, error) {
	f.touched = append(f.touched, id)
	return &staff.SiteInvite{ID: id, SiteID: 3, Status: staff.InviteStatusCancelled}, nil
}

func (f *fakeInvites) Revoke(_ context.Context, id int64, _ string) (*staff.SiteInvite, error) {
	f.touched = append(f.touched, id)
	return &staff.SiteInvite{ID: id, SiteID: 3, Status: staff.InviteStatusRevoked}, nil
}

func (f *fakeInvites) Create(_ context.Context, req invite.CreateRequest) (*staff.SiteInvite, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &staff.SiteInvite{ID: 1, Email: req.Email, SiteID: req.SiteID, Status: staff.InviteStatusPending}, nil
}

func (f *fakeInvites) Accept(_ context.Context, req invite.AcceptRequest) (*invite.AcceptResult, error) {
	f.accepted = req
	if f.err != nil {
		return nil, f.err
	}
	return &invite.AcceptResult{Invite: &staff.SiteInvite{ID: 1, Status: staff.InviteStatusAccepted}}, nil
}

func (f *fakeInvites) List(_ context.Context, siteID int64, status staff.InviteStatus) ([]staff.SiteInvite, error) {
	if status != "" && status != staff.InviteStatusPending {
		return nil, fmt.Errorf("%w %q", invite.ErrUnknownStatus, status)
	}
	return []staff.SiteInvite{{ID: 1, SiteID: siteID}}, nil
}

// fakeProfiles knows the caller (site 3) and one member and invite of site 4.
type fakeProfiles struct{}

var testProfiles = []staff.MasterUser{
	{ID: 7, AuthUserID: callerID, SiteID: 3},
	{ID: 8, AuthUserID: "elsewhere-uuid", SiteID: 4},
}

func (fakeProfiles) GetUserByAuthID(_ context.Context, id string) (*staff.MasterUser, error) {
	for _, u := range testProfiles {
		if u.AuthUserID == id {
			return &u, nil
		}
	}
	return nil, staff.ErrNotFound
}

func (fakeProfiles) GetUserByID(_ context.Context, id int64) (*staff.MasterUser, error) {
	for _, u := range testProfiles {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, staff.ErrNotFound
}

func (fakeProfiles) GetInviteByID(_ context.Context, id int64) (*staff.SiteInvite, error) {
	switch id {
	case 1:
		return &staff.SiteInvite{ID: 1, SiteID: 3}, nil
	case 2:
		return &staff.SiteInvite{ID: 2, SiteID: 4}, nil
	}
	return nil, staff.ErrNotFound
}

type fakeUsers struct {
	UserService
	roles map[string]string
}

func (f *fakeUsers) SetRole(_ context.Context, authUserID, role, _ string) error {
	f.roles[authUserID] = role
	return nil
}

type fakeQuiz struct {
	QuizService
	userID int64
}

func (f *fakeQuiz) Submit(_ context.Context, userID int64, answers []quiz.Answer, practice bool) (*quiz.SubmitResult, error) {
	f.userID = userID
	if len(answers) == 0 {
		return nil, quiz.ErrNoAnswers
	}
	return &quiz.SubmitResult{Attempt: &staff.QuizAttempt{UserID: userID}, Practice: practice}, nil
}

type fakeHolidays struct {
	HolidayService
	remaining float64
}

func (fakeHolidays) CurrentYear() int { return 2025 }

func (fakeHolidays) Calendar() holiday.Calendar { return holiday.NewCalendar(4) }

func (f fakeHolidays) Summary(_ context.Context, userID int64, year int) (*holiday.Summary, error) {
	return &holiday.Summary{UserID: userID, Year: year, Entitlement: 25, Remaining: f.remaining}, nil
}

func (f fakeHolidays) Validate(req staff.HolidayRequest, s *holiday.Summary) (float64, error) {
	days := float64(holiday.WorkingDays(req.StartDate, req.EndDate))
	if days > s.Remaining {
		return days, holiday.ErrInsufficientEntitlement
	}
	return days, nil
}

type fakeAvatars struct {
	AvatarService
	body []byte
}

func (f *fakeAvatars) Upload(_ context.Context, id string, r io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.body = b
	return "https://cdn.example.com/avatars/" + id + ".png?v=1", nil
}

type fakePractices struct{ name, postcode string }

func (f *fakePractices) Search(_ context.Context, name, postcode string) ([]gpdirectory.Practice, error) {
	f.name, f.postcode = name, postcode
	if name == "" && postcode == "" {
		return nil, gpdirectory.ErrEmptyQuery
	}
	return []gpdirectory.Practice{{Code: "A81001", Name: "THE DENSHAM SURGERY"}}, nil
}

type fakeJobs struct{ JobScheduler }

func (fakeJobs) RunNow(id string) error {
	if id != "expire_invites" {
		return fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, id)
	}
	return nil
}

type fakeJournal struct {
	filter         database.AuditFilter
	page, pageSize int
}

func (f *fakeJournal) GetJobRuns(context.Context, string, int, int) ([]database.JobRun, int64, error) {
	return nil, 0, nil
}

func (f *fakeJournal) GetAuditEvents(_ context.Context, filter database.AuditFilter, page, pageSize int, _ database.SortOrder) ([]database.AuditEvent, int64, error) {
	f.filter, f.page, f.pageSize = filter, page, pageSize
	return []database.AuditEvent{{Model: gorm.Model{ID: 1}, Actor: callerID, Action: database.AuditInviteCreated, EventTime: time.Now().Add(-time.Hour)}}, 101, nil
}

type testEnv struct {
	router    *gin.Engine
	invites   *fakeInvites
	quiz      *fakeQuiz
	avatars   *fakeAvatars
	practices *fakePractices
	journal   *fakeJournal
	users     *fakeUsers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		invites:   &fakeInvites{},
		quiz:      &fakeQuiz{},
		avatars:   &fakeAvatars{},
		practices: &fakePractices{},
		journal:   &fakeJournal{},
		users:     &fakeUsers{roles: map[string]string{}},
	}
	h := New(Services{
		Invites:   env.invites,
		Users:     env.users,
		Holidays:  fakeHolidays{remaining: 3},
		Quiz:      env.quiz,
		Avatars:   env.avatars,
		Practices: env.practices,
		Profiles:  fakeProfiles{},
		Jobs:      fakeJobs{},
		Journal:   env.journal,
	})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		id := c.GetHeader("X-Test-User")
		if id == "" {
			id = callerID
		}
		c.Set(auth.UserKey, &models.User{AuthUserID: id, Email: "me@example.com", SiteID: 3, IsAdmin: true})
	})
	r.POST("/invite-user", h.InviteUser)
	r.POST("/cancel-invite", h.CancelInvite)
	r.GET("/fetch-gp-practices", h.FetchGPPractices)
	r.POST("/fetch-gp-practices", h.FetchGPPractices)
	r.POST("/invites/accept", h.AcceptInvite)
	r.GET("/invites", h.ListInvites)
	r.POST("/invites/:id/revoke", h.RevokeInvite)
	r.PUT("/users/:authUserId/role", h.SetUserRole)
	r.GET("/holidays/users/:id", h.UserHolidays)
	r.POST("/quiz/submit", h.SubmitQuiz)
	r.POST("/holidays/validate", h.ValidateHoliday)
	r.POST("/avatar", h.UploadAvatar)
	r.POST("/jobs/:id/run", h.RunJob)
	r.GET("/audit", h.GetAudit)
	env.router = r
	return env
}

func (e *testEnv) do(method, path string, body any, user string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{invite.ErrInvalidEmail, http.StatusBadRequest},
		{fmt.Errorf("%w: role", invite.ErrInvalidRole), http.StatusBadRequest},
		{fmt.Errorf("%w: 1 of 3 questions answered", quiz.ErrIncomplete), http.StatusBadRequest},
		{invite.ErrEmailMismatch, http.StatusForbidden},
		{staff.ErrNotFound, http.StatusNotFound},
		{invite.ErrDuplicateInvite, http.StatusConflict},
		{invite.ErrInviteExpired, http.StatusGone},
		{avatar.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{holiday.ErrInsufficientEntitlement, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: smtp", invite.ErrDeliveryFailed), http.StatusBadGateway},
		{&supabase.Error{Status: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestInviteUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/invite-user", map[string]any{"email": "new@example.com", "role": "staff", "site_id": 3}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, callerID, env.invites.created.InvitedBy)
	assert.Equal(t, int64(3), env.invites.created.SiteID)
	assert.Equal(t, true, decode(t, w)["success"])

	env.invites.err = invite.ErrDuplicateInvite
	w = env.do(http.MethodPost, "/invite-user", map[string]any{"email": "new@example.com"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, invite.ErrDuplicateInvite.Error(), decode(t, w)["error"])

	env.invites.err = errors.New("connection reset by peer")
	w = env.do(http.MethodPost, "/invite-user", map[string]any{"email": "new@example.com"}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to create invite", decode(t, w)["error"])
}

func TestCancelInviteRequiresID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/cancel-invite", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFetchGPPractices(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/fetch-gp-practices", map[string]any{"name": "densham", "postcode": "TR2 5JU"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "densham", env.practices.name)

	w = env.do(http.MethodGet, "/fetch-gp-practices?postcode=TR2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TR2", env.practices.postcode)

	w = env.do(http.MethodGet, "/fetch-gp-practices", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptInviteUsesCaller(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/invites/accept", map[string]any{"token": "tok", "full_name": "Ann"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, callerID, env.invites.accepted.AuthUserID)
	assert.Equal(t, "me@example.com", env.invites.accepted.Email)
	assert.Equal(t, "tok", env.invites.accepted.Token)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/invites/accept", map[string]any{}, "").Code)

	env.invites.err = invite.ErrInviteExpired
	assert.Equal(t, http.StatusGone, env.do(http.MethodPost, "/invites/accept", map[string]any{"token": "tok"}, "").Code)
}

func TestListInvites(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/invites", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/invites?site_id=0", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/invites?site_id=3&status=pending", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/invites?site_id=3&status=bogus", nil, "").Code)
}

func TestSubmitQuizUsesProfile(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{"answers": []map[string]any{{"question_id": 1, "option_id": 2}}}
	w := env.do(http.MethodPost, "/quiz/submit", body, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), env.quiz.userID)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/quiz/submit", map[string]any{}, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/quiz/submit", body, "stranger").Code)
}

func TestValidateHoliday(t *testing.T) {
	env := newTestEnv(t)

	// Mon to Wed
	w := env.do(http.MethodPost, "/holidays/validate", map[string]any{"start_date": "2025-06-02", "end_date": "2025-06-04"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.InDelta(t, 3, data["days"], 0.001)
	assert.InDelta(t, 2025, data["summary"].(map[string]any)["year"], 0.001)

	w = env.do(http.MethodPost, "/holidays/validate", map[string]any{"start_date": "2025-06-02", "end_date": "2025-06-06"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(http.MethodPost, "/holidays/validate", map[string]any{"start_date": "2025-06-02"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAvatar(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(avatarField, "me.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", string(env.avatars.body))
	assert.Contains(t, w.Body.String(), callerID+".png?v=1")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/avatar", nil, "").Code)
}

func TestRunJob(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/jobs/expire_invites/run", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/jobs/nope/run", nil, "").Code)
}

func TestGetAudit(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/audit?page=2&pageSize=500&action=invite_created&site_id=3", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, env.journal.page)
	assert.Equal(t, defaultPageSize, env.journal.pageSize)
	assert.Equal(t, database.AuditInviteCreated, env.journal.filter.Action)
	assert.Equal(t, int64(3), env.journal.filter.SiteID)

	data := decode(t, w)["data"].(map[string]any)
	assert.InDelta(t, 3, data["total_pages"], 0.001)
	item := data["items"].([]any)[0].(map[string]any)
	assert.Contains(t, item["ago"], "hour ago")

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/audit?since=yesterday", nil, "").Code)
}

func TestAdminStaysOnOwnSite(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/invite-user", map[string]any{"email": "new@example.com", "role": "staff", "site_id": 4}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ErrOtherSite.Error(), decode(t, w)["error"])
	assert.Empty(t, env.invites.created.Email)

	w = env.do(http.MethodPost, "/invite-user", map[string]any{"email": "new@example.com", "role": "staff"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), env.invites.created.SiteID)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/invites?site_id=4", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/audit?site_id=4", nil, "").Code)

	w = env.do(http.MethodGet, "/audit", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), env.journal.filter.SiteID)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/cancel-invite", map[string]any{"invite_id": 2}, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/invites/2/revoke", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/invites/9/revoke", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/invites/1/revoke", nil, "").Code)
	assert.Equal(t, []int64{1}, env.invites.touched)

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPut, "/users/elsewhere-uuid/role", map[string]any{"role": "admin"}, "").Code)
	assert.Empty(t, env.users.roles)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPut, "/users/"+callerID+"/role", map[string]any{"role": "admin"}, "").Code)
	assert.Equal(t, "admin", env.users.roles[callerID])

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/holidays/users/8", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/holidays/users/7", nil, "").Code)
}
