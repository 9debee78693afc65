package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/checkloops/checkloops/internal/api/auth"
	"github.com/checkloops/checkloops/internal/holiday"
	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/quiz"
	"github.com/checkloops/checkloops/internal/staff"
)

// avatarField is the multipart field of an avatar upload.
const avatarField = "file"

// profile loads the staff profile of the caller, writing the error response if there is none.
func (h *Handler) profile(c *gin.Context) (*staff.MasterUser, bool) {
	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return nil, false
	}
	p, err := h.Profiles.GetUserByAuthID(c.Request.Context(), user.AuthUserID)
	if err != nil {
		fail(c, err, "Failed to load profile")
		return nil, false
	}
	return p, true
}

// Me returns the staff profile of the caller.
func (h *Handler) Me(c *gin.Context) {
	p, found := h.profile(c)
	if !found {
		return
	}
	ok(c, p)
}

type acceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	FullName string `json:"full_name"`
	PIN      string `json:"pin"`
}

// AcceptInvite joins the caller to the site of an invite.
func (h *Handler) AcceptInvite(c *gin.Context) {
	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid or missing invite token")
		return
	}
	user := auth.CurrentUser(c)
	res, err := h.Invites.Accept(c.Request.Context(), invite.AcceptRequest{
		Token:      req.Token,
		AuthUserID: user.AuthUserID,
		Email:      user.Email,
		FullName:   req.FullName,
		PIN:        req.PIN,
	})
	if err != nil {
		fail(c, err, "Failed to accept invite")
		return
	}
	ok(c, res)
}

// AvatarURL returns the avatar of the caller.
func (h *Handler) AvatarURL(c *gin.Context) {
	url, err := h.Avatars.URL(c.Request.Context(), auth.CurrentUser(c).AuthUserID)
	if err != nil {
		fail(c, err, "Failed to resolve avatar")
		return
	}
	ok(c, gin.H{"url": url})
}

// UploadAvatar stores a new avatar for the caller.
func (h *Handler) UploadAvatar(c *gin.Context) {
	fh, err := c.FormFile(avatarField)
	if err != nil {
		badRequest(c, "Missing avatar file")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "Failed to read avatar file")
		return
	}
	defer f.Close() //nolint:errcheck

	id := auth.CurrentUser(c).AuthUserID
	url, err := h.Avatars.Upload(c.Request.Context(), id, f, id)
	if err != nil {
		fail(c, err, "Failed to upload avatar")
		return
	}
	ok(c, gin.H{"url": url})
}

// yearQuery reads the optional year parameter, defaulting to the current holiday year.
func (h *Handler) yearQuery(c *gin.Context) (int, bool) {
	s := c.Query("year")
	if s == "" {
		return h.Holidays.CurrentYear(), true
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 2000 || year > 2100 {
		badRequest(c, "Invalid year")
		return 0, false
	}
	return year, true
}

// MyHolidays returns the holiday balance of the caller.
func (h *Handler) MyHolidays(c *gin.Context) {
	p, found := h.profile(c)
	if !found {
		return
	}
	year, valid := h.yearQuery(c)
	if !valid {
		return
	}
	summary, err := h.Holidays.Summary(c.Request.Context(), p.ID, year)
	if err != nil {
		fail(c, err, "Failed to load holiday summary")
		return
	}
	ok(c, summary)
}

type validateHolidayRequest struct {
	StartDate     staff.Date `json:"start_date"`
	EndDate       staff.Date `json:"end_date"`
	DaysRequested float64    `json:"days_requested"`
}

type validateHolidayResponse struct {
	Days    float64          `json:"days"`
	Summary *holiday.Summary `json:"summary"`
}

// ValidateHoliday checks a prospective request of the caller against their balance.
func (h *Handler) ValidateHoliday(c *gin.Context) {
	var req validateHolidayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StartDate.IsZero() || req.EndDate.IsZero() {
		badRequest(c, "Invalid start_date or end_date")
		return
	}
	p, found := h.profile(c)
	if !found {
		return
	}
	year := h.Holidays.Calendar().YearOf(req.StartDate.Time)
	summary, err := h.Holidays.Summary(c.Request.Context(), p.ID, year)
	if err != nil {
		fail(c, err, "Failed to load holiday summary")
		return
	}
	days, err := h.Holidays.Validate(staff.HolidayRequest{
		UserID:        p.ID,
		SiteID:        p.SiteID,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		DaysRequested: req.DaysRequested,
	}, summary)
	if err != nil {
		fail(c, err, "Failed to validate holiday request")
		return
	}
	ok(c, validateHolidayResponse{Days: days, Summary: summary})
}

// DrawQuiz returns a random set of questions without their answers.
func (h *Handler) DrawQuiz(c *gin.Context) {
	n := 0
	if s := c.Query("n"); s != "" {
		v, err := parseUintParam(s)
		if err != nil || v > maxPageSize {
			badRequest(c, "Invalid question count")
			return
		}
		n = int(v)
	}
	questions, err := h.Quiz.Draw(c.Request.Context(), n)
	if err != nil {
		fail(c, err, "Failed to draw quiz")
		return
	}
	ok(c, questions)
}

type submitQuizRequest struct {
	Answers  []quiz.Answer `json:"answers"`
	Practice bool          `json:"practice"`
}

// SubmitQuiz scores the answers of the caller.
func (h *Handler) SubmitQuiz(c *gin.Context) {
	var req submitQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	p, found := h.profile(c)
	if !found {
		return
	}
	res, err := h.Quiz.Submit(c.Request.Context(), p.ID, req.Answers, req.Practice)
	if err != nil {
		fail(c, err, "Failed to submit quiz")
		return
	}
	ok(c, res)
}
