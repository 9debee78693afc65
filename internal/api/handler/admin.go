package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/api/models"
	"github.com/checkloops/checkloops/internal/database"
	"github.com/checkloops/checkloops/internal/staff"
)

// ListInvites returns the invites of a site, optionally filtered by status.
func (h *Handler) ListInvites(c *gin.Context) {
	siteID, valid := siteQuery(c)
	if !valid {
		return
	}
	invites, err := h.Invites.List(c.Request.Context(), siteID, staff.InviteStatus(c.Query("status")))
	if err != nil {
		fail(c, err, "Failed to list invites")
		return
	}
	ok(c, invites)
}

// ResendInvite re-delivers a pending invite.
func (h *Handler) ResendInvite(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid invite ID")
		return
	}
	if !h.ownInvite(c, id) {
		return
	}
	inv, err := h.Invites.Resend(c.Request.Context(), id, actor(c))
	if err != nil {
		fail(c, err, "Failed to resend invite")
		return
	}
	ok(c, inv)
}

// RevokeInvite revokes a pending invite.
func (h *Handler) RevokeInvite(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid invite ID")
		return
	}
	if !h.ownInvite(c, id) {
		return
	}
	inv, err := h.Invites.Revoke(c.Request.Context(), id, actor(c))
	if err != nil {
		fail(c, err, "Failed to revoke invite")
		return
	}
	ok(c, inv)
}

// ListUsers returns the staff of a site. Pass active=false to include inactive staff.
func (h *Handler) ListUsers(c *gin.Context) {
	siteID, valid := siteQuery(c)
	if !valid {
		return
	}
	activeOnly := c.DefaultQuery("active", "true") != "false"
	list, err := h.Users.List(c.Request.Context(), siteID, activeOnly)
	if err != nil {
		fail(c, err, "Failed to list users")
		return
	}
	ok(c, list)
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetUserRole changes the access type of a user.
func (h *Handler) SetUserRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing role")
		return
	}
	if !h.ownAuthUser(c, c.Param("authUserId")) {
		return
	}
	if err := h.Users.SetRole(c.Request.Context(), c.Param("authUserId"), req.Role, actor(c)); err != nil {
		fail(c, err, "Failed to set role")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Role updated"})
}

type setPINRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// SetUserPIN sets the kiosk PIN of a user.
func (h *Handler) SetUserPIN(c *gin.Context) {
	var req setPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing pin")
		return
	}
	if !h.ownAuthUser(c, c.Param("authUserId")) {
		return
	}
	if err := h.Users.SetKioskPIN(c.Request.Context(), c.Param("authUserId"), req.PIN, actor(c)); err != nil {
		fail(c, err, "Failed to set kiosk PIN")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Kiosk PIN updated"})
}

// UserHolidays returns the holiday balance of a user on the caller's site.
func (h *Handler) UserHolidays(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid user ID")
		return
	}
	if !h.ownMember(c, userID) {
		return
	}
	year, valid := h.yearQuery(c)
	if !valid {
		return
	}
	summary, err := h.Holidays.Summary(c.Request.Context(), userID, year)
	if err != nil {
		fail(c, err, "Failed to load holiday summary")
		return
	}
	ok(c, summary)
}

type reconcileRequest struct {
	SiteID int64 `json:"site_id"`
	Year   int   `json:"year"`
	Apply  bool  `json:"apply"`
}

// ReconcileHolidays compares stored balances with the approved requests of a site.
func (h *Handler) ReconcileHolidays(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SiteID < 0 {
		badRequest(c, "Invalid request body")
		return
	}
	site, valid := ownSite(c, req.SiteID)
	if !valid {
		return
	}
	if req.Year == 0 {
		req.Year = h.Holidays.CurrentYear()
	}
	report, err := h.Holidays.Reconcile(c.Request.Context(), site, req.Year, req.Apply, actor(c))
	if err != nil {
		fail(c, err, "Failed to reconcile holidays")
		return
	}
	ok(c, report)
}

// TrainingMatrix returns the training status of every member of a site.
func (h *Handler) TrainingMatrix(c *gin.Context) {
	siteID, valid := siteQuery(c)
	if !valid {
		return
	}
	matrix, err := h.Training.Matrix(c.Request.Context(), siteID, h.now())
	if err != nil {
		fail(c, err, "Failed to build training matrix")
		return
	}
	ok(c, matrix)
}

// RecordTraining stores a completed training.
func (h *Handler) RecordTraining(c *gin.Context) {
	var rec staff.TrainingRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, "Invalid training record")
		return
	}
	site, valid := ownSite(c, rec.SiteID)
	if !valid {
		return
	}
	rec.SiteID = site
	if rec.UserID > 0 && !h.ownMember(c, rec.UserID) {
		return
	}
	saved, err := h.Training.Record(c.Request.Context(), rec)
	if err != nil {
		fail(c, err, "Failed to record training")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": saved})
}

// ListSlotMappings returns the slot mappings of a site.
func (h *Handler) ListSlotMappings(c *gin.Context) {
	siteID, valid := siteQuery(c)
	if !valid {
		return
	}
	mappings, err := h.Slots.List(c.Request.Context(), siteID)
	if err != nil {
		fail(c, err, "Failed to list slot mappings")
		return
	}
	ok(c, mappings)
}

// ListAvatars returns one page of the stored avatars.
func (h *Handler) ListAvatars(c *gin.Context) {
	page, pageSize, err := pagination(c)
	if err != nil {
		badRequest(c, "Invalid pagination")
		return
	}
	objects, err := h.Avatars.List(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		fail(c, err, "Failed to list avatars")
		return
	}
	ok(c, objects)
}

// Dashboard returns the overview counts of a site.
func (h *Handler) Dashboard(c *gin.Context) {
	siteID, valid := siteQuery(c)
	if !valid {
		return
	}
	d, err := h.Services.Dashboard.Dashboard(c.Request.Context(), siteID)
	if err != nil {
		fail(c, err, "Failed to load dashboard")
		return
	}
	ok(c, d)
}

// ListJobs returns the scheduled jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	ok(c, h.Jobs.Jobs())
}

// RunJob triggers a job outside its schedule.
func (h *Handler) RunJob(c *gin.Context) {
	if err := h.Jobs.RunNow(c.Param("id")); err != nil {
		fail(c, err, "Failed to run job")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Job started"})
}

// EnableJob resumes a disabled job.
func (h *Handler) EnableJob(c *gin.Context) {
	if err := h.Jobs.Enable(c.Param("id")); err != nil {
		fail(c, err, "Failed to enable job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Job enabled"})
}

// DisableJob pauses a job.
func (h *Handler) DisableJob(c *gin.Context) {
	if err := h.Jobs.Disable(c.Param("id")); err != nil {
		fail(c, err, "Failed to disable job")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Job disabled"})
}

// GetJobHistory returns paginated job runs, optionally for one job.
func (h *Handler) GetJobHistory(c *gin.Context) {
	page, pageSize, err := pagination(c)
	if err != nil {
		badRequest(c, "Invalid pagination")
		return
	}
	runs, total, err := h.Journal.GetJobRuns(c.Request.Context(), c.Query("jobId"), page, pageSize)
	if err != nil {
		fail(c, err, "Failed to get job history")
		return
	}
	ok(c, models.NewPagedResponse(models.ToJobRunItems(runs), total, page, pageSize))
}

// GetAudit returns paginated audit events of the caller's site.
func (h *Handler) GetAudit(c *gin.Context) {
	page, pageSize, err := pagination(c)
	if err != nil {
		badRequest(c, "Invalid pagination")
		return
	}
	filter := database.AuditFilter{
		Action:  database.AuditAction(c.Query("action")),
		Actor:   c.Query("actor"),
		Subject: c.Query("subject"),
	}
	site, valid := siteQuery(c)
	if !valid {
		return
	}
	filter.SiteID = site
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(c, "Invalid since, expected RFC 3339")
			return
		}
		filter.Since = lo.ToPtr(since)
	}
	sortOrder := database.SortOrder(c.DefaultQuery("sortOrder", string(database.SortOrderDesc)))

	events, total, err := h.Journal.GetAuditEvents(c.Request.Context(), filter, page, pageSize, sortOrder)
	if err != nil {
		fail(c, err, "Failed to get audit log")
		return
	}
	ok(c, models.NewPagedResponse(models.ToAuditItems(events, h.now()), total, page, pageSize))
}
