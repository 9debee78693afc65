package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/checkloops/checkloops/internal/api/auth"
)

// ErrOtherSite is returned when an admin addresses a site, user or invite outside their own site.
var ErrOtherSite = errors.New("resource belongs to another site")

func callerSite(c *gin.Context) int64 {
	if u := auth.CurrentUser(c); u != nil {
		return u.SiteID
	}
	return 0
}

// ownSite resolves the site an admin request works on. Zero means the caller's site.
func ownSite(c *gin.Context, siteID int64) (int64, bool) {
	site := callerSite(c)
	if site <= 0 || (siteID != 0 && siteID != site) {
		fail(c, ErrOtherSite, "Site check failed")
		return 0, false
	}
	return site, true
}

// siteQuery reads the optional site_id query parameter and checks it against the caller's site.
func siteQuery(c *gin.Context) (int64, bool) {
	var id int64
	if s := c.Query("site_id"); s != "" {
		var err error
		if id, err = parseID(s); err != nil {
			badRequest(c, "Invalid site_id")
			return 0, false
		}
	}
	return ownSite(c, id)
}

// ownMember checks that a master_users row belongs to the caller's site.
func (h *Handler) ownMember(c *gin.Context, userID int64) bool {
	u, err := h.Profiles.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		fail(c, err, "Failed to load user")
		return false
	}
	return h.sameSite(c, u.SiteID)
}

// ownAuthUser checks that the profile of an auth user belongs to the caller's site.
func (h *Handler) ownAuthUser(c *gin.Context, authUserID string) bool {
	u, err := h.Profiles.GetUserByAuthID(c.Request.Context(), authUserID)
	if err != nil {
		fail(c, err, "Failed to load user")
		return false
	}
	return h.sameSite(c, u.SiteID)
}

// ownInvite checks that an invite belongs to the caller's site.
func (h *Handler) ownInvite(c *gin.Context, inviteID int64) bool {
	inv, err := h.Profiles.GetInviteByID(c.Request.Context(), inviteID)
	if err != nil {
		fail(c, err, "Failed to load invite")
		return false
	}
	return h.sameSite(c, inv.SiteID)
}

func (h *Handler) sameSite(c *gin.Context, siteID int64) bool {
	if siteID == 0 {
		fail(c, ErrOtherSite, "Site check failed")
		return false
	}
	_, valid := ownSite(c, siteID)
	return valid
}
