package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/checkloops/checkloops/internal/invite"
	"github.com/checkloops/checkloops/internal/slots"
	"github.com/checkloops/checkloops/internal/users"
)

// Edge Function endpoints. Bodies and responses keep the shapes the web app already sends.
// A site_id left out of a privileged body defaults to the caller's site.

// InviteUser creates and delivers an invite.
func (h *Handler) InviteUser(c *gin.Context) {
	var req invite.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	site, valid := ownSite(c, req.SiteID)
	if !valid {
		return
	}
	req.SiteID = site
	req.InvitedBy = actor(c)

	inv, err := h.Invites.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err, "Failed to create invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Invitation sent to " + inv.Email,
		"data":    inv,
	})
}

type cancelInviteRequest struct {
	InviteID int64 `json:"invite_id"`
}

// CancelInvite cancels a pending invite.
func (h *Handler) CancelInvite(c *gin.Context) {
	var req cancelInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InviteID <= 0 {
		badRequest(c, "Invalid or missing invite_id")
		return
	}
	if !h.ownInvite(c, req.InviteID) {
		return
	}
	inv, err := h.Invites.Cancel(c.Request.Context(), req.InviteID, actor(c))
	if err != nil {
		fail(c, err, "Failed to cancel invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Invitation cancelled",
		"data":    inv,
	})
}

// CreateUser creates a confirmed account with a password.
func (h *Handler) CreateUser(c *gin.Context) {
	var req users.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	site, valid := ownSite(c, req.SiteID)
	if !valid {
		return
	}
	req.SiteID = site
	req.CreatedBy = actor(c)

	u, err := h.Users.CreateUser(c.Request.Context(), req)
	if err != nil {
		fail(c, err, "Failed to create user")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "User created successfully",
		"data":    u,
	})
}

// SimpleInvite sends a magic link without keeping an invite row.
func (h *Handler) SimpleInvite(c *gin.Context) {
	var req invite.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	site, valid := ownSite(c, req.SiteID)
	if !valid {
		return
	}
	req.SiteID = site
	req.InvitedBy = actor(c)

	if err := h.Invites.SimpleInvite(c.Request.Context(), req); err != nil {
		fail(c, err, "Failed to send invite")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Magic link sent",
	})
}

type saveSlotMappingsRequest struct {
	SiteID   int64           `json:"site_id"`
	Mappings []slots.Mapping `json:"mappings"`
}

// SaveSlotMappings replaces the slot mappings of a site.
func (h *Handler) SaveSlotMappings(c *gin.Context) {
	var req saveSlotMappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	site, valid := ownSite(c, req.SiteID)
	if !valid {
		return
	}
	saved, err := h.Slots.Save(c.Request.Context(), site, req.Mappings, actor(c))
	if err != nil {
		fail(c, err, "Failed to save slot mappings")
		return
	}
	ok(c, saved)
}

type fetchPracticesRequest struct {
	Name     string `json:"name" form:"name"`
	Postcode string `json:"postcode" form:"postcode"`
}

// FetchGPPractices searches the NHS directory. Accepts a JSON body or query parameters.
func (h *Handler) FetchGPPractices(c *gin.Context) {
	var req fetchPracticesRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	practices, err := h.Practices.Search(c.Request.Context(), req.Name, req.Postcode)
	if err != nil {
		fail(c, err, "Failed to search GP practices")
		return
	}
	ok(c, practices)
}
