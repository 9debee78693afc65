// Package api serves the CheckLoops HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/checkloops/checkloops/internal/api/auth"
	"github.com/checkloops/checkloops/internal/api/handler"
	"github.com/checkloops/checkloops/internal/config"
	"github.com/checkloops/checkloops/internal/engine"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxUploadMemory   = 8 << 20
)

// edgeFunctionHeaders are the request headers the Supabase JS client sends to Edge Functions.
var edgeFunctionHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

type Server struct {
	cfg       *config.Config
	ginEngine *gin.Engine
	auth      *auth.Provider
	handler   *handler.Handler
}

// New creates the server for an engine.
func New(cfg *config.Config, e *engine.Engine) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if e == nil {
		return nil, fmt.Errorf("engine is required")
	}
	provider := auth.New(cfg, e.Supabase(), e.Repository(), e.Cache().RoleCache)
	h := handler.New(handler.Services{
		Invites:   e.Invites(),
		Users:     e.Users(),
		Holidays:  e.Holidays(),
		Training:  e.Training(),
		Quiz:      e.Quiz(),
		Slots:     e.Slots(),
		Avatars:   e.Avatars(),
		Practices: e.Practices(),
		Profiles:  e.Repository(),
		Dashboard: e,
		Jobs:      e.Scheduler(),
		Journal:   e.DB(),
	})
	return newServer(cfg, provider, h), nil
}

func newServer(cfg *config.Config, provider *auth.Provider, h *handler.Handler) *Server {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadMemory
	r.Use(gin.Recovery(), requestLogger(), metricsMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORS)))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	s := &Server{cfg: cfg, ginEngine: r, auth: provider, handler: h}
	s.setupRoutes()
	return s
}

func corsConfig(cfg *config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: edgeFunctionHeaders,
		MaxAge:       12 * time.Hour,
	}
	if cfg == nil || len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = cfg.AllowedOrigins
	return c
}

func (s *Server) setupRoutes() {
	h := s.handler

	s.ginEngine.GET("/health", h.Health)
	s.ginEngine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Edge Function contracts
	functions := s.ginEngine.Group("/functions/v1", s.auth.RequireAuth())
	functions.GET("/fetch-gp-practices", h.FetchGPPractices)
	functions.POST("/fetch-gp-practices", h.FetchGPPractices)

	privileged := functions.Group("", s.auth.RequireAdmin())
	privileged.POST("/invite-user", h.InviteUser)
	privileged.POST("/cancel-invite", h.CancelInvite)
	privileged.POST("/create-user", h.CreateUser)
	privileged.POST("/simple-invite", h.SimpleInvite)
	privileged.POST("/save-slot-mappings", h.SaveSlotMappings)

	api := s.ginEngine.Group("/api", s.auth.RequireAuth())
	api.GET("/me", h.Me)
	api.GET("/me/avatar", h.AvatarURL)
	api.POST("/me/avatar", h.UploadAvatar)
	api.GET("/me/holidays", h.MyHolidays)
	api.POST("/me/holidays/validate", h.ValidateHoliday)
	api.POST("/invites/accept", h.AcceptInvite)
	api.GET("/quiz", h.DrawQuiz)
	api.POST("/quiz/submit", h.SubmitQuiz)
	api.GET("/practices", h.FetchGPPractices)

	s.setupAdminRoutes(api)
}

func (s *Server) setupAdminRoutes(api *gin.RouterGroup) {
	h := s.handler
	admin := api.Group("/admin", s.auth.RequireAdmin())

	admin.GET("/dashboard", h.Dashboard)

	admin.GET("/invites", h.ListInvites)
	admin.POST("/invites/:id/resend", h.ResendInvite)
	admin.POST("/invites/:id/revoke", h.RevokeInvite)

	admin.GET("/users", h.ListUsers)
	admin.PUT("/users/:authUserId/role", h.SetUserRole)
	admin.PUT("/users/:authUserId/pin", h.SetUserPIN)

	admin.GET("/holidays/users/:id", h.UserHolidays)
	admin.POST("/holidays/reconcile", h.ReconcileHolidays)

	admin.GET("/training/matrix", h.TrainingMatrix)
	admin.POST("/training/records", h.RecordTraining)

	admin.GET("/slots", h.ListSlotMappings)
	admin.GET("/avatars", h.ListAvatars)

	admin.GET("/jobs", h.ListJobs)
	admin.GET("/jobs/history", h.GetJobHistory)
	admin.POST("/jobs/:id/run", h.RunJob)
	admin.POST("/jobs/:id/enable", h.EnableJob)
	admin.POST("/jobs/:id/disable", h.DisableJob)

	admin.GET("/audit", h.GetAudit)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.ginEngine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "listen", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
