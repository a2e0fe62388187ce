// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/credential"
	"rollcall/internal/logger"
)

// DashboardPath is where admin actions send the browser next.
const DashboardPath = "/admin"

// Options are the presentation settings handlers need.
type Options struct {
	Sections     []string
	PublicURL    string
	CookieSecure bool
}

// Deps are the services behind the handlers.
type Deps struct {
	Health   func(ctx context.Context) bool
	Manager  *attendance.Manager
	Recorder *attendance.Recorder
	Reporter *attendance.Reporter
	Creds    *credential.Store
	Sessions *auth.Sessions
}

// Handler serves the student and admin endpoints.
type Handler struct {
	opts Options
	Deps
	now func() time.Time
}

// New creates a handler.
func New(opts Options, deps Deps) *Handler {
	return &Handler{opts: opts, Deps: deps, now: time.Now}
}

// Limits are the rate limiting middlewares for abuse-prone endpoints.
// Nil entries disable limiting.
type Limits struct {
	CheckIn gin.HandlerFunc
	Login   gin.HandlerFunc
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine, limits Limits) {
	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	api.GET("/checkin", h.checkInState)
	api.POST("/checkin", chain(limits.CheckIn, h.checkIn)...)
	api.GET("/live_attendance", h.liveAttendance)

	r.GET(DashboardPath, h.dashboard)
	r.POST("/admin/login", chain(limits.Login, h.login)...)
	r.POST("/admin/logout", h.logout)
	r.GET("/logout", h.logout)

	admin := r.Group("/admin", auth.AdminAuth(h.Sessions, DashboardPath))
	admin.POST("/sessions/start", h.startSession)
	admin.POST("/sessions/stop", h.stopSession)
	admin.GET("/sessions", h.listSessions)
	admin.GET("/sessions/active/qr", h.activeSessionQR)
	admin.POST("/password", h.changePassword)
	admin.GET("/export", h.export)
}

func chain(mw gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if mw == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{mw, h}
}

func (h *Handler) healthz(c *gin.Context) {
	dbOK := h.Health != nil && h.Health(c.Request.Context())
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ok": dbOK, "time": h.now().UTC().Format(time.RFC3339), "db": dbOK})
}

// flash is the admin action response body.
func flash(c *gin.Context, code int, status, message string, extra gin.H) {
	body := gin.H{"message": message, "status": status, "redirect": DashboardPath}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}

func internalError(c *gin.Context, err error, what string) {
	logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(what)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Something went wrong. Please try again.", "status": "danger"})
}
