package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/credential"
	"rollcall/internal/logger"
	"rollcall/internal/metrics"
)

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
}

type exportQuery struct {
	SessionID string `form:"session_id"`
}

func (h *Handler) dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	_, err := h.Sessions.Resolve(ctx, auth.TokenFromRequest(c))
	loggedIn := err == nil
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		internalError(c, err, "resolve admin session")
		return
	}
	active, err := h.Manager.ActiveSession(ctx)
	if err != nil {
		internalError(c, err, "load active session")
		return
	}
	body := gin.H{"logged_in": loggedIn, "active_session": nil, "sections": h.opts.Sections}
	if active != nil {
		view := gin.H{"id": active.ID, "start_time": active.StartTime}
		if loggedIn {
			view["secret_code"] = active.SecretCode
		}
		body["active_session"] = view
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		flash(c, http.StatusBadRequest, "danger", "Invalid credentials.", nil)
		return
	}
	ctx := c.Request.Context()
	admin, err := h.Creds.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		internalError(c, err, "authenticate admin")
		return
	}
	if admin == nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		flash(c, http.StatusUnauthorized, "danger", "Invalid credentials.", nil)
		return
	}
	tok, err := h.Sessions.Login(ctx, admin)
	if err != nil {
		internalError(c, err, "issue admin token")
		return
	}
	metrics.Logins.WithLabelValues("success").Inc()
	logger.Info().Str("admin", admin.Username).Msg("admin logged in")
	h.setCookie(c, tok.Value, int(h.Sessions.TTL().Seconds()))
	flash(c, http.StatusOK, "success", "Welcome back!", gin.H{"token": tok.Value, "expires_at": tok.ExpiresAt.Unix()})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.Sessions.Logout(c.Request.Context(), auth.TokenFromRequest(c)); err != nil {
		internalError(c, err, "logout")
		return
	}
	h.setCookie(c, "", -1)
	flash(c, http.StatusOK, "info", "Logged out.", nil)
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, value, maxAge, "/", "", h.opts.CookieSecure, true)
}

func (h *Handler) startSession(c *gin.Context) {
	s, err := h.Manager.Start(c.Request.Context())
	if errors.Is(err, attendance.ErrAlreadyActive) {
		flash(c, http.StatusConflict, "warning", "A session is already active. Stop it before starting a new one.", nil)
		return
	}
	if err != nil {
		internalError(c, err, "start session")
		return
	}
	metrics.SessionTransitions.WithLabelValues("start").Inc()
	metrics.SetActive(true)
	logger.Info().Int64("session_id", s.ID).Msg("attendance session started")
	flash(c, http.StatusOK, "success", "Session started. Secret code: "+s.SecretCode, gin.H{
		"session":     s,
		"secret_code": s.SecretCode,
	})
}

func (h *Handler) stopSession(c *gin.Context) {
	s, err := h.Manager.Stop(c.Request.Context())
	if errors.Is(err, attendance.ErrNoActiveSession) {
		flash(c, http.StatusConflict, "info", "No active session to stop.", nil)
		return
	}
	if err != nil {
		internalError(c, err, "stop session")
		return
	}
	metrics.SessionTransitions.WithLabelValues("stop").Inc()
	metrics.SetActive(false)
	logger.Info().Int64("session_id", s.ID).Msg("attendance session stopped")
	flash(c, http.StatusOK, "success", "Session stopped.", gin.H{"session": s})
}

func (h *Handler) listSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.Manager.List(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err, "list sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// CheckInURL is the student page link encoded in the session QR code.
func CheckInURL(base, code string) string {
	return strings.TrimRight(base, "/") + "/?code=" + url.QueryEscape(code)
}

func (h *Handler) activeSessionQR(c *gin.Context) {
	active, err := h.Manager.ActiveSession(c.Request.Context())
	if err != nil {
		internalError(c, err, "load active session")
		return
	}
	if active == nil {
		flash(c, http.StatusConflict, "warning", "No active session. Start a session to show its QR code.", nil)
		return
	}
	png, err := qrcode.Encode(CheckInURL(h.opts.PublicURL, active.SecretCode), qrcode.Medium, 256)
	if err != nil {
		internalError(c, err, "encode qr code")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) changePassword(c *gin.Context) {
	p, ok := auth.CurrentAdmin(c)
	if !ok {
		c.Redirect(http.StatusSeeOther, DashboardPath)
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		flash(c, http.StatusBadRequest, "danger", "Could not read the password form.", nil)
		return
	}
	err := h.Creds.ChangePassword(c.Request.Context(), p.AdminID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		flash(c, http.StatusOK, "success", "Password updated successfully.", nil)
	case errors.Is(err, credential.ErrWrongPassword), errors.Is(err, credential.ErrAdminNotFound):
		flash(c, http.StatusBadRequest, "danger", "Current password is incorrect.", nil)
	case errors.Is(err, credential.ErrPasswordTooShort):
		flash(c, http.StatusBadRequest, "warning", "New password must be at least 6 characters.", nil)
	case errors.Is(err, credential.ErrPasswordTooLong):
		flash(c, http.StatusBadRequest, "warning", "New password must be at most 72 bytes.", nil)
	default:
		internalError(c, err, "change password")
	}
}

func (h *Handler) export(c *gin.Context) {
	ctx := c.Request.Context()
	var q exportQuery
	_ = c.ShouldBindQuery(&q)

	var session attendance.Session
	if q.SessionID != "" {
		id, err := strconv.ParseInt(q.SessionID, 10, 64)
		if err != nil {
			flash(c, http.StatusBadRequest, "danger", "Invalid session id.", nil)
			return
		}
		session, err = h.Manager.Get(ctx, id)
		if errors.Is(err, attendance.ErrSessionNotFound) {
			flash(c, http.StatusNotFound, "warning", "Session not found.", nil)
			return
		}
		if err != nil {
			internalError(c, err, "load session")
			return
		}
	} else {
		active, err := h.Manager.ActiveSession(ctx)
		if err != nil {
			internalError(c, err, "load active session")
			return
		}
		if active == nil {
			flash(c, http.StatusConflict, "warning", "No active session. Start a session to export live attendance.", nil)
			return
		}
		session = *active
	}

	rows, err := h.Reporter.ExportReport(ctx, session)
	if err != nil {
		internalError(c, err, "export report")
		return
	}
	var buf bytes.Buffer
	if err := attendance.WriteCSV(&buf, rows); err != nil {
		internalError(c, err, "write csv")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attendance.ExportFilename(session)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
