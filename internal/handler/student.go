package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rollcall/internal/metrics"
)

type checkInRequest struct {
	RollNo     string `form:"roll_no" json:"roll_no"`
	SecretCode string `form:"secret_code" json:"secret_code"`
}

func (h *Handler) checkInState(c *gin.Context) {
	active, err := h.Manager.ActiveSession(c.Request.Context())
	if err != nil {
		internalError(c, err, "load active session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active != nil})
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Could not read the check-in form.", "status": "danger"})
		return
	}
	// Form fields are trimmed like any typed input; the code comparison itself is exact.
	res, err := h.Recorder.CheckIn(c.Request.Context(), req.RollNo, strings.TrimSpace(req.SecretCode))
	if err != nil {
		internalError(c, err, "check in")
		return
	}
	metrics.CheckIns.WithLabelValues(res.Outcome.String()).Inc()
	c.JSON(http.StatusOK, gin.H{
		"outcome": res.Outcome.String(),
		"message": res.Message(),
		"status":  res.Outcome.Status(),
		"active":  res.Session != nil,
	})
}

func (h *Handler) liveAttendance(c *gin.Context) {
	section := c.Query("section")
	if strings.TrimSpace(section) == "" && len(h.opts.Sections) > 0 {
		section = h.opts.Sections[0]
	}
	live, err := h.Reporter.LiveStatus(c.Request.Context(), section)
	if err != nil {
		internalError(c, err, "live attendance")
		return
	}
	c.JSON(http.StatusOK, live)
}
