package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/session"
	mw "github.com/SelaCrow/habit-forge/middleware"
)

// DailyHandler handles today's-quest REST endpoints.
type DailyHandler struct {
	dailies  *daily.Service
	profiles *profile.Store
	sessions *session.Manager
	auditor  *audit.Service
	logger   *zap.Logger
}

// NewDailyHandler creates a DailyHandler.
func NewDailyHandler(dailies *daily.Service, profiles *profile.Store, sessions *session.Manager, auditor *audit.Service, logger *zap.Logger) *DailyHandler {
	return &DailyHandler{dailies: dailies, profiles: profiles, sessions: sessions, auditor: auditor, logger: logger}
}

// Get handles GET /api/daily: today's candidate and its status. Generates
// on first call of the day.
func (h *DailyHandler) Get(c *gin.Context) {
	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	p, err := h.profiles.Load(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if p.NeedsOnboarding() {
		c.JSON(http.StatusConflict, gin.H{"error": "onboarding incomplete"})
		return
	}

	status, err := h.dailies.Status(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	q, err := h.dailies.Ensure(ctx, userID, p.Flavor, p.CharClass)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":   h.dailies.Today(),
		"status": status,
		"quest":  q,
	})
}

// Accept handles POST /api/daily/accept. Routed through the engine when
// one is live so the snapshot stays in sync.
func (h *DailyHandler) Accept(c *gin.Context) {
	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	var err error
	if engine, ok := h.sessions.Peek(userID); ok && engine.Snapshot().State == session.StateActive {
		err = engine.AcceptDaily(ctx)
	} else {
		_, err = h.dailies.Accept(ctx, userID)
	}
	if errors.Is(err, daily.ErrNoCandidate) {
		c.JSON(http.StatusConflict, gin.H{"error": "no pending daily quest"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  userID,
		Action:  "daily_accept",
		IP:      c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"status": daily.StatusAccepted})
}

// Discard handles POST /api/daily/discard.
func (h *DailyHandler) Discard(c *gin.Context) {
	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	var err error
	if engine, ok := h.sessions.Peek(userID); ok && engine.Snapshot().State == session.StateActive {
		err = engine.DiscardDaily(ctx)
	} else {
		err = h.dailies.Discard(ctx, userID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  userID,
		Action:  "daily_discard",
		IP:      c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"status": daily.StatusDiscarded})
}
