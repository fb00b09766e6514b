package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/session"
	mw "github.com/SelaCrow/habit-forge/middleware"
)

// ProfileHandler handles profile and onboarding REST endpoints.
type ProfileHandler struct {
	profiles *profile.Store
	sessions *session.Manager
	logger   *zap.Logger
}

// NewProfileHandler creates a ProfileHandler.
func NewProfileHandler(profiles *profile.Store, sessions *session.Manager, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, sessions: sessions, logger: logger}
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	userID := mw.GetUserID(c)
	p, err := h.profiles.Load(c.Request.Context(), userID)
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":           p,
		"xp_for_next_level": profile.XPForNextLevel(p),
	})
}

// Session handles GET /api/session: the live engine snapshot.
func (h *ProfileHandler) Session(c *gin.Context) {
	userID := mw.GetUserID(c)
	engine := h.sessions.Get(userID)
	c.JSON(http.StatusOK, engine.Snapshot())
}

type updateFieldRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// UpdateField handles PATCH /api/profile.
// Onboarding picks are routed through the session engine so its state
// machine advances; plain field edits go straight to the store.
func (h *ProfileHandler) UpdateField(c *gin.Context) {
	var req updateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	var err error
	switch req.Field {
	case profile.FieldFlavor:
		if engine, ok := h.sessions.Peek(userID); ok && engine.Snapshot().State != session.StateActive {
			err = engine.SetFlavor(ctx, req.Value)
		} else {
			_, err = h.profiles.UpdateField(ctx, userID, req.Field, req.Value)
		}
	case profile.FieldClass:
		if engine, ok := h.sessions.Peek(userID); ok && engine.Snapshot().State != session.StateActive {
			err = engine.SetClass(ctx, req.Value)
		} else {
			_, err = h.profiles.UpdateField(ctx, userID, req.Field, req.Value)
		}
	default:
		_, err = h.profiles.UpdateField(ctx, userID, req.Field, req.Value)
	}

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "updated"})
	case errors.Is(err, profile.ErrUnknownField),
		errors.Is(err, profile.ErrInvalidFlavor),
		errors.Is(err, profile.ErrInvalidClass),
		errors.Is(err, profile.ErrFlavorUnset):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, profile.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Classes handles GET /api/profile/classes?flavor=fantasy.
func (h *ProfileHandler) Classes(c *gin.Context) {
	flavor := c.Query("flavor")
	if flavor == "" {
		c.JSON(http.StatusOK, gin.H{"flavors": profile.Flavors()})
		return
	}
	classes := profile.ClassesFor(flavor)
	if classes == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown flavor"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flavor": flavor, "classes": classes})
}
