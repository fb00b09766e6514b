package rest

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/generator"
	mw "github.com/SelaCrow/habit-forge/middleware"
	"github.com/SelaCrow/habit-forge/model"
)

// QuestHandler handles quest board REST endpoints.
type QuestHandler struct {
	quests   *quest.Service
	profiles *profile.Store
	gen      generator.Generator
	auditor  *audit.Service
	cfg      config.GameConfig
	logger   *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(quests *quest.Service, profiles *profile.Store, gen generator.Generator, auditor *audit.Service, cfg config.GameConfig, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{
		quests:   quests,
		profiles: profiles,
		gen:      gen,
		auditor:  auditor,
		cfg:      cfg,
		logger:   logger,
	}
}

type createQuestRequest struct {
	Task     string   `json:"task" binding:"required,min=1,max=200"`
	Subtasks []string `json:"subtasks" binding:"max=20"`
}

// Create handles POST /api/quests. The raw task text is rewritten as a
// quest narrative in the user's flavor; generation failure falls back to
// the task text untouched.
func (h *QuestHandler) Create(c *gin.Context) {
	var req createQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	p, err := h.profiles.Load(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	narrative, err := h.gen.Flavorize(ctx, req.Task, p.Flavor, p.CharClass)
	if err != nil {
		h.logger.Warn("flavorize failed, keeping raw task",
			zap.String("user_id", userID), zap.Error(err))
		narrative = req.Task
	}
	title, _ := generator.SplitNarrative(narrative)

	q := &model.Quest{
		UserID:           userID,
		Title:            title,
		Narrative:        narrative,
		XP:               h.rollXP(),
		RecommendedClass: p.CharClass,
	}
	if len(req.Subtasks) > 0 {
		if raw, merr := subtasksJSON(req.Subtasks); merr == nil {
			q.Subtasks = raw
		}
	}

	id, err := h.quests.Save(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  userID,
		Action:  "quest_create",
		Request: gin.H{"task": req.Task},
		IP:      c.ClientIP(),
	})

	c.JSON(http.StatusCreated, gin.H{"quest_id": id, "quest": q})
}

// List handles GET /api/quests?status=active|completed.
func (h *QuestHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	ctx := c.Request.Context()

	switch c.DefaultQuery("status", "active") {
	case "active":
		qs, err := h.quests.ListActive(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"quests": qs})
	case "completed":
		qs, err := h.quests.ListCompleted(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"quests": qs})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
	}
}

// Complete handles POST /api/quests/:id/complete.
func (h *QuestHandler) Complete(c *gin.Context) {
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad quest id"})
		return
	}

	userID := mw.GetUserID(c)
	start := time.Now()
	res, err := h.quests.Complete(c.Request.Context(), userID, questID)
	if errors.Is(err, quest.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		UserID:     userID,
		Action:     "quest_complete",
		Request:    gin.H{"quest_id": questID},
		Response:   gin.H{"xp_awarded": res.XPAwarded, "leveled_up": res.LeveledUp},
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	})

	c.JSON(http.StatusOK, gin.H{
		"xp_awarded": res.XPAwarded,
		"level":      res.Level,
		"leveled_up": res.LeveledUp,
	})
}

// Delete handles DELETE /api/quests/:id. Removing an absent quest is fine.
func (h *QuestHandler) Delete(c *gin.Context) {
	questID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad quest id"})
		return
	}

	userID := mw.GetUserID(c)
	if err := h.quests.Delete(c.Request.Context(), userID, questID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *QuestHandler) rollXP() int {
	lo, hi := h.cfg.QuestXPMin, h.cfg.QuestXPMax
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}

func subtasksJSON(subtasks []string) (datatypes.JSON, error) {
	raw, err := json.Marshal(subtasks)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
