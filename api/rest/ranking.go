package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/progression"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	profiles *profile.Store
	logger   *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(profiles *profile.Store, logger *zap.Logger) *RankingHandler {
	return &RankingHandler{profiles: profiles, logger: logger}
}

const rankingTop = 100

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Class    string `json:"character_class"`
	Level    int    `json:"level"`
	TotalXP  int    `json:"total_xp"`
}

// TopXP returns the top users sorted by lifetime XP.
// GET /api/ranking/xp?limit=20
func (h *RankingHandler) TopXP(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= rankingTop {
		limit = l
	}

	profiles, err := h.profiles.TopTotalXP(c.Request.Context(), limit)
	if err != nil {
		h.logger.Warn("ranking query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	entries := make([]RankEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, RankEntry{
			Rank:     i + 1,
			Username: p.Username,
			Class:    p.CharClass,
			Level:    p.Level,
			TotalXP:  progression.TotalXP(p.XP, p.Level),
		})
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}
