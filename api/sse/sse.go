// Package sse streams live session snapshots to clients over server-sent
// events, so the quest board and profile stay current without polling.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/session"
	mw "github.com/SelaCrow/habit-forge/middleware"
)

// Handler handles the SSE endpoint.
type Handler struct {
	sessions *session.Manager
	c        cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

// NewHandler creates an SSE Handler.
func NewHandler(sessions *session.Manager, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, c: c, sec: sec, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>.
// EventSource cannot set headers, so the token rides in the query string.
// Each snapshot published by the user's engine becomes one "snapshot" event.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	engine := h.sessions.Get(claims.UserID)

	// Buffered so a slow client drops intermediate snapshots instead of
	// blocking the engine's fan-out.
	snapCh := make(chan session.Snapshot, 8)
	unsub := engine.Subscribe(func(s session.Snapshot) {
		select {
		case snapCh <- s:
		default:
		}
	})
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap := <-snapCh:
			data, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("snapshot marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: snapshot\ndata: %s\n\n", data)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
