// Package integration spins up the fully wired HTTP server and exercises
// the user-visible flows end to end over real HTTP.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	apirest "github.com/SelaCrow/habit-forge/api/rest"
	"github.com/SelaCrow/habit-forge/api/sse"
	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/game/session"
	"github.com/SelaCrow/habit-forge/generator"
	mw "github.com/SelaCrow/habit-forge/middleware"
	"github.com/SelaCrow/habit-forge/scheduler"
	"github.com/SelaCrow/habit-forge/testutil"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Profiles *profile.Store
	Quests   *quest.Service
	Dailies  *daily.Service
	Sessions *session.Manager
	Sched    *scheduler.Scheduler
	Server   *httptest.Server
	URL      string
	Sec      config.SecurityConfig
}

type staticGenerator struct{ narrative string }

func (g staticGenerator) GenerateDaily(ctx context.Context, flavor, class string) (string, error) {
	return g.narrative, nil
}

func (g staticGenerator) Flavorize(ctx context.Context, task, flavor, class string) (string, error) {
	return g.narrative, nil
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}
	game := config.GameConfig{
		QuestXPMin: 5, QuestXPMax: 20,
		DailyXPMin: 10, DailyXPMax: 30,
	}
	var gen generator.Generator = staticGenerator{
		narrative: "Defend the Commuter Line\n\nThe 8:15 train will not board itself.",
	}

	profiles := profile.NewStore(db, c, pubsub, logger)
	quests := quest.NewService(db, pubsub, profiles, logger)
	dailies := daily.NewService(c, gen, quests, game, logger)
	sessions := session.NewManager(profiles, quests, dailies, time.Hour, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(profiles, c, sessions, auditSvc, sec)
	profH := apirest.NewProfileHandler(profiles, sessions, logger)
	questH := apirest.NewQuestHandler(quests, profiles, gen, auditSvc, game, logger)
	dailyH := apirest.NewDailyHandler(dailies, profiles, sessions, auditSvc, logger)
	rankH := apirest.NewRankingHandler(profiles, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/signup", authH.SignUp)
		authG.POST("/signin", authH.SignIn)
		authG.POST("/anonymous", authH.SignInAnonymously)
		authG.POST("/signout", mw.Auth(sec, c), authH.SignOut)

		profG := api.Group("/profile")
		profG.GET("/classes", profH.Classes)
		profG.GET("", mw.Auth(sec, c), profH.Get)
		profG.PATCH("", mw.Auth(sec, c), profH.UpdateField)

		api.GET("/session", mw.Auth(sec, c), profH.Session)

		questG := api.Group("/quests")
		questG.Use(mw.Auth(sec, c))
		questG.POST("", questH.Create)
		questG.GET("", questH.List)
		questG.POST("/:id/complete", questH.Complete)
		questG.DELETE("/:id", questH.Delete)

		dailyG := api.Group("/daily")
		dailyG.Use(mw.Auth(sec, c))
		dailyG.GET("", dailyH.Get)
		dailyG.POST("/accept", dailyH.Accept)
		dailyG.POST("/discard", dailyH.Discard)

		rankG := api.Group("/ranking")
		rankG.GET("/xp", rankH.TopXP)
	}

	sseH := sse.NewHandler(sessions, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Profiles: profiles,
		Quests:   quests,
		Dailies:  dailies,
		Sessions: sessions,
		Sched:    sched,
		Server:   srv,
		URL:      srv.URL,
		Sec:      sec,
	}
}

// Close shuts the server down.
func (ts *TestServer) Close() {
	ts.Server.Close()
}

var uniqueCounter int64

// UniqueID returns a per-run unique identifier with the given prefix.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, atomic.AddInt64(&uniqueCounter, 1))
}

// PostJSON POSTs a JSON body, optionally authenticated.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodPost, path, body, token)
}

// PatchJSON PATCHes a JSON body, optionally authenticated.
func (ts *TestServer) PatchJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodPatch, path, body, token)
}

// Get performs an authenticated GET.
func (ts *TestServer) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodGet, path, nil, token)
}

// Delete performs an authenticated DELETE.
func (ts *TestServer) Delete(t *testing.T, path, token string) *http.Response {
	t.Helper()
	return ts.request(t, http.MethodDelete, path, nil, token)
}

func (ts *TestServer) request(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes a response body and closes it.
func ReadJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out), string(data))
}

// SignUp registers a user and returns the token and user ID.
func (ts *TestServer) SignUp(t *testing.T, username, email, password string) (token, userID string) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["token"].(string), result["user_id"].(string)
}

// Onboard walks a user through the flavor and class picks.
func (ts *TestServer) Onboard(t *testing.T, token, flavor, class string) {
	t.Helper()
	resp := ts.PatchJSON(t, "/api/profile", map[string]string{
		"field": profile.FieldFlavor, "value": flavor,
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PatchJSON(t, "/api/profile", map[string]string{
		"field": profile.FieldClass, "value": class,
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
