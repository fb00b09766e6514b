package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/SelaCrow/habit-forge/api/rest"
	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/game/session"
	mw "github.com/SelaCrow/habit-forge/middleware"
	"github.com/SelaCrow/habit-forge/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticGenerator struct{ narrative string }

func (g staticGenerator) GenerateDaily(ctx context.Context, flavor, class string) (string, error) {
	return g.narrative, nil
}

func (g staticGenerator) Flavorize(ctx context.Context, task, flavor, class string) (string, error) {
	return g.narrative, nil
}

type app struct {
	router   *gin.Engine
	db       *gorm.DB
	cache    cache.Cache
	profiles *profile.Store
	quests   *quest.Service
	dailies  *daily.Service
	sessions *session.Manager
	sec      config.SecurityConfig
}

func newApp(t *testing.T) *app {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	game := config.GameConfig{QuestXPMin: 5, QuestXPMax: 20, DailyXPMin: 10, DailyXPMax: 30}
	gen := staticGenerator{narrative: "Conquer the Morning Dishes\n\nThe sink overflows with foes."}

	profiles := profile.NewStore(db, c, ps, logger)
	quests := quest.NewService(db, ps, profiles, logger)
	dailies := daily.NewService(c, gen, quests, game, logger)
	sessions := session.NewManager(profiles, quests, dailies, time.Hour, logger)
	auditor := audit.New(db, logger)
	t.Cleanup(func() { auditor.Stop(context.Background()) })

	authH := rest.NewAuthHandler(profiles, c, sessions, auditor, sec)
	profH := rest.NewProfileHandler(profiles, sessions, logger)
	questH := rest.NewQuestHandler(quests, profiles, gen, auditor, game, logger)
	dailyH := rest.NewDailyHandler(dailies, profiles, sessions, auditor, logger)
	rankH := rest.NewRankingHandler(profiles, logger)

	r := gin.New()
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

		api.GET("/ranking/xp", rankH.TopXP)
	}

	return &app{
		router:   r,
		db:       db,
		cache:    c,
		profiles: profiles,
		quests:   quests,
		dailies:  dailies,
		sessions: sessions,
		sec:      sec,
	}
}

func (a *app) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// signUp registers a user and returns the session token and user ID.
func signUp(t *testing.T, a *app, username, email string) (token, userID string) {
	t.Helper()
	w := a.do(http.MethodPost, "/api/auth/signup", map[string]string{
		"username": username,
		"email":    email,
		"password": "hunter22",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	return resp["token"].(string), resp["user_id"].(string)
}

// onboard walks a signed-up user through both onboarding picks.
func onboard(t *testing.T, a *app, token, flavor, class string) {
	t.Helper()
	w := a.do(http.MethodPatch, "/api/profile", map[string]string{
		"field": profile.FieldFlavor, "value": flavor,
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(http.MethodPatch, "/api/profile", map[string]string{
		"field": profile.FieldClass, "value": class,
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
