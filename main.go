package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/SelaCrow/habit-forge/api/rest"
	"github.com/SelaCrow/habit-forge/api/sse"
	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	dbadapter "github.com/SelaCrow/habit-forge/db"
	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/game/session"
	"github.com/SelaCrow/habit-forge/generator"
	mw "github.com/SelaCrow/habit-forge/middleware"
	"github.com/SelaCrow/habit-forge/model"
	"github.com/SelaCrow/habit-forge/scheduler"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Generator.APIKey == "" {
		logger.Warn("generator.api_key is not set; quests will use fallback text")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheCfg := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheCfg)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheCfg)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Services ----
	gen := generator.NewOpenAIClient(cfg.Generator, logger)
	profiles := profile.NewStore(db, c, pubsub, logger)
	quests := quest.NewService(db, pubsub, profiles, logger)
	dailies := daily.NewService(c, gen, quests, cfg.Game, logger)

	idleMax := time.Duration(cfg.Game.SessionIdleMaxS) * time.Second
	if idleMax <= 0 {
		idleMax = 30 * time.Minute
	}
	sessions := session.NewManager(profiles, quests, dailies, idleMax, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	refreshEvery := time.Duration(cfg.Game.RankingRefreshS) * time.Second
	if refreshEvery <= 0 {
		refreshEvery = 5 * time.Minute
	}
	refreshRanking := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := profiles.RefreshRanking(ctx); err != nil {
			logger.Warn("ranking refresh failed", zap.Error(err))
		} else {
			logger.Debug("ranking refreshed", zap.Int("profiles", n))
		}
	}
	sched.AddTicker("ranking-refresh", refreshEvery, refreshRanking)
	// Warm the leaderboard shortly after boot instead of waiting a full tick.
	sched.AddDelay("ranking-warmup", 5*time.Second, refreshRanking)

	sweepEvery := time.Duration(cfg.Game.SessionSweepS) * time.Second
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	sched.AddTicker("session-sweep", sweepEvery, func() {
		sessions.SweepIdle()
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(profiles, c, sessions, auditSvc, cfg.Security)
	profH := apirest.NewProfileHandler(profiles, sessions, logger)
	questH := apirest.NewQuestHandler(quests, profiles, gen, auditSvc, cfg.Game, logger)
	dailyH := apirest.NewDailyHandler(dailies, profiles, sessions, auditSvc, logger)
	rankH := apirest.NewRankingHandler(profiles, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/signup", authH.SignUp)
		authG.POST("/signin", authH.SignIn)
		authG.POST("/anonymous", authH.SignInAnonymously)
		authG.POST("/signout", mw.Auth(cfg.Security, c), authH.SignOut)

		profG := api.Group("/profile")
		profG.GET("/classes", profH.Classes)
		profG.GET("", mw.Auth(cfg.Security, c), profH.Get)
		profG.PATCH("", mw.Auth(cfg.Security, c), profH.UpdateField)

		api.GET("/session", mw.Auth(cfg.Security, c), profH.Session)

		questG := api.Group("/quests")
		questG.Use(mw.Auth(cfg.Security, c))
		questG.POST("", questH.Create)
		questG.GET("", questH.List)
		questG.POST("/:id/complete", questH.Complete)
		questG.DELETE("/:id", questH.Delete)

		dailyG := api.Group("/daily")
		dailyG.Use(mw.Auth(cfg.Security, c))
		dailyG.GET("", dailyH.Get)
		dailyG.POST("/accept", dailyH.Accept)
		dailyG.POST("/discard", dailyH.Discard)

		rankG := api.Group("/ranking")
		rankG.GET("/xp", rankH.TopXP)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(sessions, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
