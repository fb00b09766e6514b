package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/SelaCrow/habit-forge/audit"
	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/session"
	mw "github.com/SelaCrow/habit-forge/middleware"
	"github.com/SelaCrow/habit-forge/model"
)

// AnonymousUsername labels guest accounts created by anonymous sign-in.
const AnonymousUsername = "Guest"

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	profiles *profile.Store
	cache    cache.Cache
	sessions *session.Manager
	auditor  *audit.Service
	sec      config.SecurityConfig
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(profiles *profile.Store, c cache.Cache, sessions *session.Manager, auditor *audit.Service, sec config.SecurityConfig) *AuthHandler {
	return &AuthHandler{profiles: profiles, cache: c, sessions: sessions, auditor: auditor, sec: sec}
}

type signUpRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=64"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignUp handles POST /api/auth/signup.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	taken, err := h.profiles.UsernameExists(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	p := &model.Profile{
		UserID:       uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := h.profiles.Create(ctx, p); err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   p.UserID,
		Username: p.Username,
		Action:   "sign_up",
		IP:       c.ClientIP(),
	})

	h.issueSession(c, p)
}

// SignIn handles POST /api/auth/signin.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	p, err := h.profiles.FindByEmail(ctx, req.Email)
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		UserID:   p.UserID,
		Username: p.Username,
		Action:   "sign_in",
		IP:       c.ClientIP(),
	})

	h.issueSession(c, p)
}

// SignInAnonymously handles POST /api/auth/anonymous.
// Creates a throwaway guest profile that still goes through onboarding.
func (h *AuthHandler) SignInAnonymously(c *gin.Context) {
	ctx := c.Request.Context()
	p := &model.Profile{
		UserID:    uuid.NewString(),
		Username:  AnonymousUsername + "-" + uuid.NewString()[:8],
		Anonymous: true,
	}
	if err := h.profiles.Create(ctx, p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	h.auditor.Log(audit.Entry{
		TraceID: mw.GetTraceID(c),
		UserID:  p.UserID,
		Action:  "sign_in_anonymous",
		IP:      c.ClientIP(),
	})

	h.issueSession(c, p)
}

// SignOut handles POST /api/auth/signout. The session (cache entry and
// live engine) is dropped; the profile row is untouched.
func (h *AuthHandler) SignOut(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+tokenStr)

	if userID := mw.GetUserID(c); userID != "" {
		h.sessions.Remove(userID)
		h.auditor.Log(audit.Entry{
			TraceID: mw.GetTraceID(c),
			UserID:  userID,
			Action:  "sign_out",
			IP:      c.ClientIP(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

// issueSession mints a token, stores the session key, and boots the
// user's engine.
func (h *AuthHandler) issueSession(c *gin.Context, p *model.Profile) {
	token, err := mw.GenerateToken(p.UserID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	// Without the session key the Auth middleware rejects the token, so a
	// store failure here means no session was issued at all.
	if err := h.cache.Set(ctx, "session:"+token, p.UserID, h.sec.JWTTTLH); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}

	now := time.Now()
	_ = h.profiles.TouchLastLogin(ctx, p.UserID, now)

	h.sessions.Get(p.UserID).Start(context.Background())

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    p.UserID,
		"username":   p.Username,
		"onboarding": p.NeedsOnboarding(),
	})
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
