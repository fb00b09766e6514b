// Package daily implements the one-per-calendar-day quest pipeline: a
// day-scoped cache of the generated candidate and its accept/discard state.
package daily

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/config"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/generator"
	"github.com/SelaCrow/habit-forge/model"
	"go.uber.org/zap"
)

// Candidate lifecycle states for a given (user, date) key.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusDiscarded = "discarded"
)

// ErrNoCandidate is returned by Accept when there is nothing to accept:
// no candidate was generated today, or it was already decided.
var ErrNoCandidate = errors.New("daily: no pending candidate")

// Cache entries outlive their day but never matter again, so an expiry a
// little over 24h keeps the keyspace tidy without risking early eviction.
const entryTTL = 48 * time.Hour

// Service runs the daily quest lifecycle.
type Service struct {
	cache  cache.Cache
	gen    generator.Generator
	quests *quest.Service
	cfg    config.GameConfig
	logger *zap.Logger

	now func() time.Time // injectable for day-boundary tests

	locks sync.Map // userID -> *sync.Mutex, serializes Ensure/Accept per user
}

// NewService creates the daily quest Service.
func NewService(c cache.Cache, gen generator.Generator, quests *quest.Service, cfg config.GameConfig, logger *zap.Logger) *Service {
	return &Service{
		cache:  c,
		gen:    gen,
		quests: quests,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Today returns the local calendar date used as the cache key component.
func (s *Service) Today() string {
	return s.now().Format("2006-01-02")
}

func statusKey(userID, date string) string {
	return fmt.Sprintf("daily-status-%s-%s", userID, date)
}

func questKey(userID, date string) string {
	return fmt.Sprintf("daily-quest-%s-%s", userID, date)
}

// Status returns today's candidate state for the user, defaulting to
// pending when the key is unset. Transport errors propagate: treating them
// as pending could regenerate a candidate the user already decided on.
func (s *Service) Status(ctx context.Context, userID string) (string, error) {
	v, err := s.cache.Get(ctx, statusKey(userID, s.Today()))
	if cache.IsNotFound(err) {
		return StatusPending, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Service) setStatus(ctx context.Context, userID, status string) error {
	return s.cache.Set(ctx, statusKey(userID, s.Today()), status, entryTTL)
}

// CachedCandidate returns today's generated-but-undecided candidate, or nil.
func (s *Service) CachedCandidate(ctx context.Context, userID string) (*model.Quest, error) {
	raw, err := s.cache.Get(ctx, questKey(userID, s.Today()))
	if cache.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var q model.Quest
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		// Corrupt entry: treat as absent so it gets regenerated over.
		s.logger.Warn("unreadable daily candidate entry",
			zap.String("user_id", userID), zap.Error(err))
		return nil, nil
	}
	return &q, nil
}

func (s *Service) cacheCandidate(ctx context.Context, userID string, q *model.Quest) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, questKey(userID, s.Today()), string(raw), entryTTL)
}

func (s *Service) userLock(userID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Ensure returns today's candidate for the user, generating one if needed.
// The status check runs first: once today's quest was accepted or discarded,
// no candidate is offered and no generation is attempted, even if the cached
// candidate entry has vanished. Concurrent calls for one user are serialized
// so a single candidate is generated per day.
func (s *Service) Ensure(ctx context.Context, userID, flavor, class string) (*model.Quest, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status != StatusPending {
		return nil, nil
	}

	cached, err := s.CachedCandidate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	narrative, err := s.gen.GenerateDaily(ctx, flavor, class)
	if err != nil {
		// Soft failure: fall back to canned text, never surface an error.
		s.logger.Warn("daily generation failed, using fallback",
			zap.String("user_id", userID), zap.Error(err))
		narrative = generator.FallbackNarrative
	}

	title, _ := generator.SplitNarrative(narrative)
	q := &model.Quest{
		UserID:           userID,
		Title:            title,
		Narrative:        narrative,
		XP:               s.rollXP(),
		RecommendedClass: class,
		IsDaily:          true,
		CreatedAt:        s.now(),
	}
	if err := s.cacheCandidate(ctx, userID, q); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, userID, StatusPending); err != nil {
		return nil, err
	}
	return q, nil
}

// Accept persists today's candidate to the active collection and marks the
// date accepted. Terminal for the day.
func (s *Service) Accept(ctx context.Context, userID string) (*model.Quest, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	status, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status != StatusPending {
		return nil, ErrNoCandidate
	}
	candidate, err := s.CachedCandidate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, ErrNoCandidate
	}

	candidate.ID = 0 // store assigns the real ID
	if _, err := s.quests.Save(ctx, candidate); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, userID, StatusAccepted); err != nil {
		return nil, err
	}
	_ = s.cache.Del(ctx, questKey(userID, s.Today()))
	return candidate, nil
}

// Discard declines today's candidate without persisting it. Terminal for
// the day: no regeneration happens until tomorrow.
func (s *Service) Discard(ctx context.Context, userID string) error {
	if err := s.setStatus(ctx, userID, StatusDiscarded); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, questKey(userID, s.Today()))
	return nil
}

func (s *Service) rollXP() int {
	lo, hi := s.cfg.DailyXPMin, s.cfg.DailyXPMax
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}
