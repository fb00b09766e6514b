// Package profile owns the persistent user profile: identity fields, the
// flavor/class onboarding gate, and XP/level progression.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/model"
	"github.com/SelaCrow/habit-forge/progression"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means the user authenticated but no profile row exists.
	// Callers must not confuse it with a transport/database failure.
	ErrNotFound = errors.New("profile: not found")

	ErrUnknownField  = errors.New("profile: unknown field")
	ErrInvalidFlavor = errors.New("profile: unknown flavor")
	ErrInvalidClass  = errors.New("profile: class not in flavor list")
	ErrFlavorUnset   = errors.New("profile: flavor must be chosen before class")
)

// Updatable field names for UpdateField.
const (
	FieldFlavor   = "flavor"
	FieldClass    = "character_class"
	FieldUsername = "username"
)

// RankingKey is the sorted set holding total XP per user.
const RankingKey = "ranking:xp"

// ChannelFor returns the pub/sub channel carrying change events for a user's
// profile.
func ChannelFor(userID string) string {
	return "profile:" + userID
}

// Event is published on a profile's channel after every mutation.
type Event struct {
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"` // "field" | "xp"
	LeveledUp bool   `json:"leveled_up,omitempty"`
}

// Store reads and writes user profiles.
type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewStore creates a profile Store.
func NewStore(db *gorm.DB, c cache.Cache, ps cache.PubSub, logger *zap.Logger) *Store {
	return &Store{db: db, cache: c, pubsub: ps, logger: logger}
}

// Load fetches a profile by user ID. A missing row is ErrNotFound; any other
// failure is returned verbatim.
func (s *Store) Load(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a fresh profile row. New profiles start at xp=0, level=1
// with flavor and class unset, so onboarding is forced.
func (s *Store) Create(ctx context.Context, p *model.Profile) error {
	if p.Level < progression.MinLevel {
		p.Level = progression.MinLevel
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// FindByUsername returns the profile owning the given display name, or
// ErrNotFound.
func (s *Store) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.WithContext(ctx).First(&p, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByEmail returns the profile registered under the given email, or
// ErrNotFound.
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	var p model.Profile
	err := s.db.WithContext(ctx).First(&p, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UsernameExists reports whether a display name is already taken. Sign-up
// pre-checks this before creating credentials.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := s.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, nil
}

// UpdateField partially updates exactly one named field and returns the
// refreshed profile. Choosing a flavor clears any previously chosen class,
// since class lists are flavor-dependent.
func (s *Store) UpdateField(ctx context.Context, userID, field, value string) (*model.Profile, error) {
	p, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	switch field {
	case FieldFlavor:
		if !ValidFlavor(value) {
			return nil, ErrInvalidFlavor
		}
		updates["flavor"] = value
		if p.Flavor != value {
			updates["char_class"] = ""
		}
	case FieldClass:
		if p.Flavor == "" {
			return nil, ErrFlavorUnset
		}
		if !ValidClass(p.Flavor, value) {
			return nil, ErrInvalidClass
		}
		updates["char_class"] = value
	case FieldUsername:
		updates["username"] = value
	default:
		return nil, ErrUnknownField
	}

	if err := s.db.WithContext(ctx).Model(p).Updates(updates).Error; err != nil {
		return nil, err
	}
	s.publish(ctx, Event{UserID: userID, Kind: "field"})
	return s.Load(ctx, userID)
}

// AwardResult reports the outcome of an XP award.
type AwardResult struct {
	XP        int
	Level     int
	LeveledUp bool
}

// AwardXP applies gained XP through the progression curve, persists the new
// xp/level pair, refreshes the leaderboard entry, and signals any level-up
// on the profile channel. amount must be non-negative.
func (s *Store) AwardXP(ctx context.Context, userID string, amount int) (AwardResult, error) {
	p, err := s.Load(ctx, userID)
	if err != nil {
		return AwardResult{}, err
	}

	newXP, newLevel, leveledUp := progression.Apply(p.XP, p.Level, amount)
	err = s.db.WithContext(ctx).Model(p).Updates(map[string]interface{}{
		"xp":    newXP,
		"level": newLevel,
	}).Error
	if err != nil {
		return AwardResult{}, err
	}

	// Leaderboard refresh is best-effort; the DB remains the source of truth.
	score := float64(progression.TotalXP(newXP, newLevel))
	if err := s.cache.ZAdd(ctx, RankingKey, score, userID); err != nil {
		s.logger.Warn("ranking refresh failed", zap.String("user_id", userID), zap.Error(err))
	}

	s.publish(ctx, Event{UserID: userID, Kind: "xp", LeveledUp: leveledUp})
	if leveledUp {
		s.logger.Info("level up",
			zap.String("user_id", userID),
			zap.Int("level", newLevel))
	}
	return AwardResult{XP: newXP, Level: newLevel, LeveledUp: leveledUp}, nil
}

// XPForNextLevel returns the threshold the given profile is progressing
// toward, for progress display.
func XPForNextLevel(p *model.Profile) int {
	return progression.XPForLevel(p.Level)
}

// TouchLastLogin stamps the user's last sign-in time. Best-effort: callers
// may ignore the error.
func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Profile{}).
		Where("user_id = ?", userID).
		Update("last_login_at", at).Error
}

// Subscribe delivers every Event published for the user until cancel is
// called or ctx ends. The cancel is idempotent.
func (s *Store) Subscribe(ctx context.Context, userID string, onEvent func(Event)) (func(), error) {
	msgCh, unsub, err := s.pubsub.Subscribe(ctx, ChannelFor(userID))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warn("bad profile event payload", zap.Error(err))
					continue
				}
				onEvent(ev)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			unsub()
		})
	}
	return cancel, nil
}

func (s *Store) publish(ctx context.Context, ev Event) {
	payload, _ := json.Marshal(ev)
	if err := s.pubsub.Publish(ctx, ChannelFor(ev.UserID), string(payload)); err != nil {
		s.logger.Warn("profile event publish failed",
			zap.String("user_id", ev.UserID), zap.Error(err))
	}
}

// TopTotalXP returns up to limit profiles ordered by cumulative XP. It reads
// the cached sorted set first and falls back to scanning profiles when the
// cache is cold, warming entries as it goes.
func (s *Store) TopTotalXP(ctx context.Context, limit int) ([]model.Profile, error) {
	members, err := s.cache.ZRevRange(ctx, RankingKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		profiles := make([]model.Profile, 0, len(members))
		for _, id := range members {
			p, err := s.Load(ctx, id)
			if err != nil {
				continue
			}
			profiles = append(profiles, *p)
		}
		if len(profiles) > 0 {
			return profiles, nil
		}
	}

	var all []model.Profile
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return progression.TotalXP(all[i].XP, all[i].Level) > progression.TotalXP(all[j].XP, all[j].Level)
	})
	// Warm the whole set, not just this query's page. A partially warmed
	// ZSet would satisfy the len check above and under-report larger
	// queries until the next scheduled rebuild.
	for _, p := range all {
		_ = s.cache.ZAdd(ctx, RankingKey, float64(progression.TotalXP(p.XP, p.Level)), p.UserID)
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RefreshRanking rebuilds the leaderboard sorted set from the database.
// Called periodically by the scheduler.
func (s *Store) RefreshRanking(ctx context.Context) (int, error) {
	var all []model.Profile
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return 0, err
	}
	for _, p := range all {
		total := progression.TotalXP(p.XP, p.Level)
		if err := s.cache.ZAdd(ctx, RankingKey, float64(total), p.UserID); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}
