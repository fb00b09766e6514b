// Package quest owns the per-user quest board: the active and completed
// collections, their mutations, and live change notification.
package quest

import (
	"context"
	"errors"
	"sync"

	"github.com/SelaCrow/habit-forge/cache"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("quest: not found")
	ErrNotAuthenticated = errors.New("quest: no authenticated session")
)

// ChannelFor returns the pub/sub channel carrying board-change events for a
// user. Payloads are advisory; subscribers re-query for a fresh snapshot.
func ChannelFor(userID string) string {
	return "quests:" + userID
}

// Service handles all quest board operations.
type Service struct {
	db       *gorm.DB
	pubsub   cache.PubSub
	profiles *profile.Store
	logger   *zap.Logger
}

// NewService creates a quest Service.
func NewService(db *gorm.DB, ps cache.PubSub, profiles *profile.Store, logger *zap.Logger) *Service {
	return &Service{db: db, pubsub: ps, profiles: profiles, logger: logger}
}

// Save appends a quest to the user's active collection and returns its
// store-assigned ID.
func (svc *Service) Save(ctx context.Context, q *model.Quest) (int64, error) {
	if q.UserID == "" {
		return 0, ErrNotAuthenticated
	}
	if err := svc.db.WithContext(ctx).Create(q).Error; err != nil {
		return 0, err
	}
	svc.notify(ctx, q.UserID)
	return q.ID, nil
}

// ListActive returns the user's active quests ordered by creation time
// ascending.
func (svc *Service) ListActive(ctx context.Context, userID string) ([]model.Quest, error) {
	var quests []model.Quest
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&quests).Error
	return quests, err
}

// ListCompleted returns the user's completed quests, most recent first.
func (svc *Service) ListCompleted(ctx context.Context, userID string) ([]model.CompletedQuest, error) {
	var quests []model.CompletedQuest
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("completed_at DESC").
		Find(&quests).Error
	return quests, err
}

// CompleteResult reports a completed quest's reward.
type CompleteResult struct {
	XPAwarded int
	Level     int
	LeveledUp bool
}

// Complete moves a quest from the active to the completed collection and
// awards its XP. The copy and delete run in one transaction, so a failure
// on either side leaves both collections untouched.
func (svc *Service) Complete(ctx context.Context, userID string, questID int64) (CompleteResult, error) {
	var moved model.Quest
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q model.Quest
		if err := tx.Where("user_id = ? AND id = ?", userID, questID).First(&q).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		done := model.CompletedQuest{
			QuestID:          q.ID,
			UserID:           q.UserID,
			Title:            q.Title,
			Narrative:        q.Narrative,
			XP:               q.XP,
			RecommendedClass: q.RecommendedClass,
			Subtasks:         q.Subtasks,
			IsDaily:          q.IsDaily,
			CreatedAt:        q.CreatedAt,
		}
		if err := tx.Create(&done).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Quest{}, q.ID).Error; err != nil {
			return err
		}
		moved = q
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}

	award, err := svc.profiles.AwardXP(ctx, userID, moved.XP)
	if err != nil {
		// The move already committed; the reward is retried by the
		// reconciliation-minded caller, not rolled back.
		svc.logger.Error("xp award failed after completion",
			zap.String("user_id", userID),
			zap.Int64("quest_id", questID),
			zap.Error(err))
		return CompleteResult{XPAwarded: moved.XP}, err
	}

	svc.logger.Info("quest completed",
		zap.String("user_id", userID),
		zap.Int64("quest_id", questID),
		zap.Int("xp", moved.XP))
	svc.notify(ctx, userID)
	return CompleteResult{XPAwarded: moved.XP, Level: award.Level, LeveledUp: award.LeveledUp}, nil
}

// Delete removes a quest from the active collection. Deleting a quest that
// is already gone is a no-op success.
func (svc *Service) Delete(ctx context.Context, userID string, questID int64) error {
	res := svc.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, questID).
		Delete(&model.Quest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		svc.notify(ctx, userID)
	}
	return nil
}

// SubscribeActive delivers the full active list now and after every board
// change, ordered by creation time ascending. The returned cancel func stops
// further deliveries.
func (svc *Service) SubscribeActive(ctx context.Context, userID string, onUpdate func([]model.Quest)) (func(), error) {
	return svc.subscribe(ctx, userID, func(c context.Context) {
		quests, err := svc.ListActive(c, userID)
		if err != nil {
			svc.logger.Warn("active list refresh failed",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		onUpdate(quests)
	})
}

// SubscribeCompleted is SubscribeActive for the completed collection,
// most recent first.
func (svc *Service) SubscribeCompleted(ctx context.Context, userID string, onUpdate func([]model.CompletedQuest)) (func(), error) {
	return svc.subscribe(ctx, userID, func(c context.Context) {
		quests, err := svc.ListCompleted(c, userID)
		if err != nil {
			svc.logger.Warn("completed list refresh failed",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		onUpdate(quests)
	})
}

func (svc *Service) subscribe(ctx context.Context, userID string, deliver func(context.Context)) (func(), error) {
	msgCh, unsub, err := svc.pubsub.Subscribe(ctx, ChannelFor(userID))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		deliver(ctx) // initial snapshot
		for {
			select {
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				deliver(ctx)
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

func (svc *Service) notify(ctx context.Context, userID string) {
	if err := svc.pubsub.Publish(ctx, ChannelFor(userID), "changed"); err != nil {
		svc.logger.Warn("board notify failed", zap.String("user_id", userID), zap.Error(err))
	}
}
