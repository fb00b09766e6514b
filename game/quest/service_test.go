package quest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/model"
	"github.com/SelaCrow/habit-forge/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *profile.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	profiles := profile.NewStore(db, c, ps, zap.NewNop())
	svc := NewService(db, ps, profiles, zap.NewNop())
	return svc, profiles
}

func seedUser(t *testing.T, profiles *profile.Store, userID string) {
	t.Helper()
	require.NoError(t, profiles.Create(context.Background(), &model.Profile{
		UserID:   userID,
		Username: "u_" + userID,
	}))
}

func TestSave_RequiresUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Save(context.Background(), &model.Quest{Title: "orphan"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSaveAndListActive_Ordering(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"first", "second", "third"} {
		_, err := svc.Save(ctx, &model.Quest{
			UserID:    "u1",
			Title:     title,
			XP:        10,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	quests, err := svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, quests, 3)
	assert.Equal(t, "first", quests[0].Title)
	assert.Equal(t, "third", quests[2].Title)
}

func TestComplete_MovesAndAwards(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	id, err := svc.Save(ctx, &model.Quest{UserID: "u1", Title: "write report", Narrative: "Forge the Scroll!", XP: 60})
	require.NoError(t, err)

	res, err := svc.Complete(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, 60, res.XPAwarded)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.Level)

	active, err := svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active, "completed quest must leave the active collection")

	done, err := svc.ListCompleted(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "write report", done[0].Title)
	assert.Equal(t, 60, done[0].XP)
	assert.Equal(t, id, done[0].QuestID)

	p, err := profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.XP)
	assert.Equal(t, 2, p.Level)
}

func TestComplete_MissingQuest(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")

	_, err := svc.Complete(context.Background(), "u1", 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComplete_WrongUser(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	seedUser(t, profiles, "u2")
	ctx := context.Background()

	id, err := svc.Save(ctx, &model.Quest{UserID: "u1", Title: "mine", XP: 10})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "u2", id)
	assert.ErrorIs(t, err, ErrNotFound)

	// u1's quest is untouched.
	active, err := svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDelete_Idempotent(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	id, err := svc.Save(ctx, &model.Quest{UserID: "u1", Title: "temp", XP: 5})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u1", id))
	require.NoError(t, svc.Delete(ctx, "u1", id), "second delete is a no-op success")
	require.NoError(t, svc.Delete(ctx, "u1", 12345))

	active, err := svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSubscribeActive_DeliversSnapshots(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	var mu sync.Mutex
	var last []model.Quest
	updates := make(chan int, 8)

	cancel, err := svc.SubscribeActive(ctx, "u1", func(quests []model.Quest) {
		mu.Lock()
		last = quests
		mu.Unlock()
		updates <- len(quests)
	})
	require.NoError(t, err)
	defer cancel()

	// Initial snapshot: empty board.
	select {
	case n := <-updates:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = svc.Save(ctx, &model.Quest{UserID: "u1", Title: "new quest", XP: 5})
	require.NoError(t, err)

	select {
	case n := <-updates:
		assert.Equal(t, 1, n)
		mu.Lock()
		assert.Equal(t, "new quest", last[0].Title)
		mu.Unlock()
	case <-time.After(time.Second):
		t.Fatal("no snapshot after save")
	}
}

func TestSubscribeActive_CancelStopsDelivery(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	updates := make(chan struct{}, 8)
	cancel, err := svc.SubscribeActive(ctx, "u1", func([]model.Quest) {
		updates <- struct{}{}
	})
	require.NoError(t, err)

	<-updates // initial snapshot
	cancel()
	cancel() // double-cancel is safe

	_, err = svc.Save(ctx, &model.Quest{UserID: "u1", Title: "after cancel", XP: 5})
	require.NoError(t, err)

	select {
	case <-updates:
		t.Fatal("subscriber received update after cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeCompleted_DescendingOrder(t *testing.T) {
	svc, profiles := newTestService(t)
	seedUser(t, profiles, "u1")
	ctx := context.Background()

	id1, err := svc.Save(ctx, &model.Quest{UserID: "u1", Title: "older", XP: 5})
	require.NoError(t, err)
	id2, err := svc.Save(ctx, &model.Quest{UserID: "u1", Title: "newer", XP: 5})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "u1", id1)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // distinct completed_at
	_, err = svc.Complete(ctx, "u1", id2)
	require.NoError(t, err)

	done, err := svc.ListCompleted(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "newer", done[0].Title)
	assert.Equal(t, "older", done[1].Title)
}
