package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/model"
)

func activeUser(t *testing.T, a *app, username, email string) string {
	t.Helper()
	token, _ := signUp(t, a, username, email)
	onboard(t, a, token, profile.FlavorFantasy, "Errand Ranger")
	return token
}

func TestCreateQuest(t *testing.T) {
	a := newApp(t)
	token := activeUser(t, a, "alice", "alice@example.com")

	w := a.do(http.MethodPost, "/api/quests", map[string]interface{}{
		"task":     "do the dishes",
		"subtasks": []string{"plates", "pans"},
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.NotZero(t, resp["quest_id"])
	q := resp["quest"].(map[string]interface{})
	assert.Equal(t, "Conquer the Morning Dishes", q["title"])
	xp := q["xp"].(float64)
	assert.GreaterOrEqual(t, xp, float64(5))
	assert.LessOrEqual(t, xp, float64(20))
	assert.Equal(t, "Errand Ranger", q["recommended_class"])
}

func TestCreateQuestValidation(t *testing.T) {
	a := newApp(t)
	token := activeUser(t, a, "alice", "alice@example.com")

	w := a.do(http.MethodPost, "/api/quests", map[string]string{"task": ""}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListQuests(t *testing.T) {
	a := newApp(t)
	token := activeUser(t, a, "alice", "alice@example.com")

	for _, task := range []string{"one", "two", "three"} {
		w := a.do(http.MethodPost, "/api/quests", map[string]string{"task": task}, token)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := a.do(http.MethodGet, "/api/quests", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["quests"], 3)

	w = a.do(http.MethodGet, "/api/quests?status=completed", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["quests"])

	w = a.do(http.MethodGet, "/api/quests?status=bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompleteQuestMovesAndAwards(t *testing.T) {
	a := newApp(t)
	token := activeUser(t, a, "alice", "alice@example.com")

	w := a.do(http.MethodPost, "/api/quests", map[string]string{"task": "laundry"}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	questID := int64(decode(t, w)["quest_id"].(float64))

	w = a.do(http.MethodPost, fmt.Sprintf("/api/quests/%d/complete", questID), nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.NotZero(t, resp["xp_awarded"])

	// The quest moved collections.
	w = a.do(http.MethodGet, "/api/quests", nil, token)
	assert.Empty(t, decode(t, w)["quests"])
	w = a.do(http.MethodGet, "/api/quests?status=completed", nil, token)
	assert.Len(t, decode(t, w)["quests"], 1)

	// Completing again 404s: the active row is gone.
	w = a.do(http.MethodPost, fmt.Sprintf("/api/quests/%d/complete", questID), nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteOtherUsersQuest(t *testing.T) {
	a := newApp(t)
	tokenA := activeUser(t, a, "alice", "alice@example.com")
	tokenB := activeUser(t, a, "bob", "bob@example.com")

	w := a.do(http.MethodPost, "/api/quests", map[string]string{"task": "secret"}, tokenA)
	require.Equal(t, http.StatusCreated, w.Code)
	questID := int64(decode(t, w)["quest_id"].(float64))

	w = a.do(http.MethodPost, fmt.Sprintf("/api/quests/%d/complete", questID), nil, tokenB)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteQuestIdempotent(t *testing.T) {
	a := newApp(t)
	token := activeUser(t, a, "alice", "alice@example.com")

	w := a.do(http.MethodPost, "/api/quests", map[string]string{"task": "gym"}, token)
	require.Equal(t, http.StatusCreated, w.Code)
	questID := int64(decode(t, w)["quest_id"].(float64))

	w = a.do(http.MethodDelete, fmt.Sprintf("/api/quests/%d", questID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodDelete, fmt.Sprintf("/api/quests/%d", questID), nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	a.db.Model(&model.Quest{}).Count(&count)
	assert.Zero(t, count)
}

func TestQuestRoutesRequireAuth(t *testing.T) {
	a := newApp(t)
	w := a.do(http.MethodGet, "/api/quests", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = a.do(http.MethodPost, "/api/quests", map[string]string{"task": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
