package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SelaCrow/habit-forge/model"
)

func TestRankingOrdersByTotalXP(t *testing.T) {
	a := newApp(t)

	seed := []struct {
		username string
		xp       int
		level    int
	}{
		{"low", 10, 1},  // total 10
		{"mid", 0, 2},   // total 50
		{"high", 30, 3}, // total 180
	}
	for i, s := range seed {
		p := &model.Profile{
			UserID:   string(rune('a' + i)),
			Username: s.username,
			XP:       s.xp,
			Level:    s.level,
		}
		require.NoError(t, a.db.Create(p).Error)
	}

	w := a.do(http.MethodGet, "/api/ranking/xp", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	entries := resp["ranking"].([]interface{})
	require.Len(t, entries, 3)

	first := entries[0].(map[string]interface{})
	assert.Equal(t, "high", first["username"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, float64(180), first["total_xp"])

	last := entries[2].(map[string]interface{})
	assert.Equal(t, "low", last["username"])
}

func TestRankingLimit(t *testing.T) {
	a := newApp(t)

	for i := 0; i < 5; i++ {
		p := &model.Profile{
			UserID:   string(rune('a' + i)),
			Username: "user" + string(rune('a'+i)),
			Level:    i + 1,
		}
		require.NoError(t, a.db.Create(p).Error)
	}

	w := a.do(http.MethodGet, "/api/ranking/xp?limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["ranking"], 2)

	// Bad limits fall back to the default.
	w = a.do(http.MethodGet, "/api/ranking/xp?limit=0", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["ranking"], 5)
}
