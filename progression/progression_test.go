package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPForLevel(t *testing.T) {
	assert.Equal(t, 50, XPForLevel(1))
	assert.Equal(t, 100, XPForLevel(2))
	assert.Equal(t, 150, XPForLevel(3))
	// Out-of-contract input clamps to level 1 rather than going negative.
	assert.Equal(t, 50, XPForLevel(0))
}

func TestApply(t *testing.T) {
	cases := []struct {
		name      string
		xp, level int
		gained    int
		wantXP    int
		wantLevel int
		wantUp    bool
	}{
		{"exact threshold", 0, 1, 50, 0, 2, true},
		{"below threshold", 10, 1, 39, 49, 1, false},
		{"multi level jump", 0, 1, 260, 110, 3, true},
		{"zero gain", 20, 2, 0, 20, 2, false},
		{"one short", 0, 1, 49, 49, 1, false},
		{"spill into next", 40, 1, 15, 5, 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			xp, level, up := Apply(tc.xp, tc.level, tc.gained)
			assert.Equal(t, tc.wantXP, xp)
			assert.Equal(t, tc.wantLevel, level)
			assert.Equal(t, tc.wantUp, up)
		})
	}
}

func TestApply_ZeroGainIsIdentity(t *testing.T) {
	for _, g := range []int{0, 10, 50, 260, 9999} {
		xp, level, _ := Apply(0, 1, g)
		xp2, level2, up2 := Apply(xp, level, 0)
		assert.Equal(t, xp, xp2)
		assert.Equal(t, level, level2)
		assert.False(t, up2)
	}
}

func TestApply_RemainderBelowNextThreshold(t *testing.T) {
	for g := 0; g <= 1000; g += 7 {
		xp, level, _ := Apply(0, 1, g)
		assert.Less(t, xp, XPForLevel(level), "gained=%d", g)
		assert.GreaterOrEqual(t, level, MinLevel)
	}
}

func TestTotalXP(t *testing.T) {
	assert.Equal(t, 0, TotalXP(0, 1))
	assert.Equal(t, 30, TotalXP(30, 1))
	assert.Equal(t, 50, TotalXP(0, 2))
	// level 3 floor is 50+100, plus 110 in-level
	assert.Equal(t, 260, TotalXP(110, 3))

	// Flattening then reapplying is consistent with Apply.
	xp, level, _ := Apply(0, 1, 260)
	assert.Equal(t, 260, TotalXP(xp, level))
}
