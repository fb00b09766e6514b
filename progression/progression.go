// Package progression holds the pure XP and level arithmetic. Everything
// here is deterministic; persistence and signalling live in game/profile.
package progression

const (
	baseXP   = 50
	perLevel = 50
	MinLevel = 1
)

// XPForLevel returns the XP needed to clear the given level:
// 50 + (level-1)*50. Defined for level >= 1 and monotonically increasing.
func XPForLevel(level int) int {
	if level < MinLevel {
		level = MinLevel
	}
	return baseXP + (level-1)*perLevel
}

// Apply adds gained XP to the current (xp, level) pair, consuming level
// thresholds until the remainder falls below the next one. leveledUp is
// true iff at least one level was gained. Callers guarantee gained >= 0,
// so the loop always terminates.
func Apply(xp, level, gained int) (newXP, newLevel int, leveledUp bool) {
	newXP = xp + gained
	newLevel = level
	for newXP >= XPForLevel(newLevel) {
		newXP -= XPForLevel(newLevel)
		newLevel++
		leveledUp = true
	}
	return newXP, newLevel, leveledUp
}

// TotalXP flattens a (xp, level) pair into a single cumulative score,
// summing all cleared thresholds plus the in-level remainder. Used as the
// leaderboard ordering key so a level 3 player always outranks a level 2
// player regardless of in-level XP.
func TotalXP(xp, level int) int {
	total := xp
	for l := MinLevel; l < level; l++ {
		total += XPForLevel(l)
	}
	return total
}
