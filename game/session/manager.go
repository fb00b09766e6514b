package session

import (
	"sync"
	"time"

	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"go.uber.org/zap"
)

// Manager owns one Engine per signed-in user and reaps idle ones.
type Manager struct {
	profiles *profile.Store
	quests   *quest.Service
	dailies  *daily.Service
	logger   *zap.Logger
	idleMax  time.Duration

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates a session Manager. idleMax bounds how long an engine
// may sit untouched before the sweep stops it.
func NewManager(profiles *profile.Store, quests *quest.Service, dailies *daily.Service, idleMax time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		profiles: profiles,
		quests:   quests,
		dailies:  dailies,
		logger:   logger,
		idleMax:  idleMax,
		engines:  make(map[string]*Engine),
	}
}

// Get returns the user's engine, creating one on first use.
func (m *Manager) Get(userID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[userID]; ok {
		return e
	}
	e := NewEngine(userID, m.profiles, m.quests, m.dailies, m.logger)
	m.engines[userID] = e
	return e
}

// Peek returns the user's engine without creating one.
func (m *Manager) Peek(userID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[userID]
	return e, ok
}

// Remove stops and drops the user's engine. Called on sign-out.
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	e, ok := m.engines[userID]
	delete(m.engines, userID)
	m.mu.Unlock()
	if ok {
		e.SignOut()
		e.Stop()
	}
}

// Count reports how many engines are live.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// SweepIdle stops engines idle longer than idleMax and returns how many
// were reaped. The scheduler calls this periodically.
func (m *Manager) SweepIdle() int {
	cutoff := time.Now().Add(-m.idleMax)

	m.mu.Lock()
	var stale []*Engine
	for id, e := range m.engines {
		if e.idleSince().Before(cutoff) {
			stale = append(stale, e)
			delete(m.engines, id)
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		e.SignOut()
		e.Stop()
	}
	if len(stale) > 0 {
		m.logger.Info("reaped idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}
