// Package session holds the per-user state machine that ties sign-in,
// onboarding, the quest board and the daily quest into one live snapshot.
//
// All mutation happens on a single goroutine per engine. Public methods
// post commands onto that goroutine, so callers never race each other, and
// async work (daily generation, board and profile event deliveries) posts
// its result back tagged with the epoch it started under. Signing out bumps
// the epoch, which makes any still-in-flight result a no-op.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/SelaCrow/habit-forge/game/daily"
	"github.com/SelaCrow/habit-forge/game/profile"
	"github.com/SelaCrow/habit-forge/game/quest"
	"github.com/SelaCrow/habit-forge/model"
	"go.uber.org/zap"
)

// State is the engine's lifecycle position.
type State string

const (
	StateSignedOut        State = "signed_out"
	StateAuthenticating   State = "authenticating"
	StateProfileLoading   State = "profile_loading"
	StateOnboardingFlavor State = "onboarding_flavor"
	StateOnboardingClass  State = "onboarding_class"
	StateActive           State = "active"
)

// Snapshot is an immutable view of the session handed to subscribers.
// Slices and the profile are copies; receivers may keep them.
type Snapshot struct {
	State           State                  `json:"state"`
	Profile         *model.Profile         `json:"profile,omitempty"`
	ActiveQuests    []model.Quest          `json:"active_quests"`
	CompletedQuests []model.CompletedQuest `json:"completed_quests"`
	DailyQuest      *model.Quest           `json:"daily_quest,omitempty"`
	DailyStatus     string                 `json:"daily_status,omitempty"`
	LeveledUp       bool                   `json:"leveled_up,omitempty"`
	Loading         bool                   `json:"loading"`
	Err             string                 `json:"error,omitempty"`
}

// Engine drives one user's session.
type Engine struct {
	userID   string
	profiles *profile.Store
	quests   *quest.Service
	dailies  *daily.Service
	logger   *zap.Logger

	// ctx outlives any single request: subscriptions and background work
	// hang off it, not off the HTTP request that triggered them.
	ctx       context.Context
	cancelCtx context.CancelFunc

	cmds chan func()
	done chan struct{}
	stop sync.Once

	// Everything below is owned by the run goroutine.
	epoch       uint64
	state       State
	prof        *model.Profile
	active      []model.Quest
	completed   []model.CompletedQuest
	dailyQuest  *model.Quest
	dailyStatus string
	leveledUp   bool
	loading     bool
	lastErr     string
	cancels     []func()

	mu        sync.Mutex
	subs      map[int]func(Snapshot)
	nextSubID int
	snap      Snapshot
	lastTouch time.Time
}

// NewEngine creates and starts an engine for one user.
func NewEngine(userID string, profiles *profile.Store, quests *quest.Service, dailies *daily.Service, logger *zap.Logger) *Engine {
	e := &Engine{
		userID:    userID,
		profiles:  profiles,
		quests:    quests,
		dailies:   dailies,
		logger:    logger.With(zap.String("user_id", userID)),
		cmds:      make(chan func(), 64),
		done:      make(chan struct{}),
		state:     StateSignedOut,
		subs:      make(map[int]func(Snapshot)),
		lastTouch: time.Now(),
	}
	e.ctx, e.cancelCtx = context.WithCancel(context.Background())
	e.snap = Snapshot{State: StateSignedOut}
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case cmd := <-e.cmds:
			cmd()
		case <-e.done:
			e.teardown()
			return
		}
	}
}

// post queues a command for the run goroutine. Returns false after Stop.
func (e *Engine) post(cmd func()) bool {
	select {
	case e.cmds <- cmd:
		return true
	case <-e.done:
		return false
	}
}

// postSync runs cmd on the engine goroutine and waits for it.
func (e *Engine) postSync(cmd func()) {
	ch := make(chan struct{})
	if !e.post(func() {
		cmd()
		close(ch)
	}) {
		return
	}
	<-ch
}

// Stop shuts the engine down for good. Used by the manager's idle sweep.
func (e *Engine) Stop() {
	e.stop.Do(func() {
		close(e.done)
		e.cancelCtx()
	})
}

// teardown runs on the run goroutine when the engine stops.
func (e *Engine) teardown() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
}

// Snapshot returns the most recently published view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTouch = time.Now()
	return e.snap
}

// Subscribe registers fn for every future snapshot and calls it once with
// the current one. The returned cancel is idempotent.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = fn
	current := e.snap
	e.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// publish rebuilds the snapshot from engine state and fans it out.
// Run-goroutine only.
func (e *Engine) publish() {
	snap := Snapshot{
		State:           e.state,
		ActiveQuests:    append([]model.Quest(nil), e.active...),
		CompletedQuests: append([]model.CompletedQuest(nil), e.completed...),
		DailyStatus:     e.dailyStatus,
		LeveledUp:       e.leveledUp,
		Loading:         e.loading,
		Err:             e.lastErr,
	}
	if e.prof != nil {
		p := *e.prof
		snap.Profile = &p
	}
	if e.dailyQuest != nil {
		q := *e.dailyQuest
		snap.DailyQuest = &q
	}

	e.mu.Lock()
	e.snap = snap
	e.lastTouch = time.Now()
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Start moves the session toward Active for an already-authenticated user:
// it loads the profile and either enters onboarding or activates.
func (e *Engine) Start(ctx context.Context) {
	e.post(func() {
		if e.state != StateSignedOut {
			return
		}
		e.state = StateAuthenticating
		e.lastErr = ""
		e.loadProfile(ctx)
	})
}

// loadProfile fetches the profile inline on the run goroutine, so every
// command posted after Start is serialized behind the load and can rely on
// the session having left the loading state.
func (e *Engine) loadProfile(ctx context.Context) {
	e.state = StateProfileLoading
	e.loading = true
	e.publish()

	prof, err := e.profiles.Load(ctx, e.userID)
	e.loading = false
	if err != nil {
		e.lastErr = err.Error()
		e.state = StateSignedOut
		e.publish()
		return
	}
	e.prof = prof
	switch {
	case prof.Flavor == "":
		e.state = StateOnboardingFlavor
	case prof.CharClass == "":
		e.state = StateOnboardingClass
	default:
		e.activate()
		return
	}
	e.publish()
}

// SetFlavor records the chosen narrative flavor during onboarding.
func (e *Engine) SetFlavor(ctx context.Context, flavor string) error {
	var err error
	e.postSync(func() {
		if e.state != StateOnboardingFlavor && e.state != StateOnboardingClass {
			err = profile.ErrFlavorUnset
			return
		}
		prof, uerr := e.profiles.UpdateField(ctx, e.userID, profile.FieldFlavor, flavor)
		if uerr != nil {
			err = uerr
			return
		}
		e.prof = prof
		e.state = StateOnboardingClass
		e.publish()
	})
	return err
}

// SetClass records the chosen class and, once valid, activates the session.
func (e *Engine) SetClass(ctx context.Context, class string) error {
	var err error
	e.postSync(func() {
		if e.state != StateOnboardingClass {
			err = profile.ErrFlavorUnset
			return
		}
		prof, uerr := e.profiles.UpdateField(ctx, e.userID, profile.FieldClass, class)
		if uerr != nil {
			err = uerr
			return
		}
		e.prof = prof
		e.activate()
	})
	return err
}

// activate enters the Active state: live quest subscriptions, profile
// event stream, and the daily quest pipeline. Everything started here uses
// the engine's own context so it survives the request that triggered it.
// Run-goroutine only.
func (e *Engine) activate() {
	e.state = StateActive
	epoch := e.epoch
	ctx := e.ctx

	if cancel, err := e.quests.SubscribeActive(ctx, e.userID, func(qs []model.Quest) {
		e.post(func() {
			if epoch != e.epoch {
				return
			}
			e.active = qs
			e.publish()
		})
	}); err == nil {
		e.cancels = append(e.cancels, cancel)
	} else {
		e.logger.Warn("active quest subscription failed", zap.Error(err))
	}

	if cancel, err := e.quests.SubscribeCompleted(ctx, e.userID, func(qs []model.CompletedQuest) {
		e.post(func() {
			if epoch != e.epoch {
				return
			}
			e.completed = qs
			e.publish()
		})
	}); err == nil {
		e.cancels = append(e.cancels, cancel)
	} else {
		e.logger.Warn("completed quest subscription failed", zap.Error(err))
	}

	if cancel, err := e.profiles.Subscribe(ctx, e.userID, func(ev profile.Event) {
		e.post(func() {
			if epoch != e.epoch {
				return
			}
			prof, lerr := e.profiles.Load(ctx, e.userID)
			if lerr == nil {
				e.prof = prof
			}
			if ev.LeveledUp {
				e.leveledUp = true
			}
			e.publish()
		})
	}); err == nil {
		e.cancels = append(e.cancels, cancel)
	} else {
		e.logger.Warn("profile subscription failed", zap.Error(err))
	}

	e.refreshDaily(epoch)
	e.publish()
}

// refreshDaily loads or generates today's candidate. Run-goroutine only.
func (e *Engine) refreshDaily(epoch uint64) {
	flavor, class := "", ""
	if e.prof != nil {
		flavor, class = e.prof.Flavor, e.prof.CharClass
	}
	ctx := e.ctx
	go func() {
		status, _ := e.dailies.Status(ctx, e.userID)
		q, err := e.dailies.Ensure(ctx, e.userID, flavor, class)
		e.post(func() {
			if epoch != e.epoch {
				return
			}
			if err != nil {
				e.lastErr = err.Error()
			} else {
				e.dailyQuest = q
				e.dailyStatus = status
			}
			e.publish()
		})
	}()
}

// AcceptDaily accepts today's candidate quest.
func (e *Engine) AcceptDaily(ctx context.Context) error {
	var err error
	e.postSync(func() {
		if e.state != StateActive {
			err = quest.ErrNotAuthenticated
			return
		}
		if _, aerr := e.dailies.Accept(ctx, e.userID); aerr != nil {
			err = aerr
			return
		}
		e.dailyQuest = nil
		e.dailyStatus = daily.StatusAccepted
		e.publish()
	})
	return err
}

// DiscardDaily declines today's candidate quest.
func (e *Engine) DiscardDaily(ctx context.Context) error {
	var err error
	e.postSync(func() {
		if e.state != StateActive {
			err = quest.ErrNotAuthenticated
			return
		}
		if derr := e.dailies.Discard(ctx, e.userID); derr != nil {
			err = derr
			return
		}
		e.dailyQuest = nil
		e.dailyStatus = daily.StatusDiscarded
		e.publish()
	})
	return err
}

// AckLevelUp clears the one-shot level-up flag after the client showed it.
func (e *Engine) AckLevelUp() {
	e.postSync(func() {
		if e.leveledUp {
			e.leveledUp = false
			e.publish()
		}
	})
}

// SignOut resets the session to SignedOut. The persisted profile is
// untouched; only live session state is dropped. In-flight async work from
// before the sign-out lands on a stale epoch and is discarded.
func (e *Engine) SignOut() {
	e.postSync(func() {
		e.epoch++
		for _, cancel := range e.cancels {
			cancel()
		}
		e.cancels = nil
		e.state = StateSignedOut
		e.prof = nil
		e.active = nil
		e.completed = nil
		e.dailyQuest = nil
		e.dailyStatus = ""
		e.leveledUp = false
		e.loading = false
		e.lastErr = ""
		e.publish()
	})
}

// idleSince reports the last time anything read or mutated this engine.
func (e *Engine) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTouch
}
