package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultMaxConflictRetries = 8

// Engine applies the economy rules to player state. It keeps no player state
// of its own: each action reads through the Store and commits one
// conditional mutation, re-reading whenever another writer got there first.
type Engine struct {
	store      Store
	cfg        EconomyConfig
	clock      Clock
	log        *logrus.Logger
	metrics    *gameMetrics
	maxRetries int
}

// CollectResult is the outcome of an idle collection.
type CollectResult struct {
	Collected int64       `json:"collected"`
	Coins     int64       `json:"coins"`
	State     PlayerState `json:"state"`
}

func NewEngine(store Store, cfg EconomyConfig, clock Clock, logger *logrus.Logger, metrics *gameMetrics) *Engine {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		store:      store,
		cfg:        cfg,
		clock:      clock,
		log:        logger,
		metrics:    metrics,
		maxRetries: defaultMaxConflictRetries,
	}
}

func (e *Engine) Config() EconomyConfig {
	return e.cfg
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Register creates the player if it does not exist yet and returns its state.
func (e *Engine) Register(ctx context.Context, playerID string) (PlayerState, error) {
	if !isValidPlayerID(playerID) {
		return PlayerState{}, ErrPlayerNotFound
	}
	return e.store.ReadState(ctx, playerID, e.clock.Now())
}

// SyncState folds idle accrual up to the engine clock into stored state.
func (e *Engine) SyncState(ctx context.Context, playerID string) (PlayerState, error) {
	res, err := e.Sync(ctx, playerID, e.clock.Now())
	if err != nil {
		return PlayerState{}, err
	}
	return res.State, nil
}

// Collect credits every whole interval elapsed since the checkpoint. Nothing
// to collect is not an error: Collected is 0 and the state is unchanged.
func (e *Engine) Collect(ctx context.Context, playerID string, now time.Time) (CollectResult, error) {
	return e.accrue(ctx, playerID, now, "collect")
}

// Sync does what Collect does on behalf of state reads and the background
// sweep, and is counted apart from player collects.
func (e *Engine) Sync(ctx context.Context, playerID string, now time.Time) (CollectResult, error) {
	return e.accrue(ctx, playerID, now, "sync")
}

func (e *Engine) accrue(ctx context.Context, playerID string, now time.Time, action string) (CollectResult, error) {
	if !isValidPlayerID(playerID) {
		return CollectResult{}, ErrPlayerNotFound
	}

	var collected int64
	st, err := e.withRetry(ctx, playerID, now, func(st PlayerState) (PlayerState, error) {
		next, credited, err := e.syncFrom(ctx, st, now)
		collected = credited
		return next, err
	})
	e.metrics.observeAction(action, err)
	if err != nil {
		return CollectResult{}, err
	}
	return CollectResult{Collected: collected, Coins: st.Coins, State: st}, nil
}

// Mine syncs idle time, then grants the click reward unless the previous
// click is still inside the cooldown window.
func (e *Engine) Mine(ctx context.Context, playerID string, now time.Time) (PlayerState, error) {
	if !isValidPlayerID(playerID) {
		return PlayerState{}, ErrPlayerNotFound
	}

	cooldown := e.cfg.Cooldown()
	st, err := e.withRetry(ctx, playerID, now, func(st PlayerState) (PlayerState, error) {
		st, _, err := e.syncFrom(ctx, st, now)
		if err != nil {
			return st, err
		}

		if st.LastClickAt != nil {
			if elapsed := now.Sub(*st.LastClickAt); elapsed < cooldown {
				return st, &CooldownError{Remaining: cooldown - elapsed}
			}
		}

		gain := e.cfg.ClickGain(st.Upgrades.SuperClick)
		next, err := e.store.ApplyMine(ctx, playerID, st.Version, gain, now)
		if err != nil {
			return st, err
		}
		e.metrics.creditCoins("click", gain)
		return next, nil
	})
	e.metrics.observeAction("mine", err)
	if err != nil {
		e.logRejection(playerID, "mine", err)
		return PlayerState{}, err
	}
	return st, nil
}

// Purchase syncs idle time, then buys one level of kind. It fails without
// changing anything at max level or when the balance is short.
func (e *Engine) Purchase(ctx context.Context, playerID string, kind UpgradeKind, now time.Time) (PlayerState, error) {
	if !isValidPlayerID(playerID) {
		return PlayerState{}, ErrPlayerNotFound
	}
	if _, err := ParseUpgradeKind(string(kind)); err != nil {
		return PlayerState{}, err
	}

	st, err := e.withRetry(ctx, playerID, now, func(st PlayerState) (PlayerState, error) {
		st, _, err := e.syncFrom(ctx, st, now)
		if err != nil {
			return st, err
		}

		level := st.Upgrades.Level(kind)
		cost, ok := e.cfg.CostOf(kind, level)
		if !ok {
			return st, ErrMaxLevelReached
		}
		if st.Coins < cost {
			return st, ErrNotEnoughCoins
		}

		next, err := e.store.ApplyPurchase(ctx, playerID, st.Version, kind, cost, now)
		if err != nil {
			return st, err
		}
		e.metrics.spendCoins(string(kind), cost)
		return next, nil
	})
	e.metrics.observeAction("purchase", err)
	if err != nil {
		e.logRejection(playerID, "purchase", err)
		return PlayerState{}, err
	}
	return st, nil
}

// PlayerIDs lists every stored player.
func (e *Engine) PlayerIDs(ctx context.Context) ([]string, error) {
	return e.store.ListPlayerIDs(ctx)
}

// NextCost is the price of the next level of kind, or false at max level.
func (e *Engine) NextCost(st PlayerState, kind UpgradeKind) (int64, bool) {
	return e.cfg.CostOf(kind, st.Upgrades.Level(kind))
}

// CooldownRemaining is how long st must wait at now before mining again.
func (e *Engine) CooldownRemaining(st PlayerState, now time.Time) time.Duration {
	if st.LastClickAt == nil {
		return 0
	}
	remaining := e.cfg.Cooldown() - now.Sub(*st.LastClickAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// syncFrom credits the intervals elapsed since st's checkpoint. It returns st
// untouched when no whole interval has passed.
func (e *Engine) syncFrom(ctx context.Context, st PlayerState, now time.Time) (PlayerState, int64, error) {
	level := st.Upgrades.AutoMiner
	intervals, checkpoint := Accrue(st.LastActivityAt, now, e.cfg.Interval(level))
	if intervals == 0 {
		return st, 0, nil
	}

	credit := intervals * e.cfg.AccrualRate(level)
	next, err := e.store.CreditAndCheckpoint(ctx, st.PlayerID, st.Version, credit, checkpoint)
	if err != nil {
		return st, 0, err
	}
	e.metrics.creditCoins("idle", credit)
	return next, credit, nil
}

// withRetry reads the player and runs step, starting over from a fresh read
// each time step loses a version race.
func (e *Engine) withRetry(ctx context.Context, playerID string, now time.Time, step func(PlayerState) (PlayerState, error)) (PlayerState, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return PlayerState{}, err
		}

		st, err := e.store.ReadState(ctx, playerID, now)
		if err != nil {
			return PlayerState{}, fmt.Errorf("read player %s: %w", playerID, err)
		}

		next, err := step(st)
		if !errors.Is(err, ErrStateConflict) {
			return next, err
		}

		e.metrics.observeConflict()
		if attempt >= e.maxRetries {
			return PlayerState{}, fmt.Errorf("player %s after %d attempts: %w", playerID, attempt+1, err)
		}
	}
}

func (e *Engine) logRejection(playerID string, action string, err error) {
	entry := e.log.WithFields(logrus.Fields{
		"playerId": playerID,
		"action":   action,
	})
	if isExpectedRejection(err) {
		entry.WithError(err).Debug("action rejected")
		return
	}
	entry.WithError(err).Error("action failed")
}

func isExpectedRejection(err error) bool {
	return errors.Is(err, ErrCooldownActive) ||
		errors.Is(err, ErrNotEnoughCoins) ||
		errors.Is(err, ErrMaxLevelReached) ||
		errors.Is(err, ErrUnknownUpgrade)
}
