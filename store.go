package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists player state. Every mutation is conditional on the version
// the caller last read: on a mismatch it applies nothing and returns
// ErrStateConflict. Mutations apply all of their effects or none.
type Store interface {
	// ReadState returns the player's state, creating the default state at
	// now on first access.
	ReadState(ctx context.Context, playerID string, now time.Time) (PlayerState, error)

	// CreditAndCheckpoint adds coinsDelta (may be 0) and sets
	// LastActivityAt to checkpoint.
	CreditAndCheckpoint(ctx context.Context, playerID string, expectVersion int64, coinsDelta int64, checkpoint time.Time) (PlayerState, error)

	// ApplyMine adds gain, sets LastClickAt to now and advances
	// LastActivityAt to now. The checkpoint never moves backwards.
	ApplyMine(ctx context.Context, playerID string, expectVersion int64, gain int64, now time.Time) (PlayerState, error)

	// ApplyPurchase debits cost, raises kind by one level and advances
	// LastActivityAt to now. It returns ErrNotEnoughCoins without changes
	// if the balance is below cost.
	ApplyPurchase(ctx context.Context, playerID string, expectVersion int64, kind UpgradeKind, cost int64, now time.Time) (PlayerState, error)

	ListPlayerIDs(ctx context.Context) ([]string, error)
}

// The apply functions are the effects of each Store mutation. Every backend
// runs them against the row it has locked or watched, so the rules live in
// one place.

func applyCredit(coinsDelta int64, checkpoint time.Time) func(*PlayerState) error {
	return func(st *PlayerState) error {
		if st.Coins+coinsDelta < 0 {
			return ErrNotEnoughCoins
		}
		st.Coins += coinsDelta
		st.LastActivityAt = checkpoint.UTC()
		return nil
	}
}

func applyMine(gain int64, now time.Time) func(*PlayerState) error {
	return func(st *PlayerState) error {
		at := now.UTC()
		st.Coins += gain
		st.LastClickAt = &at
		st.LastActivityAt = st.checkpointAt(at)
		return nil
	}
}

func applyPurchase(kind UpgradeKind, cost int64, now time.Time) func(*PlayerState) error {
	return func(st *PlayerState) error {
		if st.Upgrades.Level(kind) >= MaxLevel {
			return ErrMaxLevelReached
		}
		if st.Coins < cost {
			return ErrNotEnoughCoins
		}
		st.Coins -= cost
		st.Upgrades.increment(kind)
		st.LastActivityAt = st.checkpointAt(now.UTC())
		return nil
	}
}

// MemoryStore keeps player state in process. It is safe for concurrent use
// and backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	players map[string]*PlayerState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string]*PlayerState)}
}

func (s *MemoryStore) ReadState(_ context.Context, playerID string, now time.Time) (PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.players[playerID]
	if !ok {
		fresh := newPlayerState(playerID, now)
		st = &fresh
		s.players[playerID] = st
	}
	return st.Clone(), nil
}

func (s *MemoryStore) CreditAndCheckpoint(_ context.Context, playerID string, expectVersion int64, coinsDelta int64, checkpoint time.Time) (PlayerState, error) {
	return s.mutate(playerID, expectVersion, applyCredit(coinsDelta, checkpoint))
}

func (s *MemoryStore) ApplyMine(_ context.Context, playerID string, expectVersion int64, gain int64, now time.Time) (PlayerState, error) {
	return s.mutate(playerID, expectVersion, applyMine(gain, now))
}

func (s *MemoryStore) ApplyPurchase(_ context.Context, playerID string, expectVersion int64, kind UpgradeKind, cost int64, now time.Time) (PlayerState, error) {
	return s.mutate(playerID, expectVersion, applyPurchase(kind, cost, now))
}

func (s *MemoryStore) ListPlayerIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// mutate applies fn to a scratch copy and commits it only if fn succeeds.
func (s *MemoryStore) mutate(playerID string, expectVersion int64, fn func(*PlayerState) error) (PlayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.players[playerID]
	if !ok {
		return PlayerState{}, ErrPlayerNotFound
	}
	if current.Version != expectVersion {
		return current.Clone(), ErrStateConflict
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return current.Clone(), err
	}
	next.Version++
	s.players[playerID] = &next
	return next.Clone(), nil
}
