package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clk := newFakeClock(testEpoch)
	return NewEngine(store, DefaultEconomyConfig(), clk, quietLogger(), nil), store, clk
}

func TestMineFreshPlayerThenCooldown(t *testing.T) {
	ctx := context.Background()
	engine, _, clk := newTestEngine(t)
	now := clk.Now()

	st, err := engine.Mine(ctx, "p1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Coins)
	require.NotNil(t, st.LastClickAt)
	assert.True(t, st.LastClickAt.Equal(now))

	_, err = engine.Mine(ctx, "p1", now)
	assert.ErrorIs(t, err, ErrCooldownActive)
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, int64(5000), cooldown.RemainingMs())

	st, err = engine.SyncState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Coins, "rejected mine must not credit")
}

func TestMineCooldownBoundary(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)

	_, err = engine.Mine(ctx, "p1", testEpoch.Add(4999*time.Millisecond))
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, int64(1), cooldown.RemainingMs())

	st, err := engine.Mine(ctx, "p1", testEpoch.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Coins)
}

func TestMineWithClockBehindLastClick(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)

	_, err = engine.Mine(ctx, "p1", testEpoch.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrCooldownActive)

	st, err := engine.SyncState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Coins)
	assert.True(t, st.LastActivityAt.Equal(testEpoch))
}

func TestMineRecordsClickTimeBehindCheckpoint(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	ahead := testEpoch.Add(30 * time.Second)
	seedPlayer(store, PlayerState{PlayerID: "p1", LastActivityAt: ahead})

	st, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)
	require.NotNil(t, st.LastClickAt)
	assert.True(t, st.LastClickAt.Equal(testEpoch))
	assert.True(t, st.LastActivityAt.Equal(ahead))
}

func TestMineUsesSuperClickLevel(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Upgrades: Upgrades{SuperClick: 3}, LastActivityAt: testEpoch})

	st, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Coins)
}

func TestMineFoldsInIdleAccrual(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{
		PlayerID:       "p1",
		Upgrades:       Upgrades{AutoMiner: 1},
		LastActivityAt: testEpoch.Add(-65 * time.Second),
	})

	st, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Coins, "two 30s intervals plus the click")
	assert.True(t, st.LastActivityAt.Equal(testEpoch))
}

func TestCollectCreditsWholeIntervals(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	old := testEpoch.Add(-45 * time.Second)
	seedPlayer(store, PlayerState{PlayerID: "p1", Upgrades: Upgrades{AutoMiner: 2}, LastActivityAt: old})

	res, err := engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Collected)
	assert.Equal(t, int64(6), res.Coins)
	assert.True(t, res.State.LastActivityAt.Equal(old.Add(45*time.Second)))
}

func TestCollectKeepsRemainder(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	old := testEpoch.Add(-50 * time.Second)
	seedPlayer(store, PlayerState{PlayerID: "p1", Upgrades: Upgrades{AutoMiner: 2}, LastActivityAt: old})

	res, err := engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Collected)
	assert.True(t, res.State.LastActivityAt.Equal(testEpoch.Add(-5*time.Second)))

	res, err = engine.Collect(ctx, "p1", testEpoch.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Collected, "5s carried over plus 10s completes one interval")
	assert.Equal(t, int64(8), res.Coins)
}

func TestCollectIsIdempotentAtSameInstant(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Upgrades: Upgrades{AutoMiner: 1}, LastActivityAt: testEpoch.Add(-time.Hour)})

	first, err := engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(120), first.Collected)

	second, err := engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Collected)
	assert.Equal(t, first.State, second.State)
}

func TestCollectSplitMatchesSingle(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "split", Upgrades: Upgrades{AutoMiner: 3}, LastActivityAt: testEpoch})
	seedPlayer(store, PlayerState{PlayerID: "single", Upgrades: Upgrades{AutoMiner: 3}, LastActivityAt: testEpoch})

	for _, offset := range []time.Duration{3 * time.Second, 17 * time.Second, 41 * time.Second, 70 * time.Second} {
		_, err := engine.Collect(ctx, "split", testEpoch.Add(offset))
		require.NoError(t, err)
	}
	single, err := engine.Collect(ctx, "single", testEpoch.Add(70*time.Second))
	require.NoError(t, err)

	split, err := engine.Collect(ctx, "split", testEpoch.Add(70*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(21), single.Coins, "seven 10s intervals at rate 3")
	assert.Equal(t, single.Coins, split.Coins)
}

func TestCollectWithClockBehindCheckpoint(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Coins: 7, Upgrades: Upgrades{AutoMiner: 1}, LastActivityAt: testEpoch})

	res, err := engine.Collect(ctx, "p1", testEpoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Collected)
	assert.Equal(t, int64(7), res.Coins)
	assert.True(t, res.State.LastActivityAt.Equal(testEpoch))
}

func TestPurchaseNotEnoughCoinsLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Coins: 5, LastActivityAt: testEpoch})

	_, err := engine.Purchase(ctx, "p1", UpgradeAutoMiner, testEpoch.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotEnoughCoins)

	st, err := store.ReadState(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Coins)
	assert.Equal(t, Upgrades{}, st.Upgrades)
	assert.Equal(t, int64(0), st.Version)
}

func TestPurchaseDebitsAndLevelsUp(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Coins: 12, LastActivityAt: testEpoch})

	now := testEpoch.Add(time.Minute)
	st, err := engine.Purchase(ctx, "p1", UpgradeAutoMiner, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Coins)
	assert.Equal(t, 1, st.Upgrades.AutoMiner)
	assert.True(t, st.LastActivityAt.Equal(now))

	cost, ok := engine.NextCost(st, UpgradeAutoMiner)
	assert.True(t, ok)
	assert.Equal(t, int64(100), cost)
}

func TestPurchaseSpendsFreshlyAccruedCoins(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{
		PlayerID:       "p1",
		Coins:          95,
		Upgrades:       Upgrades{AutoMiner: 1},
		LastActivityAt: testEpoch.Add(-150 * time.Second),
	})

	st, err := engine.Purchase(ctx, "p1", UpgradeAutoMiner, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Coins)
	assert.Equal(t, 2, st.Upgrades.AutoMiner)
}

func TestPurchaseAtMaxLevel(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{
		PlayerID:       "p1",
		Coins:          1_000_000,
		Upgrades:       Upgrades{SuperClick: MaxLevel},
		LastActivityAt: testEpoch,
	})

	_, err := engine.Purchase(ctx, "p1", UpgradeSuperClick, testEpoch)
	assert.ErrorIs(t, err, ErrMaxLevelReached)

	st, err := store.ReadState(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), st.Coins)
	assert.Equal(t, MaxLevel, st.Upgrades.SuperClick)

	_, ok := engine.NextCost(st, UpgradeSuperClick)
	assert.False(t, ok)
}

func TestPurchaseUnknownUpgrade(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Purchase(context.Background(), "p1", UpgradeKind("goldenShovel"), testEpoch)
	assert.ErrorIs(t, err, ErrUnknownUpgrade)
}

func TestInvalidPlayerID(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.Mine(ctx, "", testEpoch)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = engine.Collect(ctx, "bad id", testEpoch)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = engine.Purchase(ctx, "bad/id", UpgradeAutoMiner, testEpoch)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = engine.Register(ctx, "bad id")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestCooldownRemaining(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	clicked := testEpoch
	st := PlayerState{LastClickAt: &clicked}

	assert.Equal(t, 5*time.Second, engine.CooldownRemaining(st, testEpoch))
	assert.Equal(t, 2*time.Second, engine.CooldownRemaining(st, testEpoch.Add(3*time.Second)))
	assert.Equal(t, time.Duration(0), engine.CooldownRemaining(st, testEpoch.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), engine.CooldownRemaining(PlayerState{}, testEpoch))
}

func TestConcurrentMinesPassCooldownOnce(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	_, err := engine.Register(ctx, "p1")
	require.NoError(t, err)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		cooldowns int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Mine(ctx, "p1", testEpoch)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrCooldownActive):
				cooldowns++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, cooldowns)

	st, err := engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Coins)
}

func TestConcurrentCollectsCreditOnce(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Upgrades: Upgrades{AutoMiner: 1}, LastActivityAt: testEpoch.Add(-300 * time.Second)})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Collect(ctx, "p1", testEpoch)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total += res.Collected
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), total)
	st, err := store.ReadState(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Coins)
}

func TestConcurrentPurchasesNeverOverspend(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)
	seedPlayer(store, PlayerState{PlayerID: "p1", Coins: 15, LastActivityAt: testEpoch})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Purchase(ctx, "p1", UpgradeAutoMiner, testEpoch)
		}()
	}
	wg.Wait()

	st, err := store.ReadState(ctx, "p1", testEpoch)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Upgrades.AutoMiner)
	assert.Equal(t, int64(5), st.Coins)
}

// conflictStore loses every credit race.
type conflictStore struct {
	*MemoryStore
	attempts int
}

func (s *conflictStore) CreditAndCheckpoint(ctx context.Context, playerID string, expectVersion int64, coinsDelta int64, checkpoint time.Time) (PlayerState, error) {
	s.attempts++
	return PlayerState{}, ErrStateConflict
}

func TestRetriesRunOut(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seedPlayer(mem, PlayerState{PlayerID: "p1", Upgrades: Upgrades{AutoMiner: 1}, LastActivityAt: testEpoch.Add(-time.Minute)})
	store := &conflictStore{MemoryStore: mem}
	metrics := newGameMetrics()
	engine := NewEngine(store, DefaultEconomyConfig(), newFakeClock(testEpoch), quietLogger(), metrics)

	_, err := engine.Collect(ctx, "p1", testEpoch)
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Equal(t, defaultMaxConflictRetries+1, store.attempts)
	assert.Equal(t, float64(defaultMaxConflictRetries+1), testutil.ToFloat64(metrics.conflicts))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues("collect", "conflict")))
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	metrics := newGameMetrics()
	engine := NewEngine(store, DefaultEconomyConfig(), newFakeClock(testEpoch), quietLogger(), metrics)
	seedPlayer(store, PlayerState{PlayerID: "p1", Coins: 9, Upgrades: Upgrades{AutoMiner: 1}, LastActivityAt: testEpoch.Add(-30 * time.Second)})

	_, err := engine.Mine(ctx, "p1", testEpoch)
	require.NoError(t, err)
	_, err = engine.Mine(ctx, "p1", testEpoch)
	require.Error(t, err)
	_, err = engine.Purchase(ctx, "p1", UpgradeSuperClick, testEpoch)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.coinsCredit.WithLabelValues("idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.coinsCredit.WithLabelValues("click")))
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.coinsSpent.WithLabelValues("superClick")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues("mine", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues("mine", "cooldown")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues("purchase", "ok")))
}

func TestSyncAndCollectAreCountedApart(t *testing.T) {
	ctx := context.Background()
	metrics := newGameMetrics()
	engine := NewEngine(NewMemoryStore(), DefaultEconomyConfig(), newFakeClock(testEpoch), quietLogger(), metrics)

	_, err := engine.SyncState(ctx, "p1")
	require.NoError(t, err)
	_, err = engine.Sync(ctx, "p1", testEpoch)
	require.NoError(t, err)
	_, err = engine.Collect(ctx, "p1", testEpoch)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.actions.WithLabelValues("sync", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.actions.WithLabelValues("collect", "ok")))
}
