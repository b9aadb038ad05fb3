package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "coin_miner"

// RedisStore keeps each player in a hash and every known id in a set.
// Mutations WATCH the player hash, so a concurrent write aborts the
// transaction and surfaces as ErrStateConflict.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func OpenRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(rdb, redisKeyPrefix), nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) playerKey(playerID string) string {
	return s.prefix + ":player:" + playerID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":players"
}

func (s *RedisStore) ReadState(ctx context.Context, playerID string, now time.Time) (PlayerState, error) {
	key := s.playerKey(playerID)

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return PlayerState{}, err
	}
	if len(fields) > 0 {
		return decodeRedisPlayer(playerID, fields)
	}

	fresh := newPlayerState(playerID, now)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n > 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRedisPlayer(fresh))
			pipe.SAdd(ctx, s.indexKey(), playerID)
			return nil
		})
		return err
	}, key)
	// Losing the creation race means another request created the player.
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return PlayerState{}, err
	}

	fields, err = s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return PlayerState{}, err
	}
	if len(fields) == 0 {
		return PlayerState{}, ErrPlayerNotFound
	}
	return decodeRedisPlayer(playerID, fields)
}

func (s *RedisStore) CreditAndCheckpoint(ctx context.Context, playerID string, expectVersion int64, coinsDelta int64, checkpoint time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyCredit(coinsDelta, checkpoint))
}

func (s *RedisStore) ApplyMine(ctx context.Context, playerID string, expectVersion int64, gain int64, now time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyMine(gain, now))
}

func (s *RedisStore) ApplyPurchase(ctx context.Context, playerID string, expectVersion int64, kind UpgradeKind, cost int64, now time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyPurchase(kind, cost, now))
}

func (s *RedisStore) ListPlayerIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) mutate(ctx context.Context, playerID string, expectVersion int64, fn func(*PlayerState) error) (PlayerState, error) {
	key := s.playerKey(playerID)

	var out PlayerState
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrPlayerNotFound
		}

		current, err := decodeRedisPlayer(playerID, fields)
		if err != nil {
			return err
		}
		out = current
		if current.Version != expectVersion {
			return ErrStateConflict
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		next.Version++

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRedisPlayer(next))
			return nil
		}); err != nil {
			return err
		}
		out = next
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return out, ErrStateConflict
	}
	return out, err
}

func encodeRedisPlayer(st PlayerState) map[string]interface{} {
	lastClick := ""
	if st.LastClickAt != nil {
		lastClick = strconv.FormatInt(st.LastClickAt.UnixNano(), 10)
	}
	return map[string]interface{}{
		"coins":            st.Coins,
		"auto_miner":       st.Upgrades.AutoMiner,
		"super_click":      st.Upgrades.SuperClick,
		"last_activity_at": st.LastActivityAt.UnixNano(),
		"last_click_at":    lastClick,
		"version":          st.Version,
		"created_at":       st.CreatedAt.UnixNano(),
	}
}

func decodeRedisPlayer(playerID string, fields map[string]string) (PlayerState, error) {
	ints := make(map[string]int64, len(fields))
	for _, name := range []string{"coins", "auto_miner", "super_click", "last_activity_at", "version", "created_at"} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return PlayerState{}, fmt.Errorf("decode player %s field %s: %w", playerID, name, err)
		}
		ints[name] = v
	}

	st := PlayerState{
		PlayerID: playerID,
		Coins:    ints["coins"],
		Upgrades: Upgrades{
			AutoMiner:  int(ints["auto_miner"]),
			SuperClick: int(ints["super_click"]),
		},
		LastActivityAt: time.Unix(0, ints["last_activity_at"]).UTC(),
		CreatedAt:      time.Unix(0, ints["created_at"]).UTC(),
		Version:        ints["version"],
	}
	if raw := fields["last_click_at"]; raw != "" {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return PlayerState{}, fmt.Errorf("decode player %s field last_click_at: %w", playerID, err)
		}
		t := time.Unix(0, nanos).UTC()
		st.LastClickAt = &t
	}
	return st, nil
}
