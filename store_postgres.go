package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var schemaStatements = []string{
	fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS players (
			player_id TEXT PRIMARY KEY,
			coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
			auto_miner_level INT NOT NULL DEFAULT 0 CHECK (auto_miner_level BETWEEN 0 AND %[1]d),
			super_click_level INT NOT NULL DEFAULT 0 CHECK (super_click_level BETWEEN 0 AND %[1]d),
			last_activity_at TIMESTAMPTZ NOT NULL,
			last_click_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);
	`, MaxLevel),
	`
		ALTER TABLE players
			ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
	`,
	`
		CREATE INDEX IF NOT EXISTS players_last_activity_idx
			ON players (last_activity_at);
	`,
}

const (
	playerColumns = `player_id, coins, auto_miner_level, super_click_level, last_activity_at, last_click_at, version, created_at`

	insertPlayerSQL = `
		INSERT INTO players (player_id, coins, auto_miner_level, super_click_level, last_activity_at, created_at, version)
		VALUES ($1, 0, 0, 0, $2, $2, 0)
		ON CONFLICT (player_id) DO NOTHING
	`
	selectPlayerSQL          = `SELECT ` + playerColumns + ` FROM players WHERE player_id = $1`
	selectPlayerForUpdateSQL = selectPlayerSQL + ` FOR UPDATE`
	updatePlayerSQL          = `
		UPDATE players
		SET coins = $2,
			auto_miner_level = $3,
			super_click_level = $4,
			last_activity_at = $5,
			last_click_at = $6,
			version = $7
		WHERE player_id = $1
	`
	listPlayerIDsSQL = `SELECT player_id FROM players ORDER BY player_id`
)

type playerRow struct {
	PlayerID        string       `db:"player_id"`
	Coins           int64        `db:"coins"`
	AutoMinerLevel  int          `db:"auto_miner_level"`
	SuperClickLevel int          `db:"super_click_level"`
	LastActivityAt  time.Time    `db:"last_activity_at"`
	LastClickAt     sql.NullTime `db:"last_click_at"`
	Version         int64        `db:"version"`
	CreatedAt       time.Time    `db:"created_at"`
}

func (r playerRow) state() PlayerState {
	st := PlayerState{
		PlayerID: r.PlayerID,
		Coins:    r.Coins,
		Upgrades: Upgrades{
			AutoMiner:  r.AutoMinerLevel,
			SuperClick: r.SuperClickLevel,
		},
		LastActivityAt: r.LastActivityAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		Version:        r.Version,
	}
	if r.LastClickAt.Valid {
		t := r.LastClickAt.Time.UTC()
		st.LastClickAt = &t
	}
	return st
}

// PostgresStore keeps one row per player. Mutations lock the row with
// SELECT ... FOR UPDATE, check the version, and rewrite it in the same
// transaction.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects, pings and ensures the schema.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := ensureSchema(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ReadState(ctx context.Context, playerID string, now time.Time) (PlayerState, error) {
	st, err := s.selectPlayer(ctx, playerID)
	if !errors.Is(err, ErrPlayerNotFound) {
		return st, err
	}

	if _, err := s.db.ExecContext(ctx, insertPlayerSQL, playerID, now.UTC()); err != nil {
		return PlayerState{}, err
	}
	return s.selectPlayer(ctx, playerID)
}

func (s *PostgresStore) selectPlayer(ctx context.Context, playerID string) (PlayerState, error) {
	var row playerRow
	if err := s.db.GetContext(ctx, &row, selectPlayerSQL, playerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlayerState{}, ErrPlayerNotFound
		}
		return PlayerState{}, err
	}
	return row.state(), nil
}

func (s *PostgresStore) CreditAndCheckpoint(ctx context.Context, playerID string, expectVersion int64, coinsDelta int64, checkpoint time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyCredit(coinsDelta, checkpoint))
}

func (s *PostgresStore) ApplyMine(ctx context.Context, playerID string, expectVersion int64, gain int64, now time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyMine(gain, now))
}

func (s *PostgresStore) ApplyPurchase(ctx context.Context, playerID string, expectVersion int64, kind UpgradeKind, cost int64, now time.Time) (PlayerState, error) {
	return s.mutate(ctx, playerID, expectVersion, applyPurchase(kind, cost, now))
}

func (s *PostgresStore) ListPlayerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, listPlayerIDsSQL); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) mutate(ctx context.Context, playerID string, expectVersion int64, fn func(*PlayerState) error) (PlayerState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return PlayerState{}, err
	}
	defer tx.Rollback()

	var row playerRow
	if err := tx.GetContext(ctx, &row, selectPlayerForUpdateSQL, playerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlayerState{}, ErrPlayerNotFound
		}
		return PlayerState{}, err
	}

	current := row.state()
	if current.Version != expectVersion {
		return current, ErrStateConflict
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return current, err
	}
	next.Version++

	var lastClick sql.NullTime
	if next.LastClickAt != nil {
		lastClick = sql.NullTime{Time: *next.LastClickAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, updatePlayerSQL,
		next.PlayerID,
		next.Coins,
		next.Upgrades.AutoMiner,
		next.Upgrades.SuperClick,
		next.LastActivityAt,
		lastClick,
		next.Version,
	); err != nil {
		return current, err
	}

	if err := tx.Commit(); err != nil {
		return current, err
	}
	return next, nil
}
