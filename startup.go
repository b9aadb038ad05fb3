package main

import (
	"context"
	"database/sql"
)

const leaderAdvisoryLockID int64 = 824173921

// acquireLeaderLock takes a session-level advisory lock on a dedicated
// connection. The lock lives as long as the returned connection stays open.
func acquireLeaderLock(ctx context.Context, db *sql.DB) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, leaderAdvisoryLockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}
