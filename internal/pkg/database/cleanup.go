package database

import (
	"context"
	"time"
)

// Cleanup removes telemetry older than retention and returns how many rows went.
func (db *Database) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx, "DELETE FROM telemetry WHERE received_at < $1", time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
