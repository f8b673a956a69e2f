package cmd

import (
	"context"
	"time"
)

// Cleaner is what the retention cron expects from the persisted store.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type closer interface {
	Close() error
}
