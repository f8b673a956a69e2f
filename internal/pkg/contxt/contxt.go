package contxt

import (
	"context"
	"time"
)

// Detached returns a context carrying parent's values that outlives parent's
// cancellation and expires after timeout. Background work started from a
// request or socket message uses it.
func Detached(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
