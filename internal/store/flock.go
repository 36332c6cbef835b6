package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout bounds how long a writer waits for the log lock.
const DefaultLockTimeout = 5 * time.Second

// WithLock runs fn while holding an exclusive lock on a sibling .lock file
// next to path. The lock is polled every 100ms until acquired or the
// timeout expires.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring lock on %s", lock.Path())
	}
	defer lock.Unlock()

	return fn()
}
