package coordination

import (
	"context"
	"errors"
)

// ErrLockLost is returned by a release func when the lock expired or was
// taken over before it was released.
var ErrLockLost = errors.New("refresh lock lost before release")

// Locker serializes refresh runs. Only one holder at a time may run the
// refresh sequence against the publish repository.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done. The returned
	// func releases the lock; it must be called exactly once.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)

	// Close releases backend resources.
	Close() error
}
