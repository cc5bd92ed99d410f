package coordination

import "context"

// LocalLocker is an in-process Locker. It honors context cancellation
// while waiting, which sync.Mutex cannot.
type LocalLocker struct {
	sem chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{sem: make(chan struct{}, 1)}
}

func (l *LocalLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	select {
	case l.sem <- struct{}{}:
		return func(context.Context) error {
			<-l.sem
			return nil
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) Close() error { return nil }
