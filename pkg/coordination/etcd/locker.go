package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"refreshd/pkg/coordination"
)

// DefaultLockKey is the etcd key prefix guarding the refresh sequence.
const DefaultLockKey = "/refreshd/locks/refresh"

// EtcdLocker implements coordination.Locker with an etcd mutex. Every
// Acquire gets its own leased session, since the mutex key is derived from
// the lease. If this process dies, the lease expires after ttl seconds and
// the lock is freed.
type EtcdLocker struct {
	client *clientv3.Client
	ttl    int
	key    string
}

func NewEtcdLocker(endpoints []string, ttl int, key string) (*EtcdLocker, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return NewEtcdLockerWithClient(cli, ttl, key), nil
}

// NewEtcdLockerWithClient wraps an existing client. Close closes it.
func NewEtcdLockerWithClient(cli *clientv3.Client, ttl int, key string) *EtcdLocker {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = 30
	}
	return &EtcdLocker{client: cli, ttl: ttl, key: key}
}

func (l *EtcdLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	// The session keeps its lease alive via heartbeats until closed.
	sess, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl), concurrency.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	mu := concurrency.NewMutex(sess, l.key)
	if err := mu.Lock(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to acquire etcd lock %s: %w", l.key, err)
	}

	return func(ctx context.Context) error {
		select {
		case <-sess.Done():
			sess.Close()
			return coordination.ErrLockLost
		default:
		}
		var errs []error
		if err := mu.Unlock(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to release etcd lock %s: %w", l.key, err))
		}
		// Revoking the lease also drops the key if Unlock failed.
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close etcd session: %w", err))
		}
		return errors.Join(errs...)
	}, nil
}

func (l *EtcdLocker) Close() error {
	return l.client.Close()
}
