package airlock

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"kubegems.io/airlock/pkg/errors"
	"kubegems.io/airlock/pkg/ledger"
	"kubegems.io/airlock/pkg/storage"
)

// store puts every object, retrying transient failures under the retry policy.
// Objects already stored are not sent again on a later attempt. It returns the
// number of attempts made.
func (o *Orchestrator) store(ctx context.Context, objects []storage.Object) (int, error) {
	log := logr.FromContextOrDiscard(ctx)
	stored := make([]bool, len(objects))
	return o.withRetry(ctx, "storage", func(ctx context.Context, attempt int) error {
		for i, obj := range objects {
			if stored[i] {
				continue
			}
			if err := o.sink.Put(ctx, obj); err != nil {
				return storage.Classify("put", obj.Bucket, obj.Key, err)
			}
			stored[i] = true
			log.V(1).Info("object stored", "key", obj.Key, "attempt", attempt)
		}
		return nil
	})
}

// register records entry in the ledger under the same retry policy as store.
func (o *Orchestrator) register(ctx context.Context, bucket, name string, entry ledger.Entry) (int, error) {
	return o.withRetry(ctx, "register", func(ctx context.Context, _ int) error {
		return storage.Classify("register", bucket, name, o.ledger.Register(ctx, bucket, name, entry))
	})
}

// withRetry runs fn until it succeeds, fails permanently or the policy's attempts
// run out. Each attempt gets its own timeout. An exhausted transient failure
// carries the attempt count.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) (int, error) {
	log := logr.FromContextOrDiscard(ctx)
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, o.retry.Timeout)
			defer cancel()
			return fn(attemptCtx, attempts)
		},
		retry.Context(ctx),
		retry.Attempts(o.retry.MaxAttempts),
		retry.RetryIf(errors.IsTransient),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return o.retry.Backoff(n)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Info(op+" attempt failed", "attempt", n+1, "maxAttempts", o.retry.MaxAttempts, "error", err.Error())
		}),
	)
	if err != nil {
		var se *errors.StorageError
		if stderrors.As(err, &se) && se.Transient {
			se.Attempts = attempts
		}
		return attempts, err
	}
	return attempts, nil
}

type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock.
func (l *nameLocks) Lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*nameLock{}
	}
	lock, ok := l.locks[key]
	if !ok {
		lock = &nameLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
