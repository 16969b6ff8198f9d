// Package lock provides non-blocking, leased mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

const DefaultLease = 60 * time.Second

// ErrNotHeld is returned by Release when the lease expired and another holder took the key.
var ErrNotHeld = errors.New("lock not held")

// Step names the independent per-URL lock namespaces.
type Step string

const (
	StepParse       Step = "parse"
	StepIndex       Step = "index"
	StepContentMeta Step = "content_meta"
)

// Key builds the lock key for one pipeline step of one canonical URL.
func Key(step Step, url string) string {
	return "weblink:" + string(step) + ":" + url
}

// Manager acquires locks. Acquire never waits: a nil handle with a nil error means
// another holder owns the key.
type Manager interface {
	Acquire(ctx context.Context, key string) (*Handle, error)
}

// Handle is a held lock. Release is safe to call more than once.
type Handle struct {
	Key   string
	Token string

	lease   time.Duration
	extend  func(ctx context.Context) error
	once    sync.Once
	release func(ctx context.Context) error
	err     error
}

func newHandle(key, token string, lease time.Duration, extend, release func(ctx context.Context) error) *Handle {
	return &Handle{Key: key, Token: token, lease: lease, extend: extend, release: release}
}

// Extend pushes the lease expiry a full lease into the future. It returns
// ErrNotHeld when the lease already lapsed and the key belongs to someone else.
func (h *Handle) Extend(ctx context.Context) error {
	if h == nil || h.extend == nil {
		return nil
	}
	return h.extend(ctx)
}

// keepAlive extends the lease every third of its length until stop is called.
// Losing the lease cancels ctx through lost with ErrNotHeld as the cause.
func (h *Handle) keepAlive(ctx context.Context, lost context.CancelCauseFunc) (stop func()) {
	if h.extend == nil || h.lease <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(h.lease / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				// Transient errors are retried on the next tick.
				if err := h.Extend(ctx); errors.Is(err, ErrNotHeld) {
					lost(ErrNotHeld)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Release gives the lock back. It ignores cancellation of ctx so a lock is still
// released when the surrounding work was cancelled.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		h.err = h.release(rctx)
	})
	return h.err
}

// WithLock runs fn while holding key. acquired is false when the key is held
// elsewhere, in which case fn is not called. The lease is extended in the
// background for as long as fn runs; if it is lost anyway, the context passed to
// fn is cancelled with ErrNotHeld as its cause. The lock is released on every
// exit path, including a panic inside fn.
func WithLock(ctx context.Context, m Manager, key string, fn func(ctx context.Context) error) (acquired bool, err error) {
	h, err := m.Acquire(ctx, key)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	defer func() {
		if rerr := h.Release(ctx); rerr != nil && err == nil && !errors.Is(rerr, ErrNotHeld) {
			err = rerr
		}
	}()
	lctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := h.keepAlive(lctx, cancel)
	defer stop()
	return true, fn(lctx)
}
