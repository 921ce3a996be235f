package spatialcache

import (
	"context"

	"github.com/rotisserie/eris"
)

// Deduplicate runs fn once per key among concurrent callers. Every caller
// waiting on the same key receives the same result. fn runs on a context
// detached from the caller's cancellation, so a caller that gives up only
// stops its own wait. The key is released when fn settles.
func (c *Cache[T]) Deduplicate(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		return runRecovered(detached, fn)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, eris.Wrap(ctx.Err(), "spatialcache: caller stopped waiting")
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, res.Shared, eris.New("spatialcache: unexpected result type")
		}
		return v, res.Shared, nil
	}
}

// runRecovered converts a panic in fn into an error so that waiters are
// always released.
func runRecovered[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("spatialcache: computation panicked: %v", r)
		}
	}()
	return fn(ctx)
}
