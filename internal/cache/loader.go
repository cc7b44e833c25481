package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Loader fills a cache on miss, collapsing concurrent loads of the same key
// into one upstream call.
type Loader[T any] struct {
	cache Cache[T]
	group singleflight.Group
}

func NewLoader[T any](c Cache[T]) *Loader[T] {
	return &Loader[T]{cache: c}
}

// Get returns the cached value for key or calls load once for all waiting
// callers. Failed loads are not cached.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		l.cache.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops key so the next Get reloads it.
func (l *Loader[T]) Invalidate(key string) {
	l.cache.Delete(key)
}
