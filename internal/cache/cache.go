// Package cache holds small in-process caches for data read from slow
// upstreams such as Google Sheets.
package cache

import (
	"context"
	"time"

	applog "tally/internal/log"
)

// Cache is a keyed store of values of one type.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches whose entries expire.
type Cleaner interface {
	CleanExpired() int
}

// Manager periodically evicts expired entries from registered caches.
type Manager struct {
	caches      []Cleaner
	logger      *applog.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewManager(logger *applog.Logger) *Manager {
	if logger == nil {
		logger = applog.Nop()
	}
	return &Manager{
		logger:      logger.WithComponent(applog.ComponentCache),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

func (m *Manager) Register(cache Cleaner) {
	m.caches = append(m.caches, cache)
}

// StartCleanup runs until Stop is called or ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	go m.cleanup(ctx, interval)
}

func (m *Manager) cleanup(ctx context.Context, interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.CleanNow(); n > 0 {
				m.logger.DebugContext(ctx, "Evicted expired cache entries", applog.FieldCount, n)
			}
		case <-m.stopCleanup:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CleanNow evicts expired entries from every registered cache.
func (m *Manager) CleanNow() int {
	total := 0
	for _, c := range m.caches {
		total += c.CleanExpired()
	}
	return total
}

// Stop halts a running cleanup loop. It must be called at most once, and only
// after StartCleanup.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}
