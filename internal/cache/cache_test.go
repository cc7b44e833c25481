package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("k2", "v2")
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLoader_CollapsesConcurrentLoads(t *testing.T) {
	l := NewLoader[int](NewLRUCache[int](4, time.Minute))

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Get(context.Background(), "portfolio", load)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("load called %d times, want 1", calls.Load())
	}
	for _, v := range results {
		if v != 42 {
			t.Errorf("result = %d, want 42", v)
		}
	}

	// Cached now.
	if _, err := l.Get(context.Background(), "portfolio", load); err != nil || calls.Load() != 1 {
		t.Errorf("second Get reloaded: calls = %d, err = %v", calls.Load(), err)
	}
}

func TestLoader_DoesNotCacheErrors(t *testing.T) {
	l := NewLoader[int](NewLRUCache[int](4, time.Minute))
	boom := errors.New("sheets unavailable")

	if _, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want %v", err, boom)
	}
	v, err := l.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Get() = %d, %v; want 7", v, err)
	}

	l.Invalidate("k")
	v, _ = l.Get(context.Background(), "k", func(context.Context) (int, error) { return 8, nil })
	if v != 8 {
		t.Errorf("after Invalidate Get() = %d, want 8", v)
	}
}

func TestManager_CleanNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](4, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)

	m := NewManager(nil)
	m.Register(c)
	now = now.Add(time.Minute)

	if n := m.CleanNow(); n != 1 {
		t.Errorf("CleanNow() = %d, want 1", n)
	}
}
