package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCacheGetSet(t *testing.T) {
	c := New[string, int](0)

	if _, ok := c.Get("a"); ok {
		t.Fatal("Get on empty cache returned ok")
	}
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3)

	if v, ok := c.Get("a"); !ok || v != 3 {
		t.Errorf("Get(a) = %d, %v; want 3, true", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if !c.Delete("b") {
		t.Error("Delete(b) = false, want true")
	}
	if c.Delete("b") {
		t.Error("second Delete(b) = true, want false")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](4)
	for i := range 4 {
		c.Set(i, i)
	}
	// Touch 0 so that 1 and 2 are the oldest.
	c.Get(0)
	c.Set(4, 4)

	// Over the limit: shrink to 3 entries.
	if got := c.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	for _, k := range []int{0, 3, 4} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %d evicted, want kept", k)
		}
	}
	for _, k := range []int{1, 2} {
		if _, ok := c.Get(k); ok {
			t.Errorf("key %d kept, want evicted", k)
		}
	}
	if s := c.Stats(); s.Evictions != 2 {
		t.Errorf("Evictions = %d, want 2", s.Evictions)
	}
}

func TestCacheGetOrCreate(t *testing.T) {
	c := New[string, string](8)
	calls := 0
	create := func() (string, error) {
		calls++
		return "v", nil
	}

	for range 3 {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != "v" {
			t.Fatalf("GetOrCreate = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 2 hits 1 miss", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("HitRate = %v, want 2/3", s.HitRate)
	}
}

func TestCacheGetOrCreateErrorNotCached(t *testing.T) {
	c := New[string, int](8)
	boom := errors.New("boom")

	_, err := c.GetOrCreate("k", func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed create was cached")
	}

	v, err := c.GetOrCreate("k", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("GetOrCreate after error = %d, %v; want 7, nil", v, err)
	}
}

func TestCacheConcurrent(t *testing.T) {
	c := New[string, int](64)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*31+i)%100)
				_, _ = c.GetOrCreate(key, func() (int, error) { return i, nil })
			}
		}()
	}
	wg.Wait()

	if n := c.Len(); n > 64 {
		t.Errorf("Len() = %d exceeds soft limit", n)
	}
}

func TestCacheClear(t *testing.T) {
	c := New[int, int](0)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	c.Set(3, 3)
	if v, ok := c.Get(3); !ok || v != 3 {
		t.Errorf("Get after Clear = %d, %v", v, ok)
	}
}
