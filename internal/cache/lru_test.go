package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestNew_InvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New[int64, string](capacity); err == nil {
			t.Errorf("New(%d) expected error, got nil", capacity)
		}
	}
}

func TestLRU_GetPut(t *testing.T) {
	c, err := New[int64, string](2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	c.Put(1, "a")
	c.Put(2, "b")

	v, ok := c.Get(1)
	if !ok || v != "a" {
		t.Errorf("Get(1) = %q, %v, want a, true", v, ok)
	}

	// 1 was touched, so 2 is the eviction victim
	if evicted := c.Put(3, "c"); !evicted {
		t.Error("Put(3) should report an eviction")
	}
	if _, ok := c.Get(2); ok {
		t.Error("Get(2) should miss after eviction")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("Get(1) should hit")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("Get(3) should hit")
	}
}

func TestLRU_PutReplaces(t *testing.T) {
	c, _ := New[int64, string](2)
	c.Put(1, "a")
	c.Put(1, "b")

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if v, _ := c.Get(1); v != "b" {
		t.Errorf("Get(1) = %q, want b", v)
	}
}

func TestLRU_Pop(t *testing.T) {
	c, _ := New[int64, string](4)
	c.Put(1, "a")

	v, ok := c.Pop(1)
	if !ok || v != "a" {
		t.Errorf("Pop(1) = %q, %v, want a, true", v, ok)
	}
	if _, ok := c.Pop(1); ok {
		t.Error("second Pop(1) should miss")
	}
	if c.Contains(1) {
		t.Error("Contains(1) after Pop should be false")
	}
}

func TestLRU_Update(t *testing.T) {
	c, _ := New[int64, string](2)
	c.Put(1, "a")
	c.Put(2, "b")

	old, ok := c.Update(1, func(v string) string { return v + "!" })
	if !ok || old != "a" {
		t.Errorf("Update(1) = %q, %v, want a, true", old, ok)
	}
	if v, _ := c.Peek(1); v != "a!" {
		t.Errorf("Peek(1) = %q, want a!", v)
	}

	// Update refreshed 1, so 2 goes first
	c.Put(3, "c")
	if c.Contains(2) {
		t.Error("2 should have been evicted")
	}

	called := false
	if _, ok := c.Update(99, func(v string) string { called = true; return v }); ok {
		t.Error("Update on absent key should report false")
	}
	if called {
		t.Error("Update on absent key should not call fn")
	}
	if c.Contains(99) {
		t.Error("Update on absent key should not insert")
	}
}

func TestLRU_PeekDoesNotRefresh(t *testing.T) {
	c, _ := New[int64, string](2)
	c.Put(1, "a")
	c.Put(2, "b")

	c.Peek(1)
	c.Put(3, "c")

	if c.Contains(1) {
		t.Error("Peek should not refresh recency")
	}
}

func TestLRU_NeverExceedsCapacity(t *testing.T) {
	for capacity := 1; capacity <= 16; capacity++ {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			c, _ := New[int64, int](capacity)
			for i := 0; i < capacity*3; i++ {
				c.Put(int64(i), i)
				if c.Len() > capacity {
					t.Fatalf("Len() = %d exceeds capacity %d", c.Len(), capacity)
				}
			}

			// Only the last `capacity` keys survive
			for i := 0; i < capacity*3; i++ {
				want := i >= capacity*2
				if got := c.Contains(int64(i)); got != want {
					t.Errorf("Contains(%d) = %v, want %v", i, got, want)
				}
			}

			stats := c.Stats()
			if stats.Evictions != int64(capacity*2) {
				t.Errorf("Evictions = %d, want %d", stats.Evictions, capacity*2)
			}
		})
	}
}

func TestLRU_Keys(t *testing.T) {
	c, _ := New[int64, string](3)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(3, "c")
	c.Get(1)

	keys := c.Keys()
	want := []int64{2, 3, 1}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %d, want %d", i, keys[i], want[i])
		}
	}
}

func TestLRU_Stats(t *testing.T) {
	c, _ := New[int64, string](1)
	c.Put(1, "a")
	c.Get(1)
	c.Get(2)
	c.Put(2, "b")

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
	if stats.Len != 1 || stats.Capacity != 1 {
		t.Errorf("Len/Capacity = %d/%d, want 1/1", stats.Len, stats.Capacity)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", c.Len())
	}
}

func TestLRU_Concurrent(t *testing.T) {
	const (
		capacity = 64
		workers  = 8
		ops      = 1000
	)
	c, _ := New[int64, int](capacity)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				key := int64((w*ops + i) % (capacity * 2))
				switch i % 4 {
				case 0:
					c.Put(key, i)
				case 1:
					c.Get(key)
				case 2:
					c.Update(key, func(v int) int { return v + 1 })
				case 3:
					c.Pop(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > capacity {
		t.Errorf("Len() = %d exceeds capacity %d", c.Len(), capacity)
	}
}

func TestLRU_PopIsExclusive(t *testing.T) {
	c, _ := New[int64, string](8)
	c.Put(1, "a")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Pop(1); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Pop succeeded %d times, want exactly 1", wins)
	}
}
