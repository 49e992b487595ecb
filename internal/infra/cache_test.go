package infra

import (
	"testing"
	"time"
)

// cacheWithClock returns a cache whose clock the test controls.
func cacheWithClock(capacity int, ttl time.Duration) (*Cache[string, int], *time.Time) {
	c := NewCache[string, int](capacity, ttl)
	clock := time.Now()
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCache_PutGet(t *testing.T) {
	c, _ := cacheWithClock(4, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c, _ := cacheWithClock(3, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a") // a is now most recently used
	c.Put("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive eviction after recent use")
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3 (capacity)", c.Len())
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Errorf("Evictions = %d, want 1", ev)
	}
}

func TestCache_UpdateDoesNotEvict(t *testing.T) {
	c, _ := cacheWithClock(2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 10) // update in place, not a new entry

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("a = %d, want 10 after update", v)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should not be evicted by an in-place update")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, clock := cacheWithClock(4, 10*time.Second)

	c.Put("a", 1)

	*clock = clock.Add(9 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry expired before its TTL")
	}

	*clock = clock.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry served past its expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 (expired entry removed on access)", c.Len())
	}
}

func TestCache_PutTTLOverridesDefault(t *testing.T) {
	c, clock := cacheWithClock(4, time.Minute)

	c.PutTTL("short", 1, time.Second)
	c.Put("long", 2)

	*clock = clock.Add(5 * time.Second)
	if _, ok := c.Get("short"); ok {
		t.Error("custom short TTL not honored")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("default TTL entry should still be live")
	}
}

func TestCache_Sweep(t *testing.T) {
	c, clock := cacheWithClock(8, 10*time.Second)

	c.Put("a", 1)
	c.Put("b", 2)
	c.PutTTL("c", 3, time.Minute)

	*clock = clock.Add(30 * time.Second)
	if removed := c.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("unexpired entry removed by sweep")
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := cacheWithClock(4, time.Minute)

	c.Put("a", 1)
	if !c.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if c.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still served")
	}
}

func TestCache_Stats(t *testing.T) {
	c, clock := cacheWithClock(4, 10*time.Second)

	c.Put("a", 1)
	c.Get("a")       // hit
	c.Get("missing") // miss
	*clock = clock.Add(time.Minute)
	c.Get("a") // expired, counts as miss

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 2 {
		t.Errorf("stats = %+v, want 1 hit / 2 misses", s)
	}
}
