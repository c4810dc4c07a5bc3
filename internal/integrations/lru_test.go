package integrations

import "testing"

func TestLRUEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("expected b to survive, got %v, %v", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("expected c to survive, got %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
}

func TestLRUGetPromotesRecency(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the least-recently-used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted after a was touched")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive due to recent access")
	}
}

func TestLRUSetOverwritesExisting(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", 1)
	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("expected overwritten value 2, got %v", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected overwrite not to grow the cache, got len %d", c.Len())
	}
}

func TestLRUPurge(t *testing.T) {
	c := NewLRU(4)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected purge to clear entries")
	}
}
