package cache

import "testing"

func TestCache_EvictsLeastRecentlyUsedByCount(t *testing.T) {
	c := New[string, int](2, 0, nil)
	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("a = %d, %v", v, ok)
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCache_EvictsBySize(t *testing.T) {
	var evicted []string
	c := New[string, []byte](0, 10, func(b []byte) int64 { return int64(len(b)) },
		WithOnEvict[string, []byte](func(k string, _ []byte) { evicted = append(evicted, k) }))

	c.Put("x", make([]byte, 6))
	c.Put("y", make([]byte, 6))

	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	if len(evicted) != 1 || evicted[0] != "x" {
		t.Errorf("evicted = %v, want [x]", evicted)
	}
	if got := c.Stats().Bytes; got != 6 {
		t.Errorf("bytes = %d, want 6", got)
	}
}

func TestCache_OversizedValueIsKept(t *testing.T) {
	c := New[string, []byte](0, 4, func(b []byte) int64 { return int64(len(b)) })
	c.Put("big", make([]byte, 100))
	if _, ok := c.Get("big"); !ok {
		t.Fatal("single oversized value should still be cached")
	}
}

func TestCache_ReplaceUpdatesSize(t *testing.T) {
	c := New[string, []byte](0, 0, func(b []byte) int64 { return int64(len(b)) })
	c.Put("k", make([]byte, 5))
	c.Put("k", make([]byte, 2))
	if got := c.Stats().Bytes; got != 2 {
		t.Errorf("bytes = %d, want 2", got)
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New[string, int](0, 0, nil)
	c.Put("repo:a", 1)
	c.Put("repo:b", 2)
	c.Put("other", 3)

	if !c.Invalidate("other") {
		t.Error("expected other to be removed")
	}
	if c.Invalidate("missing") {
		t.Error("missing key reported as removed")
	}
	n := c.InvalidateFunc(func(k string) bool { return len(k) > 5 && k[:5] == "repo:" })
	if n != 2 || c.Len() != 0 {
		t.Errorf("removed %d, remaining %d", n, c.Len())
	}
}
