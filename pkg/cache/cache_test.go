package cache

import "testing"

func TestCacheEviction(t *testing.T) {
	c := New(10)
	c.Set("orders/0/seg-0", []byte("12345"))
	if _, ok := c.Get("orders/0/seg-0"); !ok {
		t.Fatalf("expected cache hit")
	}
	c.Set("orders/0/seg-1", []byte("67890"))
	if c.Len() != 2 {
		t.Fatalf("expected two entries, got %d", c.Len())
	}
	c.Set("orders/0/seg-2", []byte("abcde")) // should evict oldest

	if _, ok := c.Get("orders/0/seg-0"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if _, ok := c.Get("orders/0/seg-2"); !ok {
		t.Fatalf("new entry missing")
	}
	if c.Bytes() != 10 {
		t.Fatalf("expected 10 bytes held, got %d", c.Bytes())
	}
}

func TestCacheTouchOnGet(t *testing.T) {
	c := New(10)
	c.Set("a", []byte("12345"))
	c.Set("b", []byte("67890"))
	c.Get("a") // refresh "a" so "b" becomes the eviction victim
	c.Set("c", []byte("xyzzy"))

	if _, ok := c.Get("a"); !ok {
		t.Fatalf("recently used entry evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("least recently used entry survived")
	}
}

func TestCacheUpdateExisting(t *testing.T) {
	c := New(100)
	c.Set("a", []byte("123"))
	c.Set("a", []byte("456789"))
	data, ok := c.Get("a")
	if !ok || string(data) != "456789" {
		t.Fatalf("got %q, %v", data, ok)
	}
	if c.Bytes() != 6 {
		t.Fatalf("size accounting wrong: %d", c.Bytes())
	}
}

func TestCacheDelete(t *testing.T) {
	c := New(100)
	c.Set("a", []byte("123"))
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("deleted entry still present")
	}
	if c.Bytes() != 0 || c.Len() != 0 {
		t.Fatalf("cache not empty after delete")
	}
}
