package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	if _, ok := c.Get("nonexistent"); ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_JanitorEvicts(t *testing.T) {
	c := cache.New[int](20 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(80 * time.Millisecond)

	if n := c.Len(); n != 0 {
		t.Errorf("expected janitor to evict all entries, %d left", n)
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()
}
