package cache

import (
	"sync"
	"testing"
	"time"
)

func TestGetPut(t *testing.T) {
	c := NewTTL[string](time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("empty cache must miss")
	}

	c.Put("token", "abc", time.Hour)
	v, ok := c.Get("token")
	if !ok || v != "abc" {
		t.Fatalf("Get = %q, %v; want abc, true", v, ok)
	}
}

func TestRefreshMargin(t *testing.T) {
	c := NewTTL[string](time.Minute)

	// The entry is still 30s from expiry but already inside the one
	// minute margin, so it reads as a miss.
	c.Put("token", "abc", 30*time.Second)
	if _, ok := c.Get("token"); ok {
		t.Fatal("entry inside the refresh margin must miss")
	}

	// A second Get after the margin miss is also a miss; the stale
	// entry was evicted.
	if _, ok := c.Get("token"); ok {
		t.Fatal("evicted entry must stay gone")
	}
}

func TestExpiredEntryMisses(t *testing.T) {
	c := NewTTL[string](time.Millisecond)

	c.Put("token", "abc", 2*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("token"); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := NewTTL[int](time.Minute)
	c.Put("a", 1, time.Hour)
	c.Put("b", 2, time.Hour)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted entry must miss")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("other entries must survive a delete")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Fatal("cleared cache must miss")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewTTL[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put("shared", j, time.Hour)
				c.Get("shared")
				c.Delete("shared")
			}
		}()
	}
	wg.Wait()
}
