package kv

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, options MemoryOptions, clock *fakeClock) *MemoryStore {
	t.Helper()
	return NewMemoryStore(context.Background(), log.NewNopLogger(), options, clock.Now)
}

func TestMemoryStoreTTL(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{}, clock)
	s.Set([]byte("key"), []byte("value"), 10*time.Second)
	value, ok := s.Get([]byte("key"))
	if !ok {
		t.Fatal("expected value before expiry")
	}
	if !bytes.Equal(value, []byte("value")) {
		t.Fatalf("unexpected value: %q", value)
	}
	clock.Advance(9 * time.Second)
	_, ok = s.Get([]byte("key"))
	if !ok {
		t.Fatal("expected value before expiry")
	}
	// past the deadline the entry must read as absent even though no
	// sweep has run
	clock.Advance(2 * time.Second)
	_, ok = s.Get([]byte("key"))
	if ok {
		t.Fatal("expected expired entry to be absent")
	}
	if s.Len() != 1 {
		t.Fatal("entry should still be physically present before a sweep")
	}
	s.sweep()
	if s.Len() != 0 {
		t.Fatal("sweep should reclaim expired entries")
	}
}

func TestMemoryStoreNoTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{}, clock)
	s.Set([]byte("key"), []byte("value"), 0)
	clock.Advance(1000 * time.Hour)
	s.sweep()
	if _, ok := s.Get([]byte("key")); !ok {
		t.Fatal("entry without ttl must not expire")
	}
}

func TestMemoryStoreSetReplaces(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{}, clock)
	s.Set([]byte("key"), []byte("old"), time.Second)
	s.Set([]byte("key"), []byte("new"), 0)
	clock.Advance(time.Minute)
	value, ok := s.Get([]byte("key"))
	if !ok {
		t.Fatal("replacement removed the ttl, entry must survive")
	}
	if !bytes.Equal(value, []byte("new")) {
		t.Fatalf("unexpected value: %q", value)
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{}, clock)
	s.Set([]byte("key"), []byte("value"), 0)
	s.Remove([]byte("key"))
	if _, ok := s.Get([]byte("key")); ok {
		t.Fatal("removed key must be absent")
	}
	// removing an absent key is a no-op
	s.Remove([]byte("key"))
	s.Remove([]byte("never-set"))
}

func TestMemoryStoreConcurrentSet(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{}, clock)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		value := []byte{byte('a' + i)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.Set([]byte("key"), value, 0)
			}
		}()
	}
	wg.Wait()
	value, ok := s.Get([]byte("key"))
	if !ok {
		t.Fatal("expected value")
	}
	if !bytes.Equal(value, []byte("a")) && !bytes.Equal(value, []byte("b")) {
		t.Fatalf("torn value: %q", value)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{MaxEntries: 2}, clock)
	s.Set([]byte("soon"), []byte("1"), time.Second)
	s.Set([]byte("later"), []byte("2"), time.Hour)
	s.Set([]byte("new"), []byte("3"), 0)
	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if _, ok := s.Get([]byte("soon")); ok {
		t.Fatal("oldest-deadline entry should have been evicted")
	}
	if _, ok := s.Get([]byte("later")); !ok {
		t.Fatal("entry with later deadline should survive")
	}
	if _, ok := s.Get([]byte("new")); !ok {
		t.Fatal("new entry should be present")
	}
}

func TestMemoryStoreSweepLoop(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, MemoryOptions{SweepInterval: utils.Duration(10 * time.Millisecond)}, clock)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Set([]byte("key"), []byte("value"), time.Second)
	clock.Advance(2 * time.Second)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweep loop did not reclaim the expired entry")
}
