package kv

import (
	"context"
	"sync"
	"time"

	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

const MemoryStoreType = "memory"

type MemoryOptions struct {
	// SweepInterval is the cadence of the background reclamation pass.
	SweepInterval utils.Duration `yaml:"sweep-interval,omitempty"`
	// MaxEntries bounds the store. Zero means unbounded. When full, a Set
	// of a new key evicts the entry with the oldest deadline; entries
	// without a deadline are evicted last.
	MaxEntries int `yaml:"max-entries,omitempty"`
}

type memoryItem struct {
	value    []byte
	deadline time.Time // zero: never expires
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a concurrency-safe map with per-entry optional expiry.
// A single lock makes Set/Get/Remove linearizable; Get checks the deadline
// at read time so an expired entry is never returned even before the sweep
// has reclaimed it.
type MemoryStore struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     log.Logger
	timeFunc   func() time.Time
	sweepEvery time.Duration
	maxEntries int

	lock      sync.RWMutex
	m         map[string]*memoryItem
	started   bool
	closeDone chan struct{}
}

func NewMemoryStore(ctx context.Context, logger log.Logger, options MemoryOptions, timeFunc func() time.Time) *MemoryStore {
	ctx, cancel := context.WithCancel(ctx)
	sweepEvery := time.Duration(options.SweepInterval)
	if sweepEvery <= 0 {
		sweepEvery = time.Duration(DefaultSweepInterval)
	}
	if timeFunc == nil {
		timeFunc = time.Now
	}
	return &MemoryStore{
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		timeFunc:   timeFunc,
		sweepEvery: sweepEvery,
		maxEntries: options.MaxEntries,
		m:          make(map[string]*memoryItem),
		closeDone:  make(chan struct{}),
	}
}

func (s *MemoryStore) Type() string {
	return MemoryStoreType
}

func (s *MemoryStore) Start() error {
	s.started = true
	go s.loopSweep()
	return nil
}

func (s *MemoryStore) Close() error {
	s.cancel()
	if s.started {
		<-s.closeDone
	}
	return nil
}

func (s *MemoryStore) loopSweep() {
	defer close(s.closeDone)
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.timeFunc()
	s.lock.Lock()
	for k, item := range s.m {
		if !item.deadline.IsZero() && now.After(item.deadline) {
			delete(s.m, k)
		}
	}
	s.lock.Unlock()
}

func (s *MemoryStore) Set(key []byte, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)
	item := &memoryItem{value: v}
	if ttl > 0 {
		item.deadline = s.timeFunc().Add(ttl)
	}
	k := string(key)
	s.lock.Lock()
	if s.maxEntries > 0 {
		if _, exists := s.m[k]; !exists && len(s.m) >= s.maxEntries {
			s.evictLocked()
		}
	}
	s.m[k] = item
	s.lock.Unlock()
}

// evictLocked removes the entry closest to expiry. Entries that never
// expire lose only when nothing with a deadline is left.
func (s *MemoryStore) evictLocked() {
	var (
		victim         string
		victimDeadline time.Time
		found          bool
	)
	for k, item := range s.m {
		if item.deadline.IsZero() {
			if !found {
				victim = k
			}
			continue
		}
		if !found || victimDeadline.IsZero() || item.deadline.Before(victimDeadline) {
			victim = k
			victimDeadline = item.deadline
			found = true
		}
	}
	if victim != "" {
		delete(s.m, victim)
	}
}

func (s *MemoryStore) Get(key []byte) ([]byte, bool) {
	s.lock.RLock()
	item, ok := s.m[string(key)]
	s.lock.RUnlock()
	if !ok {
		return nil, false
	}
	if !item.deadline.IsZero() && s.timeFunc().After(item.deadline) {
		return nil, false
	}
	v := make([]byte, len(item.value))
	copy(v, item.value)
	return v, true
}

func (s *MemoryStore) Remove(key []byte) {
	s.lock.Lock()
	delete(s.m, string(key))
	s.lock.Unlock()
}

func (s *MemoryStore) FlushAll() {
	s.lock.Lock()
	s.m = make(map[string]*memoryItem)
	s.lock.Unlock()
}

func (s *MemoryStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.m)
}
