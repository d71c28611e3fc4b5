package report

import (
	"sync"

	"github.com/deixis/shipwright/internal/pipeline"
)

// LRUStore is an in-memory LRU cache that delegates to a backing Store on miss.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	back Store

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key  string
	run  *pipeline.Run
	prev *lruEntry
	next *lruEntry
}

// NewLRUStore creates an LRU cache with the given capacity that delegates
// to back on cache misses. Capacity must be >= 1. A nil back keeps runs
// in memory only.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		back:  back,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save writes the run to the LRU cache and delegates to the backing store.
func (s *LRUStore) Save(run *pipeline.Run) error {
	if err := ValidID(run.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.put(run.ID, run)
	s.mu.Unlock()

	if s.back == nil {
		return nil
	}
	return s.back.Save(run)
}

// Load checks the LRU cache first. On miss, loads from the backing store
// and promotes the run into the cache.
func (s *LRUStore) Load(runID string) (*pipeline.Run, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		s.moveToFront(e)
		r := e.run
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, ErrNotFound
	}
	run, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.put(runID, run)
	s.mu.Unlock()
	return run, nil
}

// Recent returns up to n cached runs, most recently used first.
func (s *LRUStore) Recent(n int) []*pipeline.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*pipeline.Run
	for e := s.head; e != nil && len(out) < n; e = e.next {
		out = append(out, e.run)
	}
	return out
}

// put inserts or refreshes key. Caller holds s.mu.
func (s *LRUStore) put(key string, run *pipeline.Run) {
	if e, ok := s.items[key]; ok {
		e.run = run
		s.moveToFront(e)
		return
	}
	e := &lruEntry{key: key, run: run}
	s.items[key] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
