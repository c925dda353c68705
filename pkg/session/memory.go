package session

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	sender    string
	expiresAt time.Time
}

// MemoryStore is an in-process Store ordered by insertion time.
type MemoryStore struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

// NewMemoryStore returns a store holding at most capacity entries for ttl each.
// Non-positive values disable the respective bound.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (s *MemoryStore) Put(_ context.Context, token string, sender string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpired(now)

	if elem, ok := s.entries[token]; ok {
		s.order.Remove(elem)
		delete(s.entries, token)
	}

	for s.capacity > 0 && s.order.Len() >= s.capacity {
		s.removeElement(s.order.Front())
	}

	entry := &memoryEntry{token: token, sender: sender}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}
	s.entries[token] = s.order.PushBack(entry)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired(s.now())

	elem, ok := s.entries[strings.TrimSpace(token)]
	if !ok {
		return "", false, nil
	}

	entry := elem.Value.(*memoryEntry)
	s.removeElement(elem)
	return entry.sender, true, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpired(s.now())
	return s.order.Len(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order.Init()
	clear(s.entries)
	return nil
}

// evictExpired drops entries from the front; insertion order equals expiry order.
func (s *MemoryStore) evictExpired(now time.Time) {
	if s.ttl <= 0 {
		return
	}

	for elem := s.order.Front(); elem != nil; elem = s.order.Front() {
		if now.Before(elem.Value.(*memoryEntry).expiresAt) {
			return
		}
		s.removeElement(elem)
	}
}

func (s *MemoryStore) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	s.order.Remove(elem)
	delete(s.entries, entry.token)
}
