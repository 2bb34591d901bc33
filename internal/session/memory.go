package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	sess    Session
	expires time.Time
}

// MemoryStore keeps sessions in process. Expired sessions are invisible to
// Get immediately and removed by a janitor goroutine.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. A ttl <= 0 uses [DefaultTTL]. The
// janitor runs every ttl/4, at least once a second.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.janitor(max(ttl/4, time.Second))
	return m
}

// Get implements [Store].
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || !m.now().Before(e.expires) {
		return nil, ErrNotFound
	}
	s := e.sess
	return &s, nil
}

// Put implements [Store].
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = memoryEntry{sess: *s, expires: m.now().Add(m.ttl)}
	return nil
}

// Delete implements [Store].
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored sessions, including expired ones the
// janitor has not collected yet.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the janitor. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
	return nil
}

func (m *MemoryStore) janitor(every time.Duration) {
	defer close(m.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.evictExpired()
		}
	}
}

// evictExpired drops expired sessions and returns how many were removed.
func (m *MemoryStore) evictExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
