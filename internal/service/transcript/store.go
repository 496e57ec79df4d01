package transcript

import (
	"sync"
	"time"

	"github.com/civaigentics/widget/backend/internal/model/transcript"
)

// Store is the append-only, index-stable conversation log of one widget.
type Store struct {
	mu      sync.RWMutex
	entries []transcript.Entry
	subs    map[int]chan struct{}
	nextSub int
	now     func() time.Time
}

// NewStore returns an empty transcript.
func NewStore() *Store {
	return &Store{
		entries: make([]transcript.Entry, 0, 32),
		subs:    make(map[int]chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append stamps and stores a new entry and returns its index.
func (s *Store) Append(kind transcript.Kind, content string) int {
	s.mu.Lock()
	s.entries = append(s.entries, transcript.Entry{
		Kind:      kind,
		Content:   content,
		CreatedAt: s.now(),
	})
	index := len(s.entries) - 1
	s.notifyLocked()
	s.mu.Unlock()
	return index
}

// Get returns the entry at index.
func (s *Store) Get(index int) (transcript.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.entries) {
		return transcript.Entry{}, false
	}
	return s.entries[index], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the whole transcript in append order.
func (s *Store) Entries() []transcript.Entry {
	return s.Since(0)
}

// Since returns a copy of the entries from index onwards.
func (s *Store) Since(index int) []transcript.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 {
		index = 0
	}
	if index >= len(s.entries) {
		return nil
	}
	copied := make([]transcript.Entry, len(s.entries)-index)
	copy(copied, s.entries[index:])
	return copied
}

// Subscribe returns a channel signalled after every append. Signals coalesce,
// so readers should catch up with Since. The returned func unsubscribes.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
