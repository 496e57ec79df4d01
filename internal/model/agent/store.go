package agent

// Store exposes agent profiles to HTTP handlers.
type Store interface {
	Default() Profile
	FindByID(id string) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice; the first profile is
// the default one.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items ...Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// Default returns the widget's primary agent.
func (s *MemoryStore) Default() Profile {
	if len(s.items) == 0 {
		return Profile{}
	}
	return s.items[0]
}

// FindByID looks up a profile by agent identifier.
func (s *MemoryStore) FindByID(id string) (Profile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Profile{}, false
}
