// Package docstore holds the session's sticky notes in memory.
// Notes are hydrated once at startup, then read and scanned from Go memory.
package docstore

import (
	"sort"
	"sync"

	"github.com/kittclouds/storykeep/internal/store"
)

// Store is a keyed copy of the notes collection.
// Thread-safe; callers always receive copies.
type Store struct {
	mu   sync.RWMutex
	docs map[int64]store.StickyNote
}

// New creates an empty note store.
func New() *Store {
	return &Store{
		docs: make(map[int64]store.StickyNote),
	}
}

// Hydrate replaces the contents with notes and returns how many were loaded.
func (s *Store) Hydrate(notes []*store.StickyNote) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[int64]store.StickyNote, len(notes))
	for _, n := range notes {
		s.docs[n.ID] = *n
	}
	return len(s.docs)
}

// Upsert adds or replaces a single note.
func (s *Store) Upsert(note store.StickyNote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[note.ID] = note
}

// Remove deletes a note. Unknown ids are ignored.
func (s *Store) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
}

// Get returns the note with id.
func (s *Store) Get(id int64) (store.StickyNote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.docs[id]
	return n, ok
}

// Count returns the number of notes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.docs)
}

// All returns every note, oldest first.
func (s *Store) All() []*store.StickyNote {
	return s.Filter(nil)
}

// Filter returns notes for which keep reports true, oldest first.
// A nil keep returns everything.
func (s *Store) Filter(keep func(n *store.StickyNote) bool) []*store.StickyNote {
	s.mu.RLock()
	out := make([]*store.StickyNote, 0, len(s.docs))
	for _, n := range s.docs {
		n := n
		if keep == nil || keep(&n) {
			out = append(out, &n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear removes all notes.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[int64]store.StickyNote)
}
