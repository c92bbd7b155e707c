// Package session keeps an in-memory projection of the store and applies
// every mutation to it only after the store has accepted the write.
//
// Each mutating call holds the session lock from the moment it computes the
// new record until memory reflects it, so two edits to the same record are
// applied and persisted in the order they were issued. Reads take a separate
// lock and never see a value the store has not confirmed.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/docstore"
)

var (
	ErrEmptyTitle        = errors.New("session: book title is empty")
	ErrEmptyName         = errors.New("session: character name is empty")
	ErrEmptyNote         = errors.New("session: note has neither subject nor content")
	ErrEmptyImage        = errors.New("session: image is empty")
	ErrInvalidVolume     = errors.New("session: volume must not be negative")
	ErrInvalidColor      = errors.New("session: color is not in the palette")
	ErrBookNotFound      = errors.New("session: book not found")
	ErrCharacterNotFound = errors.New("session: character not found")
	ErrNoteNotFound      = errors.New("session: note not found")
)

// Confirmer is asked before a destructive operation. A nil Confirmer declines.
type Confirmer func(prompt string) bool

// AlwaysConfirm accepts every prompt.
func AlwaysConfirm(string) bool { return true }

// Options configures a Session. Zero values pick the defaults.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	NewID  func() string
	// PickColor chooses a new note's color. Defaults to a uniform pick
	// from store.Palette.
	PickColor func() store.NoteColor
	// CascadeImageDelete deletes a character's images together with the
	// character or its book. Otherwise they are kept until PurgeOrphanImages.
	CascadeImageDelete bool
	// IncludeNotesInExport adds sticky notes to exported documents.
	IncludeNotesInExport bool
	// KeywordLimit caps note keywords in generated image prompts.
	// Zero leaves keywords out; imagegen.DefaultKeywordLimit is the usual value.
	KeywordLimit int
}

// Session is safe for concurrent use.
type Session struct {
	mu sync.Mutex // serializes mutations across persist and apply

	st   store.Storer
	log  *zap.Logger
	opts Options

	stateMu    sync.RWMutex
	books      []*store.Book // ascending createdAt
	notes      *docstore.Store
	images     map[int64]*store.Image // charId -> latest image
	view       ViewState
	lastCharID int64
	loaded     bool
}

// New wraps st. Call Load before serving reads.
func New(st store.Storer, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.PickColor == nil {
		opts.PickColor = func() store.NoteColor {
			return store.Palette[rand.IntN(len(store.Palette))]
		}
	}
	return &Session{
		st:     st,
		log:    opts.Logger,
		opts:   opts,
		notes:  docstore.New(),
		images: make(map[int64]*store.Image),
	}
}

// Load reads books, notes and images from the store. It is the only bulk
// read; afterwards reads are served from memory.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	books, err := s.st.ListBooks(ctx)
	if err != nil {
		return fmt.Errorf("load books: %w", err)
	}
	notes, err := s.st.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	imgs, err := s.st.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.replaceBooks(books)
	s.replaceImages(imgs)
	s.notes.Hydrate(notes)
	s.view = ViewState{}
	s.loaded = true

	s.log.Info("Session loaded",
		zap.Int("books", len(books)),
		zap.Int("notes", len(notes)),
		zap.Int("images", len(imgs)))
	return nil
}

// Loaded reports whether Load has completed.
func (s *Session) Loaded() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.loaded
}

// replaceBooks swaps the book list. Caller holds stateMu.
func (s *Session) replaceBooks(books []*store.Book) {
	s.books = make([]*store.Book, len(books))
	for i, b := range books {
		s.books[i] = b.Clone()
	}
	sort.SliceStable(s.books, func(i, j int) bool {
		return s.books[i].CreatedAt < s.books[j].CreatedAt
	})

	s.lastCharID = 0
	for _, b := range s.books {
		for _, c := range b.Characters {
			if c.ID > s.lastCharID {
				s.lastCharID = c.ID
			}
		}
	}
}

// replaceImages rebuilds the lookup. The newest image per character wins;
// on equal timestamps the later record does. Caller holds stateMu.
func (s *Session) replaceImages(imgs []*store.Image) {
	s.images = make(map[int64]*store.Image, len(imgs))
	for _, img := range imgs {
		if cur, ok := s.images[img.CharID]; ok && cur.CreatedAt > img.CreatedAt {
			continue
		}
		s.images[img.CharID] = img
	}
}

// bookIndex returns the position of id in s.books, or -1. Caller holds stateMu.
func (s *Session) bookIndex(id string) int {
	for i, b := range s.books {
		if b.ID == id {
			return i
		}
	}
	return -1
}

// book returns a deep copy of the book with id.
func (s *Session) book(id string) (*store.Book, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	i := s.bookIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	return s.books[i].Clone(), nil
}

// applyBook replaces or appends b in memory.
func (s *Session) applyBook(b *store.Book) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if i := s.bookIndex(b.ID); i >= 0 {
		s.books[i] = b
		return
	}
	s.books = append(s.books, b)
}

// nextCharID derives a character id from the clock, bumped past the
// largest id seen so ids stay unique within the session.
func (s *Session) nextCharID() int64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	id := s.opts.Now().UnixMilli()
	if id <= s.lastCharID {
		id = s.lastCharID + 1
	}
	s.lastCharID = id
	return id
}

// Books returns copies of all books, oldest first.
func (s *Session) Books() []*store.Book {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	out := make([]*store.Book, len(s.books))
	for i, b := range s.books {
		out[i] = b.Clone()
	}
	return out
}

// Book returns a copy of the book with id.
func (s *Session) Book(id string) (*store.Book, bool) {
	b, err := s.book(id)
	return b, err == nil
}
