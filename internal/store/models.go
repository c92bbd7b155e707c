// Package store provides SQLite-backed persistence for storykeep.
// It is the durable on-device layer that replaces the browser's Dexie tables:
// books (with embedded characters), character images, and sticky notes.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateTitle is returned by AddBook when another book already
	// carries a case-insensitively equal title.
	ErrDuplicateTitle = errors.New("store: a book with this title already exists")
)

// Relationship links a character to another by name.
type Relationship struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Character is owned by exactly one Book and is stored inside it.
type Character struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role"`
	Notes         string         `json:"notes"`
	Abilities     []string       `json:"abilities"`
	ArcStage      string         `json:"arcStage"`
	Relationships []Relationship `json:"relationships"`
}

// Book is the top-level record. Characters are embedded, not a separate table.
type Book struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary"`
	Volume     int         `json:"volume"`
	Characters []Character `json:"characters"`
	CreatedAt  int64       `json:"createdAt"`
}

// Clone returns a deep copy so callers can rebuild a book without aliasing
// the character slice held elsewhere.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	out := *b
	out.Characters = make([]Character, len(b.Characters))
	for i, c := range b.Characters {
		out.Characters[i] = c.Clone()
	}
	return &out
}

// Character returns the character with the given id, or nil.
func (b *Book) Character(id int64) *Character {
	for i := range b.Characters {
		if b.Characters[i].ID == id {
			return &b.Characters[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the character.
func (c Character) Clone() Character {
	out := c
	if c.Abilities != nil {
		out.Abilities = append([]string(nil), c.Abilities...)
	}
	if c.Relationships != nil {
		out.Relationships = append([]Relationship(nil), c.Relationships...)
	}
	return out
}

// Image is a stored picture for a character. CharID is not enforced as a
// foreign key; several images may exist for one character.
type Image struct {
	ImageID   string `json:"imageId"`
	CharID    int64  `json:"charId"`
	CreatedAt int64  `json:"createdAt"`
	Blob      []byte `json:"-"`
}

// NoteColor is one of the fixed sticky-note palette entries.
type NoteColor string

const (
	ColorYellow NoteColor = "yellow"
	ColorPink   NoteColor = "pink"
	ColorBlue   NoteColor = "blue"
	ColorGreen  NoteColor = "green"
	ColorPurple NoteColor = "purple"
	ColorOrange NoteColor = "orange"
)

// Palette lists every valid NoteColor in display order.
var Palette = []NoteColor{ColorYellow, ColorPink, ColorBlue, ColorGreen, ColorPurple, ColorOrange}

// Valid reports whether c belongs to the palette.
func (c NoteColor) Valid() bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// StickyNote is a free-form note, independent of books.
// ID is assigned by the store on insert.
type StickyNote struct {
	NotesID   string    `json:"notesId"`
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	CreatedAt int64     `json:"createdAt"`
	Color     NoteColor `json:"color"`
}

// BookPatch carries the fields UpdateBook should change. Nil fields are left alone.
type BookPatch struct {
	Title      *string
	Summary    *string
	Volume     *int
	Characters []Character
	// SetCharacters distinguishes "replace with empty list" from "leave alone".
	SetCharacters bool
}

// NotePatch carries the fields UpdateNote should change.
type NotePatch struct {
	Subject *string
	Content *string
	Color   *NoteColor
}

// Collections is the set of primitives shared by the store and a transaction.
type Collections interface {
	// Books
	AddBook(ctx context.Context, book *Book) error
	PutBook(ctx context.Context, book *Book) error
	UpdateBook(ctx context.Context, id string, patch BookPatch) error
	DeleteBook(ctx context.Context, id string) error
	ClearBooks(ctx context.Context) error
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	FindBooksByTitle(ctx context.Context, title string) ([]*Book, error)
	BulkAddBooks(ctx context.Context, books []*Book) error

	// Images
	AddImage(ctx context.Context, img *Image) error
	PutImage(ctx context.Context, img *Image) error
	DeleteImage(ctx context.Context, imageID string) error
	ClearImages(ctx context.Context) error
	ListImages(ctx context.Context) ([]*Image, error)
	ListImagesByCharIDs(ctx context.Context, charIDs ...int64) ([]*Image, error)
	DeleteImagesByCharIDs(ctx context.Context, charIDs ...int64) (int64, error)
	BulkAddImages(ctx context.Context, imgs []*Image) error

	// Notes
	AddNote(ctx context.Context, note *StickyNote) error
	PutNote(ctx context.Context, note *StickyNote) error
	UpdateNote(ctx context.Context, id int64, patch NotePatch) error
	DeleteNote(ctx context.Context, id int64) error
	ClearNotes(ctx context.Context) error
	ListNotes(ctx context.Context) ([]*StickyNote, error)
	FindNotesBySubject(ctx context.Context, subject string) ([]*StickyNote, error)
	BulkAddNotes(ctx context.Context, notes []*StickyNote) error
}

// Storer defines the interface for data persistence.
// SQLiteStore is the sole implementation.
type Storer interface {
	Collections

	// RunInTx runs fn inside one durable transaction. If fn returns an
	// error the transaction is rolled back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Collections) error) error

	// PurgeOrphanImages deletes images whose charId matches no character
	// of any book. Returns the number of deleted images.
	PurgeOrphanImages(ctx context.Context) (int64, error)

	SchemaVersion(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
}
