package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// CharacterInput is the free-text form of a character's editable fields.
// Abilities is comma separated.
type CharacterInput struct {
	Name      string
	Role      string
	Notes     string
	Abilities string
	ArcStage  string
}

// Field names one editable character field.
type Field int

const (
	FieldName Field = iota
	FieldRole
	FieldNotes
	FieldAbilities
	FieldArcStage
)

var fieldNames = map[Field]string{
	FieldName:      "name",
	FieldRole:      "role",
	FieldNotes:     "notes",
	FieldAbilities: "abilities",
	FieldArcStage:  "arcStage",
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// ParseField maps a field name ("name", "role", "notes", "abilities",
// "arcStage") to its Field.
func ParseField(s string) (Field, error) {
	for f, n := range fieldNames {
		if n == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown character field %q", s)
}

func (f Field) multiline() bool { return f == FieldNotes }

// normalize applies the field's text rule.
func (f Field) normalize(v string) string {
	switch f {
	case FieldNotes:
		return textnorm.Multiline(v)
	case FieldAbilities:
		return textnorm.Abilities(v)
	default:
		return textnorm.Short(v)
	}
}

// get returns the field's committed display text.
func (f Field) get(c *store.Character) string {
	switch f {
	case FieldName:
		return c.Name
	case FieldRole:
		return c.Role
	case FieldNotes:
		return c.Notes
	case FieldAbilities:
		return textnorm.JoinAbilities(c.Abilities)
	case FieldArcStage:
		return c.ArcStage
	}
	return ""
}

// set stores an already normalized value.
func (f Field) set(c *store.Character, v string) {
	switch f {
	case FieldName:
		c.Name = v
	case FieldRole:
		c.Role = v
	case FieldNotes:
		c.Notes = v
	case FieldAbilities:
		c.Abilities = textnorm.SplitAbilities(v)
	case FieldArcStage:
		c.ArcStage = v
	}
}

func (in CharacterInput) character(id int64) store.Character {
	return store.Character{
		ID:            id,
		Name:          textnorm.Short(in.Name),
		Role:          textnorm.Short(in.Role),
		Notes:         textnorm.Multiline(in.Notes),
		Abilities:     textnorm.SplitAbilities(in.Abilities),
		ArcStage:      textnorm.Short(in.ArcStage),
		Relationships: []store.Relationship{},
	}
}

// AddCharacter appends a character to a book and rewrites the whole book.
func (s *Session) AddCharacter(ctx context.Context, bookID string, in CharacterInput) (store.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.book(bookID)
	if err != nil {
		return store.Character{}, err
	}
	c := in.character(0)
	if c.Name == "" {
		return store.Character{}, ErrEmptyName
	}
	c.ID = s.nextCharID()

	book.Characters = append(book.Characters, c)
	if err := s.st.PutBook(ctx, book); err != nil {
		return store.Character{}, err
	}
	s.applyBook(book)

	s.log.Debug("Character added", zap.String("book", bookID), zap.Int64("id", c.ID), zap.String("name", c.Name))
	return c.Clone(), nil
}

// UpdateCharacter replaces the editable fields of a character. Relationships
// are kept. An update that changes nothing is not written.
func (s *Session) UpdateCharacter(ctx context.Context, bookID string, charID int64, in CharacterInput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, cur, err := s.character(bookID, charID)
	if err != nil {
		return false, err
	}
	next := in.character(charID)
	if next.Name == "" {
		return false, ErrEmptyName
	}
	next.Relationships = cur.Relationships
	if sameEditable(*cur, next) {
		return false, nil
	}

	*cur = next
	return true, s.putBook(ctx, book)
}

// SetCharacterField normalizes v and writes it into one field. Returns false
// without writing when the normalized value equals the current one.
func (s *Session) SetCharacterField(ctx context.Context, bookID string, charID int64, field Field, v string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCharacterField(ctx, bookID, charID, field, v)
}

func (s *Session) setCharacterField(ctx context.Context, bookID string, charID int64, field Field, v string) (bool, error) {
	book, c, err := s.character(bookID, charID)
	if err != nil {
		return false, err
	}
	v = field.normalize(v)
	if field == FieldName && v == "" {
		return false, ErrEmptyName
	}
	if v == field.get(c) {
		return false, nil
	}

	field.set(c, v)
	if err := s.putBook(ctx, book); err != nil {
		return false, err
	}
	s.log.Debug("Character field set",
		zap.String("book", bookID),
		zap.Int64("id", charID),
		zap.Stringer("field", field))
	return true, nil
}

// CommitCharacterField commits a field draft. Blur commits every field;
// Enter commits all but notes. Empty or unchanged drafts are reverted
// without touching the store.
func (s *Session) CommitCharacterField(ctx context.Context, bookID string, charID int64, field Field, d *Draft, trigger Trigger) (bool, error) {
	if !trigger.commits(field.multiline()) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := field.normalize(d.Value())
	if v == "" || v == field.normalize(d.Committed()) {
		d.Revert()
		return false, nil
	}
	changed, err := s.setCharacterField(ctx, bookID, charID, field, v)
	if err != nil {
		return false, err
	}
	d.accept(v)
	return changed, nil
}

// DeleteCharacter removes a character after confirm accepts. Its images are
// kept unless CascadeImageDelete is set.
func (s *Session) DeleteCharacter(ctx context.Context, bookID string, charID int64, confirm Confirmer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, c, err := s.character(bookID, charID)
	if err != nil {
		return false, err
	}
	if confirm == nil || !confirm(fmt.Sprintf("Delete character %q from %q?", c.Name, book.Title)) {
		return false, nil
	}

	kept := make([]store.Character, 0, len(book.Characters)-1)
	for _, other := range book.Characters {
		if other.ID != charID {
			kept = append(kept, other)
		}
	}
	book.Characters = kept

	if s.opts.CascadeImageDelete {
		err = s.st.RunInTx(ctx, func(ctx context.Context, tx store.Collections) error {
			if err := tx.PutBook(ctx, book); err != nil {
				return err
			}
			_, err := tx.DeleteImagesByCharIDs(ctx, charID)
			return err
		})
	} else {
		err = s.st.PutBook(ctx, book)
	}
	if err != nil {
		return false, err
	}

	s.stateMu.Lock()
	if i := s.bookIndex(bookID); i >= 0 {
		s.books[i] = book
	}
	if s.opts.CascadeImageDelete {
		delete(s.images, charID)
	}
	s.dropFromView(bookID, charID)
	s.stateMu.Unlock()

	s.log.Debug("Character deleted", zap.String("book", bookID), zap.Int64("id", charID))
	return true, nil
}

// character returns a copy of the book and a pointer into its characters.
func (s *Session) character(bookID string, charID int64) (*store.Book, *store.Character, error) {
	book, err := s.book(bookID)
	if err != nil {
		return nil, nil, err
	}
	c := book.Character(charID)
	if c == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrCharacterNotFound, charID)
	}
	return book, c, nil
}

// putBook persists a rebuilt book, then applies it.
func (s *Session) putBook(ctx context.Context, book *store.Book) error {
	if err := s.st.PutBook(ctx, book); err != nil {
		return err
	}
	s.applyBook(book)
	return nil
}

func sameEditable(a, b store.Character) bool {
	return a.Name == b.Name &&
		a.Role == b.Role &&
		a.Notes == b.Notes &&
		a.ArcStage == b.ArcStage &&
		textnorm.JoinAbilities(a.Abilities) == textnorm.JoinAbilities(b.Abilities)
}
