package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/mentions"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// AddNote creates a sticky note with a color picked from the palette.
// The store assigns the numeric id.
func (s *Session) AddNote(ctx context.Context, subject, content string) (store.StickyNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject = textnorm.Short(subject)
	content = textnorm.Multiline(content)
	if subject == "" && content == "" {
		return store.StickyNote{}, ErrEmptyNote
	}

	note := &store.StickyNote{
		NotesID:   s.opts.NewID(),
		Subject:   subject,
		Content:   content,
		CreatedAt: s.opts.Now().UnixMilli(),
		Color:     s.opts.PickColor(),
	}
	if err := s.st.AddNote(ctx, note); err != nil {
		return store.StickyNote{}, err
	}
	s.notes.Upsert(*note)

	s.log.Debug("Note added", zap.Int64("id", note.ID), zap.String("color", string(note.Color)))
	return *note, nil
}

// UpdateNote replaces a note's subject and content. Returns false without
// writing when neither changes after normalization.
func (s *Session) UpdateNote(ctx context.Context, id int64, subject, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.notes.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	subject = textnorm.Short(subject)
	content = textnorm.Multiline(content)
	if subject == "" && content == "" {
		return false, ErrEmptyNote
	}

	var patch store.NotePatch
	if subject != note.Subject {
		patch.Subject = &subject
	}
	if content != note.Content {
		patch.Content = &content
	}
	if patch.Subject == nil && patch.Content == nil {
		return false, nil
	}

	if err := s.st.UpdateNote(ctx, id, patch); err != nil {
		return false, err
	}
	note.Subject = subject
	note.Content = content
	s.notes.Upsert(note)
	return true, nil
}

// SetNoteColor recolors a note.
func (s *Session) SetNoteColor(ctx context.Context, id int64, color store.NoteColor) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !color.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	note, ok := s.notes.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	if note.Color == color {
		return false, nil
	}

	if err := s.st.UpdateNote(ctx, id, store.NotePatch{Color: &color}); err != nil {
		return false, err
	}
	note.Color = color
	s.notes.Upsert(note)
	return true, nil
}

// DeleteNote removes a note. Notes are not confirmation-gated.
func (s *Session) DeleteNote(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes.Get(id); !ok {
		return fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	if err := s.st.DeleteNote(ctx, id); err != nil {
		return err
	}
	s.notes.Remove(id)

	s.log.Debug("Note deleted", zap.Int64("id", id))
	return nil
}

// Notes returns every note, oldest first.
func (s *Session) Notes() []*store.StickyNote {
	return s.notes.All()
}

// Note returns the note with id.
func (s *Session) Note(id int64) (store.StickyNote, bool) {
	return s.notes.Get(id)
}

// NotesMentioning returns notes whose subject or content names the
// character. A charID of 0 matches any character of the book.
func (s *Session) NotesMentioning(bookID string, charID int64) ([]*store.StickyNote, error) {
	book, err := s.book(bookID)
	if err != nil {
		return nil, err
	}
	if charID != 0 && book.Character(charID) == nil {
		return nil, fmt.Errorf("%w: %d", ErrCharacterNotFound, charID)
	}

	ix, err := mentions.Build(book.Characters)
	if err != nil {
		return nil, err
	}
	return s.notes.Filter(func(n *store.StickyNote) bool {
		text := n.Subject + "\n" + n.Content
		if charID != 0 {
			return ix.Mentions(text, charID)
		}
		return len(ix.Scan(text)) > 0
	}), nil
}

// SearchNotes returns notes whose subject equals subject under the same
// case folding the store uses for FindNotesBySubject.
func (s *Session) SearchNotes(subject string) []*store.StickyNote {
	key := textnorm.TitleKey(subject)
	return s.notes.Filter(func(n *store.StickyNote) bool {
		return textnorm.TitleKey(n.Subject) == key
	})
}
