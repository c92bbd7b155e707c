package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// AddBook creates a book with a normalized, non-empty, unique title.
func (s *Session) AddBook(ctx context.Context, title string) (*store.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	title = textnorm.Short(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	book := &store.Book{
		ID:         s.opts.NewID(),
		Title:      title,
		Characters: []store.Character{},
		CreatedAt:  s.opts.Now().UnixMilli(),
	}
	if err := s.st.AddBook(ctx, book); err != nil {
		return nil, err
	}
	s.applyBook(book)

	s.log.Debug("Book added", zap.String("id", book.ID), zap.String("title", title))
	return book.Clone(), nil
}

// RenameBook sets a new title. An unchanged title is a no-op and returns
// false. A title equal, ignoring case, to another book's is rejected with
// store.ErrDuplicateTitle.
func (s *Session) RenameBook(ctx context.Context, id, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renameBook(ctx, id, title)
}

func (s *Session) renameBook(ctx context.Context, id, title string) (bool, error) {
	title = textnorm.Short(title)
	if title == "" {
		return false, ErrEmptyTitle
	}
	book, err := s.book(id)
	if err != nil {
		return false, err
	}
	if book.Title == title {
		return false, nil
	}

	others, err := s.st.FindBooksByTitle(ctx, title)
	if err != nil {
		return false, err
	}
	for _, o := range others {
		if o.ID != id {
			return false, fmt.Errorf("%w: %q", store.ErrDuplicateTitle, title)
		}
	}

	if err := s.st.UpdateBook(ctx, id, store.BookPatch{Title: &title}); err != nil {
		return false, err
	}
	book.Title = title
	s.applyBook(book)

	s.log.Debug("Book renamed", zap.String("id", id), zap.String("title", title))
	return true, nil
}

// CommitBookTitle commits a title draft on blur or Enter. Empty or unchanged
// drafts are reverted without touching the store.
func (s *Session) CommitBookTitle(ctx context.Context, id string, d *Draft, trigger Trigger) (bool, error) {
	if !trigger.commits(false) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	title := textnorm.Short(d.Value())
	if title == "" || title == textnorm.Short(d.Committed()) {
		d.Revert()
		return false, nil
	}
	changed, err := s.renameBook(ctx, id, title)
	if err != nil {
		return false, err
	}
	d.accept(title)
	return changed, nil
}

// UpdateBookDetails changes summary and/or volume. Nil arguments are left alone.
func (s *Session) UpdateBookDetails(ctx context.Context, id string, summary *string, volume *int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.book(id)
	if err != nil {
		return false, err
	}

	var patch store.BookPatch
	if summary != nil {
		v := textnorm.Multiline(*summary)
		if v != book.Summary {
			patch.Summary = &v
		}
	}
	if volume != nil {
		if *volume < 0 {
			return false, ErrInvalidVolume
		}
		if *volume != book.Volume {
			v := *volume
			patch.Volume = &v
		}
	}
	if patch.Summary == nil && patch.Volume == nil {
		return false, nil
	}

	if err := s.st.UpdateBook(ctx, id, patch); err != nil {
		return false, err
	}
	if patch.Summary != nil {
		book.Summary = *patch.Summary
	}
	if patch.Volume != nil {
		book.Volume = *patch.Volume
	}
	s.applyBook(book)
	return true, nil
}

// DeleteBook removes a book after confirm accepts. Declining returns
// (false, nil) and changes nothing.
func (s *Session) DeleteBook(ctx context.Context, id string, confirm Confirmer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.book(id)
	if err != nil {
		return false, err
	}
	if confirm == nil || !confirm(fmt.Sprintf("Delete book %q and its %d characters?", book.Title, len(book.Characters))) {
		return false, nil
	}

	charIDs := characterIDs(book)
	if s.opts.CascadeImageDelete && len(charIDs) > 0 {
		err = s.st.RunInTx(ctx, func(ctx context.Context, tx store.Collections) error {
			if err := tx.DeleteBook(ctx, id); err != nil {
				return err
			}
			_, err := tx.DeleteImagesByCharIDs(ctx, charIDs...)
			return err
		})
	} else {
		err = s.st.DeleteBook(ctx, id)
	}
	if err != nil {
		return false, err
	}

	s.stateMu.Lock()
	if i := s.bookIndex(id); i >= 0 {
		s.books = append(s.books[:i], s.books[i+1:]...)
	}
	if s.opts.CascadeImageDelete {
		for _, cid := range charIDs {
			delete(s.images, cid)
		}
	}
	s.dropFromView(id, 0)
	s.stateMu.Unlock()

	s.log.Debug("Book deleted", zap.String("id", id), zap.Bool("cascade", s.opts.CascadeImageDelete))
	return true, nil
}

func characterIDs(b *store.Book) []int64 {
	ids := make([]int64, 0, len(b.Characters))
	for _, c := range b.Characters {
		ids = append(ids, c.ID)
	}
	return ids
}
