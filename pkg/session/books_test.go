package session

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/storykeep/internal/store"
)

func TestAddBookValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newTestStore(t), Options{})

	_, err := s.AddBook(ctx, "   \t ")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = s.AddBook(ctx, "Straße")
	require.NoError(t, err)
	_, err = s.AddBook(ctx, "STRASSE")
	assert.ErrorIs(t, err, store.ErrDuplicateTitle)
	assert.Len(t, s.Books(), 1)
}

func TestRenameBook(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newTestStore(t), Options{})

	a, err := s.AddBook(ctx, "Alpha")
	require.NoError(t, err)
	_, err = s.AddBook(ctx, "Beta")
	require.NoError(t, err)

	changed, err := s.RenameBook(ctx, a.ID, "beta")
	assert.ErrorIs(t, err, store.ErrDuplicateTitle)
	assert.False(t, changed)

	changed, err = s.RenameBook(ctx, a.ID, "  Alpha ")
	require.NoError(t, err)
	assert.False(t, changed, "unchanged after normalization")

	changed, err = s.RenameBook(ctx, a.ID, "ALPHA")
	require.NoError(t, err)
	assert.True(t, changed, "a case-only change of the same book is allowed")

	b, ok := s.Book(a.ID)
	require.True(t, ok)
	assert.Equal(t, "ALPHA", b.Title)
}

func TestCommitBookTitle(t *testing.T) {
	ctx := context.Background()
	cs := &countingStore{Storer: newTestStore(t)}
	s := newTestSession(t, cs, Options{})

	book, err := s.AddBook(ctx, "Draft Title")
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     string
		trigger   Trigger
		changed   bool
		wantTitle string
		wantDraft string
	}{
		{name: "keystroke does not commit", input: "New", trigger: TriggerKeystroke, wantTitle: "Draft Title", wantDraft: "New"},
		{name: "whitespace only reverts", input: "   ", trigger: TriggerBlur, wantTitle: "Draft Title", wantDraft: "Draft Title"},
		{name: "unchanged after normalization reverts", input: " Draft   Title ", trigger: TriggerEnter, wantTitle: "Draft Title", wantDraft: "Draft Title"},
		{name: "enter commits", input: "  Final  Title", trigger: TriggerEnter, changed: true, wantTitle: "Final Title", wantDraft: "Final Title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, _ := s.Book(book.ID)
			d := NewDraft(cur.Title)
			d.Set(tt.input)

			changed, err := s.CommitBookTitle(ctx, book.ID, d, tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.wantDraft, d.Value())

			got, _ := s.Book(book.ID)
			assert.Equal(t, tt.wantTitle, got.Title)
		})
	}
	assert.Equal(t, 1, cs.count(), "only the real change reached the store")
}

func TestUpdateBookDetails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{})

	book, err := s.AddBook(ctx, "Details")
	require.NoError(t, err)

	summary, volume := "  A tale\n  of two   heroes ", 2
	changed, err := s.UpdateBookDetails(ctx, book.ID, &summary, &volume)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := st.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "A tale\n of two heroes", stored.Summary)
	assert.Equal(t, 2, stored.Volume)

	changed, err = s.UpdateBookDetails(ctx, book.ID, nil, &volume)
	require.NoError(t, err)
	assert.False(t, changed)

	negative := -1
	_, err = s.UpdateBookDetails(ctx, book.ID, nil, &negative)
	assert.ErrorIs(t, err, ErrInvalidVolume)
}

func TestDeleteBook(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{})

	book, err := s.AddBook(ctx, "Doomed")
	require.NoError(t, err)
	c, err := s.AddCharacter(ctx, book.ID, CharacterInput{Name: "Kai"})
	require.NoError(t, err)
	_, err = s.SaveCharacterImage(ctx, c.ID, []byte("png"))
	require.NoError(t, err)
	require.NoError(t, s.SelectBook(book.ID))

	var prompt string
	decline := func(p string) bool { prompt = p; return false }

	deleted, err := s.DeleteBook(ctx, book.ID, decline)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Contains(t, prompt, "Doomed")

	deleted, err = s.DeleteBook(ctx, book.ID, nil)
	require.NoError(t, err)
	assert.False(t, deleted, "nil confirmer declines")
	_, err = st.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, s.View().BookID)

	deleted, err = s.DeleteBook(ctx, book.ID, AlwaysConfirm)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, s.Books())
	assert.True(t, s.View().TopLevel())
	_, err = st.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	imgs, err := st.ListImages(ctx)
	require.NoError(t, err)
	assert.Len(t, imgs, 1, "images are kept without cascade")
}

func TestDeleteBookCascade(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{CascadeImageDelete: true})

	book, err := s.AddBook(ctx, "Doomed")
	require.NoError(t, err)
	c, err := s.AddCharacter(ctx, book.ID, CharacterInput{Name: "Kai"})
	require.NoError(t, err)
	_, err = s.SaveCharacterImage(ctx, c.ID, []byte("png"))
	require.NoError(t, err)

	other, err := s.AddBook(ctx, "Survivor")
	require.NoError(t, err)
	keep, err := s.AddCharacter(ctx, other.ID, CharacterInput{Name: "Mara"})
	require.NoError(t, err)
	_, err = s.SaveCharacterImage(ctx, keep.ID, []byte("png"))
	require.NoError(t, err)

	deleted, err := s.DeleteBook(ctx, book.ID, AlwaysConfirm)
	require.NoError(t, err)
	assert.True(t, deleted)

	imgs, err := st.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, keep.ID, imgs[0].CharID)

	_, ok := s.CharacterImage(c.ID)
	assert.False(t, ok)
	_, ok = s.CharacterImage(keep.ID)
	assert.True(t, ok)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newTestStore(t), Options{})

	book, err := s.AddBook(ctx, "Original")
	require.NoError(t, err)
	book.Title = "Mutated"

	got, ok := s.Book(book.ID)
	require.True(t, ok)
	if diff := cmp.Diff("Original", got.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
}
