package session

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/storykeep/internal/store"
)

func seedCharacter(t *testing.T, s *Session) (*store.Book, store.Character) {
	t.Helper()
	ctx := context.Background()
	book, err := s.AddBook(ctx, "Saga")
	require.NoError(t, err)
	c, err := s.AddCharacter(ctx, book.ID, CharacterInput{
		Name:      " Kai ",
		Role:      "Hero",
		Notes:     "line one\nline two",
		Abilities: "fire,  ice , ,fire",
		ArcStage:  "Call",
	})
	require.NoError(t, err)
	return book, c
}

func TestAddCharacter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{})
	book, c := seedCharacter(t, s)

	assert.Equal(t, "Kai", c.Name)
	assert.Equal(t, []string{"fire", "ice", "fire"}, c.Abilities)

	stored, err := st.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, stored.Characters, 1)
	assert.Equal(t, c.ID, stored.Characters[0].ID)

	_, err = s.AddCharacter(ctx, book.ID, CharacterInput{Name: "  "})
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = s.AddCharacter(ctx, "missing", CharacterInput{Name: "Mara"})
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestCommitCharacterFieldNoOpLeavesRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	cs := &countingStore{Storer: base}
	s := newTestSession(t, cs, Options{})
	book, c := seedCharacter(t, s)

	before, err := base.GetBook(ctx, book.ID)
	require.NoError(t, err)
	writes := cs.count()

	cases := []struct {
		field Field
		input string
	}{
		{FieldName, "  Kai  "},
		{FieldRole, ""},
		{FieldAbilities, "fire,ice,  fire,"},
		{FieldNotes, "line one\nline   two  "},
		{FieldArcStage, " Call"},
	}
	for _, tc := range cases {
		t.Run(tc.field.String(), func(t *testing.T) {
			cur, _ := s.Book(book.ID)
			d := NewDraft(tc.field.get(cur.Character(c.ID)))
			d.Set(tc.input)

			changed, err := s.CommitCharacterField(ctx, book.ID, c.ID, tc.field, d, TriggerBlur)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.False(t, d.Dirty(), "draft reverts to the committed value")
		})
	}

	after, err := base.GetBook(ctx, book.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("record changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, writes, cs.count())
}

func TestCommitCharacterFieldTriggers(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newTestStore(t), Options{})
	book, c := seedCharacter(t, s)

	notes := NewDraft(c.Notes)
	notes.Set("line one\nline two\nline three")

	changed, err := s.CommitCharacterField(ctx, book.ID, c.ID, FieldNotes, notes, TriggerEnter)
	require.NoError(t, err)
	assert.False(t, changed, "Enter inserts a newline in notes")
	assert.True(t, notes.Dirty())

	changed, err = s.CommitCharacterField(ctx, book.ID, c.ID, FieldNotes, notes, TriggerBlur)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, notes.Dirty())

	role := NewDraft(c.Role)
	role.Set("  Reluctant   Hero ")
	changed, err = s.CommitCharacterField(ctx, book.ID, c.ID, FieldRole, role, TriggerEnter)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Reluctant Hero", role.Value())

	abilities := NewDraft(textAbilities(c))
	abilities.Set("fire, wind")
	_, err = s.CommitCharacterField(ctx, book.ID, c.ID, FieldAbilities, abilities, TriggerBlur)
	require.NoError(t, err)

	b, _ := s.Book(book.ID)
	got := b.Character(c.ID)
	assert.Equal(t, "line one\nline two\nline three", got.Notes)
	assert.Equal(t, "Reluctant Hero", got.Role)
	assert.Equal(t, []string{"fire", "wind"}, got.Abilities)
	assert.Equal(t, "fire, wind", abilities.Value())
}

func textAbilities(c store.Character) string {
	return FieldAbilities.get(&c)
}

func TestSetCharacterField(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newTestStore(t), Options{})
	book, c := seedCharacter(t, s)

	_, err := s.SetCharacterField(ctx, book.ID, c.ID, FieldName, "   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	changed, err := s.SetCharacterField(ctx, book.ID, c.ID, FieldRole, "")
	require.NoError(t, err)
	assert.True(t, changed, "non-name fields may be cleared")

	_, err = s.SetCharacterField(ctx, book.ID, 12345, FieldRole, "x")
	assert.ErrorIs(t, err, ErrCharacterNotFound)
}

func TestUpdateCharacterKeepsRelationships(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.AddBook(ctx, &store.Book{
		ID:    "b1",
		Title: "Linked",
		Characters: []store.Character{{
			ID:            7,
			Name:          "Kai",
			Relationships: []store.Relationship{{Name: "Mara", Type: "rival"}},
		}},
	}))
	s := newTestSession(t, st, Options{})

	changed, err := s.UpdateCharacter(ctx, "b1", 7, CharacterInput{Name: "Kai", Role: "Hero"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateCharacter(ctx, "b1", 7, CharacterInput{Name: " Kai", Role: "Hero "})
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := st.GetBook(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Hero", stored.Characters[0].Role)
	assert.Equal(t, []store.Relationship{{Name: "Mara", Type: "rival"}}, stored.Characters[0].Relationships)
}

func TestDeleteCharacter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{})
	book, c := seedCharacter(t, s)
	mara, err := s.AddCharacter(ctx, book.ID, CharacterInput{Name: "Mara"})
	require.NoError(t, err)

	require.NoError(t, s.SelectBook(book.ID))
	require.NoError(t, s.SelectCharacter(c.ID))

	deleted, err := s.DeleteCharacter(ctx, book.ID, c.ID, func(string) bool { return false })
	require.NoError(t, err)
	assert.False(t, deleted)
	b, _ := s.Book(book.ID)
	assert.Len(t, b.Characters, 2)

	deleted, err = s.DeleteCharacter(ctx, book.ID, c.ID, AlwaysConfirm)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, ViewState{BookID: book.ID}, s.View())
	stored, err := st.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, stored.Characters, 1)
	assert.Equal(t, mara.ID, stored.Characters[0].ID)
}

func TestDeleteCharacterCascade(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	s := newTestSession(t, st, Options{CascadeImageDelete: true})
	book, c := seedCharacter(t, s)

	_, err := s.SaveCharacterImage(ctx, c.ID, []byte("one"))
	require.NoError(t, err)
	_, err = s.SaveCharacterImage(ctx, c.ID, []byte("two"))
	require.NoError(t, err)

	deleted, err := s.DeleteCharacter(ctx, book.ID, c.ID, AlwaysConfirm)
	require.NoError(t, err)
	assert.True(t, deleted)

	imgs, err := st.ListImages(ctx)
	require.NoError(t, err)
	assert.Empty(t, imgs)
	_, ok := s.CharacterImage(c.ID)
	assert.False(t, ok)
}

func TestParseField(t *testing.T) {
	for f, name := range fieldNames {
		got, err := ParseField(name)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseField("height")
	assert.Error(t, err)
}
