package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, driver string) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: driver})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachDriver runs fn against a fresh in-memory store per registered driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, s *SQLiteStore)) {
	for _, d := range Drivers() {
		t.Run(d, func(t *testing.T) {
			fn(t, newTestStore(t, d))
		})
	}
}

func sampleBook() *Book {
	return &Book{
		ID:      "b1",
		Title:   "My Saga",
		Summary: "A long road.",
		Volume:  2,
		Characters: []Character{
			{
				ID:        1,
				Name:      "Kai",
				Role:      "Hero",
				Notes:     "first line\nsecond line",
				Abilities: []string{"fire", "ice"},
				ArcStage:  "Call",
				Relationships: []Relationship{
					{Name: "Mara", Type: "rival"},
				},
			},
		},
		CreatedAt: 1000,
	}
}

func TestBookCRUD(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		book := sampleBook()
		require.NoError(t, s.AddBook(ctx, book))

		got, err := s.GetBook(ctx, "b1")
		require.NoError(t, err)
		if diff := cmp.Diff(book, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("GetBook mismatch (-want +got):\n%s", diff)
		}

		title := "Renamed Saga"
		volume := 3
		require.NoError(t, s.UpdateBook(ctx, "b1", BookPatch{Title: &title, Volume: &volume}))

		found, err := s.FindBooksByTitle(ctx, "RENAMED saga")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Renamed Saga", found[0].Title)
		assert.Equal(t, 3, found[0].Volume)
		assert.Equal(t, "A long road.", found[0].Summary, "unpatched field must survive")
		assert.Len(t, found[0].Characters, 1)

		err = s.UpdateBook(ctx, "missing", BookPatch{Title: &title})
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.DeleteBook(ctx, "b1"))
		require.NoError(t, s.DeleteBook(ctx, "b1"), "deleting a missing key is a no-op")

		_, err = s.GetBook(ctx, "b1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddBookRejectsDuplicateTitle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		require.NoError(t, s.AddBook(ctx, &Book{ID: "b1", Title: "My Saga", CreatedAt: 1}))

		err := s.AddBook(ctx, &Book{ID: "b2", Title: "my SAGA", CreatedAt: 2})
		assert.ErrorIs(t, err, ErrDuplicateTitle)

		books, err := s.ListBooks(ctx)
		require.NoError(t, err)
		assert.Len(t, books, 1)
	})
}

func TestPutBookUpserts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		book := sampleBook()
		require.NoError(t, s.PutBook(ctx, book))

		book.Characters = append(book.Characters, Character{ID: 2, Name: "Mara"})
		require.NoError(t, s.PutBook(ctx, book))

		books, err := s.ListBooks(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Len(t, books[0].Characters, 2)
	})
}

func TestUpdateBookCanEmptyCharacters(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		require.NoError(t, s.AddBook(ctx, sampleBook()))

		require.NoError(t, s.UpdateBook(ctx, "b1", BookPatch{SetCharacters: true}))

		got, err := s.GetBook(ctx, "b1")
		require.NoError(t, err)
		assert.NotNil(t, got.Characters)
		assert.Empty(t, got.Characters)
	})
}

func TestListBooksOrder(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		require.NoError(t, s.BulkAddBooks(ctx, []*Book{
			{ID: "c", Title: "Third", CreatedAt: 30},
			{ID: "a", Title: "First", CreatedAt: 10},
			{ID: "b", Title: "Second", CreatedAt: 20},
		}))

		books, err := s.ListBooks(ctx)
		require.NoError(t, err)
		var ids []string
		for _, b := range books {
			ids = append(ids, b.ID)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)
	})
}

func TestImages(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
		require.NoError(t, s.BulkAddImages(ctx, []*Image{
			{ImageID: "i1", CharID: 1, CreatedAt: 1, Blob: png},
			{ImageID: "i2", CharID: 1, CreatedAt: 2, Blob: []byte("second")},
			{ImageID: "i3", CharID: 2, CreatedAt: 3, Blob: []byte("other")},
		}))

		imgs, err := s.ListImagesByCharIDs(ctx, 1)
		require.NoError(t, err)
		require.Len(t, imgs, 2)
		assert.Equal(t, "i1", imgs[0].ImageID)
		assert.Equal(t, png, imgs[0].Blob)

		none, err := s.ListImagesByCharIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, s.PutImage(ctx, &Image{ImageID: "i3", CharID: 2, CreatedAt: 3, Blob: []byte("replaced")}))

		n, err := s.DeleteImagesByCharIDs(ctx, 1, 99)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		all, err := s.ListImages(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, []byte("replaced"), all[0].Blob)

		require.NoError(t, s.ClearImages(ctx))
		all, err = s.ListImages(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestNotes(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		first := &StickyNote{NotesID: "n1", Subject: "Plot", Content: "twist", CreatedAt: 1, Color: ColorYellow}
		second := &StickyNote{NotesID: "n2", Subject: "Places", Content: "harbor", CreatedAt: 2, Color: ColorBlue}
		require.NoError(t, s.AddNote(ctx, first))
		require.NoError(t, s.AddNote(ctx, second))
		assert.NotZero(t, first.ID)
		assert.Greater(t, second.ID, first.ID)

		found, err := s.FindNotesBySubject(ctx, "PLOT")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "n1", found[0].NotesID)

		pink := ColorPink
		content := "bigger twist"
		require.NoError(t, s.UpdateNote(ctx, first.ID, NotePatch{Content: &content, Color: &pink}))

		err = s.UpdateNote(ctx, 12345, NotePatch{Content: &content})
		assert.ErrorIs(t, err, ErrNotFound)

		notes, err := s.ListNotes(ctx)
		require.NoError(t, err)
		require.Len(t, notes, 2)
		assert.Equal(t, "bigger twist", notes[0].Content)
		assert.Equal(t, ColorPink, notes[0].Color)
		assert.Equal(t, "Plot", notes[0].Subject)

		require.NoError(t, s.DeleteNote(ctx, first.ID))
		require.NoError(t, s.ClearNotes(ctx))
		notes, err = s.ListNotes(ctx)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})
}

func TestFindNotesBySubjectFoldsUnicode(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		note := &StickyNote{NotesID: "n1", Subject: "Ärger", CreatedAt: 1, Color: ColorYellow}
		require.NoError(t, s.AddNote(ctx, note))

		found, err := s.FindNotesBySubject(ctx, "ärger")
		require.NoError(t, err)
		require.Len(t, found, 1)

		subject := "Straße"
		require.NoError(t, s.UpdateNote(ctx, note.ID, NotePatch{Subject: &subject}))
		found, err = s.FindNotesBySubject(ctx, "  STRASSE ")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Straße", found[0].Subject)

		found, err = s.FindNotesBySubject(ctx, "ärger")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestPurgeOrphanImages(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		require.NoError(t, s.AddBook(ctx, sampleBook()))
		require.NoError(t, s.BulkAddImages(ctx, []*Image{
			{ImageID: "keep", CharID: 1, CreatedAt: 1},
			{ImageID: "orphan", CharID: 2, CreatedAt: 2},
		}))

		n, err := s.PurgeOrphanImages(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		imgs, err := s.ListImages(ctx)
		require.NoError(t, err)
		require.Len(t, imgs, 1)
		assert.Equal(t, "keep", imgs[0].ImageID)
	})
}

func TestRunInTxRollsBackAllWrites(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.RunInTx(ctx, func(ctx context.Context, tx Collections) error {
			if err := tx.PutBook(ctx, sampleBook()); err != nil {
				return err
			}
			if err := tx.AddImage(ctx, &Image{ImageID: "i1", CharID: 1}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		books, err := s.ListBooks(ctx)
		require.NoError(t, err)
		assert.Empty(t, books)
		imgs, err := s.ListImages(ctx)
		require.NoError(t, err)
		assert.Empty(t, imgs)
	})
}

func TestReopenPersists(t *testing.T) {
	for _, d := range Drivers() {
		t.Run(d, func(t *testing.T) {
			ctx := context.Background()
			dsn := filepath.Join(t.TempDir(), "storykeep.db")

			s, err := Open(ctx, Options{Driver: d, DSN: dsn})
			require.NoError(t, err)
			require.NoError(t, s.AddBook(ctx, sampleBook()))
			require.NoError(t, s.Close())

			s, err = Open(ctx, Options{Driver: d, DSN: dsn})
			require.NoError(t, err)
			defer s.Close()

			res, err := runMigrations(ctx, s.db, zap.NewNop())
			require.NoError(t, err)
			assert.Zero(t, res.MigrationsRun)

			got, err := s.GetBook(ctx, "b1")
			require.NoError(t, err)
			assert.Equal(t, "My Saga", got.Title)
		})
	}
}

func openRaw(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open(DefaultDriver, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLegacySchemaUpgrade(t *testing.T) {
	ctx := context.Background()
	db := openRaw(t)

	// Tables as the second schema version left them, without schema_versions.
	for _, stmt := range []string{
		`CREATE TABLE books (id TEXT PRIMARY KEY, title TEXT NOT NULL, characters TEXT)`,
		`CREATE TABLE images (image_id TEXT PRIMARY KEY, image_blob BLOB)`,
		`INSERT INTO books (id, title, characters) VALUES ('old', 'Old Saga', '[{"id":7,"name":"Kai"}]')`,
		`INSERT INTO books (id, title, characters) VALUES ('bare', 'Bare', NULL)`,
		`INSERT INTO images (image_id, image_blob) VALUES ('img', x'00')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	s, err := newSQLiteStore(ctx, db, zap.NewNop())
	require.NoError(t, err)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	found, err := s.FindBooksByTitle(ctx, "old saga")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "", found[0].Summary)
	assert.Equal(t, 0, found[0].Volume)
	require.Len(t, found[0].Characters, 1)
	assert.Equal(t, "Kai", found[0].Characters[0].Name)
	assert.Empty(t, found[0].Characters[0].Abilities)

	bare, err := s.GetBook(ctx, "bare")
	require.NoError(t, err)
	assert.NotNil(t, bare.Characters)
	assert.Empty(t, bare.Characters)

	imgs, err := s.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Zero(t, imgs[0].CharID)

	note := &StickyNote{NotesID: "n", Subject: "s", CreatedAt: 1, Color: ColorGreen}
	require.NoError(t, s.AddNote(ctx, note))
}

func TestNoteSubjectKeyBackfill(t *testing.T) {
	ctx := context.Background()
	db := openRaw(t)

	// Tables as the fifth schema version left them, without schema_versions.
	for _, stmt := range []string{
		`CREATE TABLE books (id TEXT PRIMARY KEY, title TEXT NOT NULL, characters TEXT, title_key TEXT,
			created_at INTEGER, summary TEXT DEFAULT '', volume INTEGER DEFAULT 0)`,
		`CREATE TABLE images (image_id TEXT PRIMARY KEY, image_blob BLOB, char_id INTEGER, created_at INTEGER)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY AUTOINCREMENT, notes_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '', content TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL, color TEXT)`,
		`INSERT INTO notes (notes_id, subject, content, created_at, color) VALUES ('n1', 'Ärger', 'old', 1, 'blue')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	s, err := newSQLiteStore(ctx, db, zap.NewNop())
	require.NoError(t, err)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	found, err := s.FindNotesBySubject(ctx, "ÄRGER")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "n1", found[0].NotesID)
	assert.Equal(t, ColorBlue, found[0].Color)
}

func TestSchemaTooNew(t *testing.T) {
	ctx := context.Background()
	db := openRaw(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO schema_versions (version, applied_at) VALUES (99, 0)`)
	require.NoError(t, err)

	_, err = newSQLiteStore(ctx, db, zap.NewNop())
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sqlite driver")
}

func TestEngine(t *testing.T) {
	s := newTestStore(t, DriverNcruces)
	info, err := s.Engine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DriverNcruces, info.Driver)
	assert.NotEmpty(t, info.SQLiteVersion)
	assert.NotEmpty(t, info.VecVersion)
}
