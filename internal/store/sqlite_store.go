package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// Options configures Open.
type Options struct {
	// Driver is DriverNcruces (default) or DriverModernc.
	Driver string
	// DSN is a file path or ":memory:" (default).
	DSN    string
	Logger *zap.Logger
}

// SQLiteStore is the SQLite-backed data store.
// The pool is capped at one connection, so calls are serialized by
// database/sql. A function passed to RunInTx must use the Collections it
// receives, not the store, or it will wait on itself.
type SQLiteStore struct {
	*queries
	db  *sqlx.DB
	log *zap.Logger
}

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	return Open(context.Background(), Options{DSN: dsn})
}

// Open connects to the database and upgrades its schema to CurrentSchemaVersion.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DefaultDriver
	}
	if !DriverSupported(driver) {
		return nil, fmt.Errorf("unsupported sqlite driver %q (have %s)", driver, strings.Join(Drivers(), ", "))
	}
	dsn := opts.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s, err := newSQLiteStore(ctx, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("SQLite store opened", zap.String("driver", driver), zap.String("dsn", dsn))
	return s, nil
}

func newSQLiteStore(ctx context.Context, db *sqlx.DB, log *zap.Logger) (*SQLiteStore, error) {
	if _, err := runMigrations(ctx, db, log); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLiteStore{queries: &queries{q: db}, db: db, log: log}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// RunInTx runs fn inside one transaction over the same primitives.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Collections) error) error {
	return runInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(ctx, &queries{q: tx})
	})
}

// AddBook inserts a new book after checking that no other book carries a
// case-insensitively equal title. The check and the insert share one
// transaction; another process writing the same file can still race the
// check, so this is a precondition, not a constraint.
func (s *SQLiteStore) AddBook(ctx context.Context, book *Book) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx Collections) error {
		return tx.AddBook(ctx, book)
	})
}

// PurgeOrphanImages removes images whose charId belongs to no character.
func (s *SQLiteStore) PurgeOrphanImages(ctx context.Context) (int64, error) {
	var purged int64
	err := runInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		books, err := (&queries{q: tx}).ListBooks(ctx)
		if err != nil {
			return err
		}
		var ids []int64
		for _, b := range books {
			for _, c := range b.Characters {
				ids = append(ids, c.ID)
			}
		}

		var res sql.Result
		if len(ids) == 0 {
			res, err = tx.ExecContext(ctx, `DELETE FROM images`)
		} else {
			query, args, inErr := sqlx.In(`DELETE FROM images WHERE char_id IS NULL OR char_id NOT IN (?)`, ids)
			if inErr != nil {
				return inErr
			}
			res, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		}
		if err != nil {
			return fmt.Errorf("purge orphan images: %w", err)
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info("Purged orphan images", zap.Int64("count", purged))
	}
	return purged, nil
}

// =============================================================================
// Shared primitives (bound to *sqlx.DB or *sqlx.Tx)
// =============================================================================

type queries struct {
	q sqlx.ExtContext
}

// =============================================================================
// Book CRUD
// =============================================================================

const bookColumns = `id, title, summary, volume, characters, created_at`

// bookRow mirrors the books table. Columns added by later schema versions
// are nullable so rows written by older versions still scan.
type bookRow struct {
	ID         string         `db:"id"`
	Title      string         `db:"title"`
	Summary    sql.NullString `db:"summary"`
	Volume     sql.NullInt64  `db:"volume"`
	Characters sql.NullString `db:"characters"`
	CreatedAt  sql.NullInt64  `db:"created_at"`
}

func (r bookRow) toBook() (*Book, error) {
	b := &Book{
		ID:        r.ID,
		Title:     r.Title,
		Summary:   r.Summary.String,
		Volume:    int(r.Volume.Int64),
		CreatedAt: r.CreatedAt.Int64,
	}
	if r.Characters.Valid && r.Characters.String != "" {
		if err := json.Unmarshal([]byte(r.Characters.String), &b.Characters); err != nil {
			return nil, fmt.Errorf("decode characters of book %s: %w", r.ID, err)
		}
	}
	if b.Characters == nil {
		b.Characters = []Character{}
	}
	return b, nil
}

func encodeCharacters(chars []Character) (string, error) {
	if chars == nil {
		chars = []Character{}
	}
	data, err := json.Marshal(chars)
	if err != nil {
		return "", fmt.Errorf("encode characters: %w", err)
	}
	return string(data), nil
}

func bookArgs(book *Book) ([]any, error) {
	chars, err := encodeCharacters(book.Characters)
	if err != nil {
		return nil, err
	}
	return []any{
		book.ID, book.Title, textnorm.TitleKey(book.Title), book.Summary, book.Volume, chars, book.CreatedAt,
	}, nil
}

func (q *queries) AddBook(ctx context.Context, book *Book) error {
	existing, err := q.FindBooksByTitle(ctx, book.Title)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateTitle, book.Title)
	}
	return q.insertBook(ctx, book)
}

func (q *queries) insertBook(ctx context.Context, book *Book) error {
	args, err := bookArgs(book)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO books (id, title, title_key, summary, volume, characters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("insert book %s: %w", book.ID, err)
	}
	return nil
}

// PutBook inserts or replaces a book by id.
func (q *queries) PutBook(ctx context.Context, book *Book) error {
	args, err := bookArgs(book)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO books (id, title, title_key, summary, volume, characters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			title_key = excluded.title_key,
			summary = excluded.summary,
			volume = excluded.volume,
			characters = excluded.characters,
			created_at = excluded.created_at
	`, args...)
	if err != nil {
		return fmt.Errorf("put book %s: %w", book.ID, err)
	}
	return nil
}

// UpdateBook changes only the fields set in patch.
func (q *queries) UpdateBook(ctx context.Context, id string, patch BookPatch) error {
	var sets []string
	var args []any
	if patch.Title != nil {
		sets = append(sets, "title = ?", "title_key = ?")
		args = append(args, *patch.Title, textnorm.TitleKey(*patch.Title))
	}
	if patch.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *patch.Summary)
	}
	if patch.Volume != nil {
		sets = append(sets, "volume = ?")
		args = append(args, *patch.Volume)
	}
	if patch.SetCharacters || patch.Characters != nil {
		chars, err := encodeCharacters(patch.Characters)
		if err != nil {
			return err
		}
		sets = append(sets, "characters = ?")
		args = append(args, chars)
	}
	if len(sets) == 0 {
		_, err := q.GetBook(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := q.q.ExecContext(ctx, "UPDATE books SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update book %s: %w", id, err)
	}
	return expectAffected(res, "book", id)
}

func (q *queries) DeleteBook(ctx context.Context, id string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete book %s: %w", id, err)
	}
	return nil
}

func (q *queries) ClearBooks(ctx context.Context) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM books`); err != nil {
		return fmt.Errorf("clear books: %w", err)
	}
	return nil
}

func (q *queries) GetBook(ctx context.Context, id string) (*Book, error) {
	var row bookRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return row.toBook()
}

// ListBooks returns every book, oldest first. Books stored before
// timestamps existed sort ahead of the rest in insertion order.
func (q *queries) ListBooks(ctx context.Context) ([]*Book, error) {
	return q.selectBooks(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at, rowid`)
}

// FindBooksByTitle returns books whose title equals title, ignoring case.
func (q *queries) FindBooksByTitle(ctx context.Context, title string) ([]*Book, error) {
	return q.selectBooks(ctx,
		`SELECT `+bookColumns+` FROM books WHERE title_key = ? ORDER BY created_at, rowid`,
		textnorm.TitleKey(title))
}

func (q *queries) selectBooks(ctx context.Context, query string, args ...any) ([]*Book, error) {
	var rows []bookRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	books := make([]*Book, 0, len(rows))
	for _, r := range rows {
		b, err := r.toBook()
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, nil
}

// BulkAddBooks inserts books as given, without the title pre-check.
func (q *queries) BulkAddBooks(ctx context.Context, books []*Book) error {
	for _, b := range books {
		if err := q.insertBook(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Image CRUD
// =============================================================================

const imageColumns = `image_id, char_id, created_at, image_blob`

type imageRow struct {
	ImageID   string        `db:"image_id"`
	CharID    sql.NullInt64 `db:"char_id"`
	CreatedAt sql.NullInt64 `db:"created_at"`
	Blob      []byte        `db:"image_blob"`
}

func (r imageRow) toImage() *Image {
	return &Image{
		ImageID:   r.ImageID,
		CharID:    r.CharID.Int64,
		CreatedAt: r.CreatedAt.Int64,
		Blob:      r.Blob,
	}
}

func (q *queries) AddImage(ctx context.Context, img *Image) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO images (image_id, char_id, created_at, image_blob)
		VALUES (?, ?, ?, ?)
	`, img.ImageID, img.CharID, img.CreatedAt, img.Blob)
	if err != nil {
		return fmt.Errorf("insert image %s: %w", img.ImageID, err)
	}
	return nil
}

func (q *queries) PutImage(ctx context.Context, img *Image) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO images (image_id, char_id, created_at, image_blob)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			char_id = excluded.char_id,
			created_at = excluded.created_at,
			image_blob = excluded.image_blob
	`, img.ImageID, img.CharID, img.CreatedAt, img.Blob)
	if err != nil {
		return fmt.Errorf("put image %s: %w", img.ImageID, err)
	}
	return nil
}

func (q *queries) DeleteImage(ctx context.Context, imageID string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM images WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete image %s: %w", imageID, err)
	}
	return nil
}

func (q *queries) ClearImages(ctx context.Context) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}
	return nil
}

func (q *queries) ListImages(ctx context.Context) ([]*Image, error) {
	return q.selectImages(ctx, `SELECT `+imageColumns+` FROM images ORDER BY created_at, rowid`)
}

// ListImagesByCharIDs returns images whose charId is any of charIDs.
func (q *queries) ListImagesByCharIDs(ctx context.Context, charIDs ...int64) ([]*Image, error) {
	if len(charIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+imageColumns+` FROM images WHERE char_id IN (?) ORDER BY created_at, rowid`, charIDs)
	if err != nil {
		return nil, err
	}
	return q.selectImages(ctx, q.q.Rebind(query), args...)
}

func (q *queries) DeleteImagesByCharIDs(ctx context.Context, charIDs ...int64) (int64, error) {
	if len(charIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM images WHERE char_id IN (?)`, charIDs)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, q.q.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete images by character: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) selectImages(ctx context.Context, query string, args ...any) ([]*Image, error) {
	var rows []imageRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select images: %w", err)
	}
	imgs := make([]*Image, 0, len(rows))
	for _, r := range rows {
		imgs = append(imgs, r.toImage())
	}
	return imgs, nil
}

func (q *queries) BulkAddImages(ctx context.Context, imgs []*Image) error {
	for _, img := range imgs {
		if err := q.AddImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Sticky note CRUD
// =============================================================================

const noteColumns = `id, notes_id, subject, content, created_at, color`

type noteRow struct {
	ID        int64          `db:"id"`
	NotesID   string         `db:"notes_id"`
	Subject   string         `db:"subject"`
	Content   string         `db:"content"`
	CreatedAt int64          `db:"created_at"`
	Color     sql.NullString `db:"color"`
}

func (r noteRow) toNote() *StickyNote {
	return &StickyNote{
		NotesID:   r.NotesID,
		ID:        r.ID,
		Subject:   r.Subject,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Color:     NoteColor(r.Color.String),
	}
}

// AddNote inserts a note. When note.ID is zero the store assigns one and
// writes it back into note.
func (q *queries) AddNote(ctx context.Context, note *StickyNote) error {
	if note.ID != 0 {
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO notes (id, notes_id, subject, subject_key, content, created_at, color)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, note.ID, note.NotesID, note.Subject, textnorm.TitleKey(note.Subject), note.Content, note.CreatedAt, string(note.Color))
		if err != nil {
			return fmt.Errorf("insert note %d: %w", note.ID, err)
		}
		return nil
	}

	res, err := q.q.ExecContext(ctx, `
		INSERT INTO notes (notes_id, subject, subject_key, content, created_at, color)
		VALUES (?, ?, ?, ?, ?, ?)
	`, note.NotesID, note.Subject, textnorm.TitleKey(note.Subject), note.Content, note.CreatedAt, string(note.Color))
	if err != nil {
		return fmt.Errorf("insert note %s: %w", note.NotesID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for note %s: %w", note.NotesID, err)
	}
	note.ID = id
	return nil
}

func (q *queries) PutNote(ctx context.Context, note *StickyNote) error {
	if note.ID == 0 {
		return q.AddNote(ctx, note)
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO notes (id, notes_id, subject, subject_key, content, created_at, color)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notes_id = excluded.notes_id,
			subject = excluded.subject,
			subject_key = excluded.subject_key,
			content = excluded.content,
			created_at = excluded.created_at,
			color = excluded.color
	`, note.ID, note.NotesID, note.Subject, textnorm.TitleKey(note.Subject), note.Content, note.CreatedAt, string(note.Color))
	if err != nil {
		return fmt.Errorf("put note %d: %w", note.ID, err)
	}
	return nil
}

func (q *queries) UpdateNote(ctx context.Context, id int64, patch NotePatch) error {
	var sets []string
	var args []any
	if patch.Subject != nil {
		sets = append(sets, "subject = ?", "subject_key = ?")
		args = append(args, *patch.Subject, textnorm.TitleKey(*patch.Subject))
	}
	if patch.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *patch.Content)
	}
	if patch.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, string(*patch.Color))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := q.q.ExecContext(ctx, "UPDATE notes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update note %d: %w", id, err)
	}
	return expectAffected(res, "note", fmt.Sprint(id))
}

func (q *queries) DeleteNote(ctx context.Context, id int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note %d: %w", id, err)
	}
	return nil
}

func (q *queries) ClearNotes(ctx context.Context) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return fmt.Errorf("clear notes: %w", err)
	}
	return nil
}

func (q *queries) ListNotes(ctx context.Context) ([]*StickyNote, error) {
	return q.selectNotes(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY created_at, id`)
}

// FindNotesBySubject matches subject under Unicode case folding.
func (q *queries) FindNotesBySubject(ctx context.Context, subject string) ([]*StickyNote, error) {
	return q.selectNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE subject_key = ? ORDER BY created_at, id`,
		textnorm.TitleKey(subject))
}

func (q *queries) selectNotes(ctx context.Context, query string, args ...any) ([]*StickyNote, error) {
	var rows []noteRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select notes: %w", err)
	}
	notes := make([]*StickyNote, 0, len(rows))
	for _, r := range rows {
		notes = append(notes, r.toNote())
	}
	return notes, nil
}

func (q *queries) BulkAddNotes(ctx context.Context, notes []*StickyNote) error {
	for _, n := range notes {
		if err := q.AddNote(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
