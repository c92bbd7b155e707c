package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// Schema versions:
// v1: books (id, title, characters)
// v2: images (image_id, image_blob), no char_id yet
// v3: books.title_key for case-insensitive title lookups
// v4: images.char_id + images.created_at, books.created_at
// v5: notes table, books.summary + books.volume
// v6: notes.subject_key for case-insensitive subject lookups
const CurrentSchemaVersion = 6

// ErrSchemaTooNew is returned when the database was written by a newer build.
var ErrSchemaTooNew = errors.New("store: database schema is newer than this build supports")

// migration upgrades the schema from Version-1 to Version.
// Every step is additive so rows written by older versions keep loading.
type migration struct {
	Version     int
	Description string
	Apply       func(ctx context.Context, tx *sqlx.Tx) error
}

var migrations = []migration{
	{1, "books table", func(ctx context.Context, tx *sqlx.Tx) error {
		return execAll(ctx, tx,
			`CREATE TABLE IF NOT EXISTS books (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				characters TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_books_title ON books(title)`,
		)
	}},
	{2, "images table", func(ctx context.Context, tx *sqlx.Tx) error {
		return execAll(ctx, tx,
			`CREATE TABLE IF NOT EXISTS images (
				image_id TEXT PRIMARY KEY,
				image_blob BLOB
			)`,
		)
	}},
	{3, "case-folded title key", func(ctx context.Context, tx *sqlx.Tx) error {
		if err := addColumn(ctx, tx, "books", "title_key", "TEXT"); err != nil {
			return err
		}
		if err := backfillKeys(ctx, tx, "books", "title", "title_key"); err != nil {
			return err
		}
		return execAll(ctx, tx, `CREATE INDEX IF NOT EXISTS idx_books_title_key ON books(title_key)`)
	}},
	{4, "image owner and timestamps", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, c := range []struct{ table, column, def string }{
			{"images", "char_id", "INTEGER"},
			{"images", "created_at", "INTEGER"},
			{"books", "created_at", "INTEGER"},
		} {
			if err := addColumn(ctx, tx, c.table, c.column, c.def); err != nil {
				return err
			}
		}
		return execAll(ctx, tx, `CREATE INDEX IF NOT EXISTS idx_images_char ON images(char_id)`)
	}},
	{5, "notes table, book summary and volume", func(ctx context.Context, tx *sqlx.Tx) error {
		if err := addColumn(ctx, tx, "books", "summary", "TEXT DEFAULT ''"); err != nil {
			return err
		}
		if err := addColumn(ctx, tx, "books", "volume", "INTEGER DEFAULT 0"); err != nil {
			return err
		}
		return execAll(ctx, tx,
			`CREATE TABLE IF NOT EXISTS notes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				notes_id TEXT NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				color TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notes_subject ON notes(subject COLLATE NOCASE)`,
		)
	}},
	{6, "case-folded note subject key", func(ctx context.Context, tx *sqlx.Tx) error {
		if err := addColumn(ctx, tx, "notes", "subject_key", "TEXT"); err != nil {
			return err
		}
		if err := backfillKeys(ctx, tx, "notes", "subject", "subject_key"); err != nil {
			return err
		}
		return execAll(ctx, tx,
			`DROP INDEX IF EXISTS idx_notes_subject`,
			`CREATE INDEX IF NOT EXISTS idx_notes_subject_key ON notes(subject_key)`,
		)
	}},
}

// MigrationResult reports what runMigrations did.
type MigrationResult struct {
	FromVersion   int
	ToVersion     int
	MigrationsRun int
	Duration      time.Duration
}

// runMigrations brings db up to CurrentSchemaVersion. Each version runs in
// its own transaction and is recorded in schema_versions.
func runMigrations(ctx context.Context, db *sqlx.DB, log *zap.Logger) (MigrationResult, error) {
	start := time.Now()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return MigrationResult{}, fmt.Errorf("create schema_versions: %w", err)
	}

	from, err := schemaVersion(ctx, db)
	if err != nil {
		return MigrationResult{}, err
	}
	if from > CurrentSchemaVersion {
		return MigrationResult{}, fmt.Errorf("%w: have v%d, support v%d", ErrSchemaTooNew, from, CurrentSchemaVersion)
	}

	result := MigrationResult{FromVersion: from, ToVersion: from}
	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		log.Debug("Applying schema migration", zap.Int("version", m.Version), zap.String("description", m.Description))

		err := runInTx(ctx, db, func(ctx context.Context, tx *sqlx.Tx) error {
			if err := m.Apply(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO schema_versions (version, applied_at) VALUES (?, ?)`,
				m.Version, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return result, fmt.Errorf("migrate to v%d (%s): %w", m.Version, m.Description, err)
		}
		result.ToVersion = m.Version
		result.MigrationsRun++
	}
	result.Duration = time.Since(start)

	if result.MigrationsRun > 0 {
		log.Info("Schema migrations complete",
			zap.Int("from", result.FromVersion),
			zap.Int("to", result.ToVersion),
			zap.Int("applied", result.MigrationsRun),
			zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// schemaVersion returns the recorded version, or infers it from table
// structure for databases created before versions were recorded.
func schemaVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var version sql.NullInt64
	if err := sqlx.GetContext(ctx, q, &version, `SELECT MAX(version) FROM schema_versions`); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if version.Valid {
		return int(version.Int64), nil
	}
	return inferSchemaVersion(ctx, q)
}

func inferSchemaVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	checks := []struct {
		version int
		present func() (bool, error)
	}{
		{6, func() (bool, error) { return columnExists(ctx, q, "notes", "subject_key") }},
		{5, func() (bool, error) { return tableExists(ctx, q, "notes") }},
		{4, func() (bool, error) { return columnExists(ctx, q, "images", "char_id") }},
		{3, func() (bool, error) { return columnExists(ctx, q, "books", "title_key") }},
		{2, func() (bool, error) { return tableExists(ctx, q, "images") }},
		{1, func() (bool, error) { return tableExists(ctx, q, "books") }},
	}
	for _, c := range checks {
		ok, err := c.present()
		if err != nil {
			return 0, err
		}
		if ok {
			return c.version, nil
		}
	}
	return 0, nil
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, table string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

// columnExists checks a column using PRAGMA table_info.
func columnExists(ctx context.Context, q sqlx.QueryerContext, table, column string) (bool, error) {
	rows, err := q.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumn(ctx context.Context, tx *sqlx.Tx, table, column, def string) error {
	ok, err := columnExists(ctx, tx, table, column)
	if err != nil || ok {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, def)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// backfillKeys fills keyCol from textnorm.TitleKey(srcCol) for rows written
// before the key column existed. Folding happens in Go because SQLite's
// NOCASE only folds ASCII.
func backfillKeys(ctx context.Context, tx *sqlx.Tx, table, srcCol, keyCol string) error {
	var rows []struct {
		RowID int64  `db:"rowid"`
		Value string `db:"value"`
	}
	query := fmt.Sprintf(`SELECT rowid, %s AS value FROM %s WHERE %s IS NULL`, srcCol, table, keyCol)
	if err := sqlx.SelectContext(ctx, tx, &rows, query); err != nil {
		return fmt.Errorf("select %s.%s: %w", table, srcCol, err)
	}
	update := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE rowid = ?`, table, keyCol)
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, update, textnorm.TitleKey(r.Value), r.RowID); err != nil {
			return fmt.Errorf("backfill %s.%s row %d: %w", table, keyCol, r.RowID, err)
		}
	}
	return nil
}

func execAll(ctx context.Context, tx *sqlx.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
