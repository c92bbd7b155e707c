// Package transfer encodes the whole store as a portable JSON document and
// restores it.
//
// Document layout:
//
//	{
//	  "app": "story-organizer",
//	  "version": "2.0",
//	  "exportedAt": "2024-05-01T12:00:00.000Z",
//	  "books": [...],
//	  "images": [{"imageId", "charId", "createdAt", "base64"}],
//	  "notes": [...]            // only with Options.IncludeNotes, even when empty
//	}
//
// Version "1.0" files carry no images and are still accepted.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

const (
	App           = "story-organizer"
	Version       = "2.0"
	LegacyVersion = "1.0"

	// ISO-8601 with milliseconds, as browsers print it.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrInvalidFormat is returned by Import for anything that is not a
// well-formed export document.
var ErrInvalidFormat = errors.New("invalid file format")

// Document is the export file.
type Document struct {
	App        string              `json:"app"`
	Version    string              `json:"version"`
	ExportedAt string              `json:"exportedAt"`
	Books      []*store.Book       `json:"books"`
	Images     []ImageRecord       `json:"images"`
	Notes      []*store.StickyNote `json:"notes,omitzero"`
}

// ImageRecord is an Image with its blob as a data URL.
type ImageRecord struct {
	ImageID   string `json:"imageId"`
	CharID    int64  `json:"charId"`
	CreatedAt int64  `json:"createdAt"`
	Base64    string `json:"base64"`
}

// Source is what Export reads from.
type Source interface {
	ListBooks(ctx context.Context) ([]*store.Book, error)
	ListImages(ctx context.Context) ([]*store.Image, error)
	ListNotes(ctx context.Context) ([]*store.StickyNote, error)
}

// Target is what Import writes to.
type Target interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Collections) error) error
}

type Options struct {
	// IncludeNotes adds sticky notes to the export. Import always honours
	// a "notes" array when one is present.
	IncludeNotes bool
	Indent       bool
	Now          func() time.Time
	Logger       *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Build reads src into a Document.
func Build(ctx context.Context, src Source, opts Options) (*Document, error) {
	books, err := src.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("export books: %w", err)
	}
	imgs, err := src.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("export images: %w", err)
	}

	doc := &Document{
		App:        App,
		Version:    Version,
		ExportedAt: opts.now().UTC().Format(timeLayout),
		Books:      books,
		Images:     make([]ImageRecord, 0, len(imgs)),
	}
	if doc.Books == nil {
		doc.Books = []*store.Book{}
	}
	for _, img := range imgs {
		doc.Images = append(doc.Images, ImageRecord{
			ImageID:   img.ImageID,
			CharID:    img.CharID,
			CreatedAt: img.CreatedAt,
			Base64:    EncodeDataURL(img.Blob),
		})
	}

	if opts.IncludeNotes {
		notes, err := src.ListNotes(ctx)
		if err != nil {
			return nil, fmt.Errorf("export notes: %w", err)
		}
		if notes == nil {
			notes = []*store.StickyNote{}
		}
		doc.Notes = notes
	}
	return doc, nil
}

// Export writes the whole store to w.
func Export(ctx context.Context, src Source, w io.Writer, opts Options) error {
	doc, err := Build(ctx, src, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if opts.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	opts.logger().Info("Exported store",
		zap.Int("books", len(doc.Books)),
		zap.Int("images", len(doc.Images)),
		zap.Int("notes", len(doc.Notes)))
	return nil
}

// ExportFile writes the export to path, replacing any existing file atomically.
func ExportFile(ctx context.Context, src Source, path string, opts Options) error {
	var buf bytes.Buffer
	if err := Export(ctx, src, &buf, opts); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// Result is what Import wrote, in store order.
type Result struct {
	Version string
	Books   []*store.Book
	Images  []*store.Image
	Notes   []*store.StickyNote
	// NotesReplaced is set when the document carried a notes array and
	// the notes collection was replaced by it.
	NotesReplaced bool
}

type rawDocument struct {
	App        string          `json:"app"`
	Version    string          `json:"version"`
	ExportedAt string          `json:"exportedAt"`
	Books      json.RawMessage `json:"books"`
	Images     json.RawMessage `json:"images"`
	Notes      json.RawMessage `json:"notes"`
}

// Parse decodes and validates a document without touching any store.
func Parse(r io.Reader) (*Result, error) {
	var raw rawDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	switch raw.Version {
	case "", LegacyVersion, Version:
	default:
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidFormat, raw.Version)
	}
	if !isArray(raw.Books) {
		return nil, fmt.Errorf("%w: missing books array", ErrInvalidFormat)
	}

	res := &Result{Version: raw.Version}
	if err := json.Unmarshal(raw.Books, &res.Books); err != nil {
		return nil, fmt.Errorf("%w: books: %v", ErrInvalidFormat, err)
	}
	if err := checkBooks(res.Books); err != nil {
		return nil, err
	}

	if present(raw.Images) {
		var records []ImageRecord
		if err := json.Unmarshal(raw.Images, &records); err != nil {
			return nil, fmt.Errorf("%w: images: %v", ErrInvalidFormat, err)
		}
		for _, rec := range records {
			blob, err := DecodeDataURL(rec.Base64)
			if err != nil {
				return nil, fmt.Errorf("%w: image %s: %v", ErrInvalidFormat, rec.ImageID, err)
			}
			res.Images = append(res.Images, &store.Image{
				ImageID:   rec.ImageID,
				CharID:    rec.CharID,
				CreatedAt: rec.CreatedAt,
				Blob:      blob,
			})
		}
	}

	if present(raw.Notes) {
		if err := json.Unmarshal(raw.Notes, &res.Notes); err != nil {
			return nil, fmt.Errorf("%w: notes: %v", ErrInvalidFormat, err)
		}
		for i, n := range res.Notes {
			if n == nil {
				return nil, fmt.Errorf("%w: notes[%d] is null", ErrInvalidFormat, i)
			}
		}
		res.NotesReplaced = true
	}
	return res, nil
}

// Import replaces the store's books and images (and notes, when the
// document has them) with the contents of r. Everything happens in one
// transaction: on any error the store is left as it was.
func Import(ctx context.Context, dst Target, r io.Reader, opts Options) (*Result, error) {
	res, err := Parse(r)
	if err != nil {
		return nil, err
	}

	err = dst.RunInTx(ctx, func(ctx context.Context, tx store.Collections) error {
		if err := tx.ClearBooks(ctx); err != nil {
			return err
		}
		if err := tx.ClearImages(ctx); err != nil {
			return err
		}
		if err := tx.BulkAddBooks(ctx, res.Books); err != nil {
			return err
		}
		if err := tx.BulkAddImages(ctx, res.Images); err != nil {
			return err
		}
		if res.NotesReplaced {
			if err := tx.ClearNotes(ctx); err != nil {
				return err
			}
			if err := tx.BulkAddNotes(ctx, res.Notes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	opts.logger().Info("Imported store",
		zap.String("version", res.Version),
		zap.Int("books", len(res.Books)),
		zap.Int("images", len(res.Images)),
		zap.Bool("notesReplaced", res.NotesReplaced))
	return res, nil
}

// checkBooks holds imported books to the rules AddBook enforces: a non-blank
// title unique under case folding, a non-negative volume, and character ids
// unique within their book.
func checkBooks(books []*store.Book) error {
	titles := make(map[string]int, len(books))
	for i, b := range books {
		if b == nil {
			return fmt.Errorf("%w: books[%d] is null", ErrInvalidFormat, i)
		}
		key := textnorm.TitleKey(b.Title)
		if key == "" {
			return fmt.Errorf("%w: books[%d] has an empty title", ErrInvalidFormat, i)
		}
		if j, ok := titles[key]; ok {
			return fmt.Errorf("%w: books[%d] and books[%d] share the title %q", ErrInvalidFormat, j, i, b.Title)
		}
		titles[key] = i
		if b.Volume < 0 {
			return fmt.Errorf("%w: books[%d] has negative volume %d", ErrInvalidFormat, i, b.Volume)
		}

		if b.Characters == nil {
			b.Characters = []store.Character{}
		}
		ids := make(map[int64]struct{}, len(b.Characters))
		for _, c := range b.Characters {
			if _, dup := ids[c.ID]; dup {
				return fmt.Errorf("%w: books[%d] repeats character id %d", ErrInvalidFormat, i, c.ID)
			}
			ids[c.ID] = struct{}{}
		}
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
