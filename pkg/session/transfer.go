package session

import (
	"context"
	"io"

	"github.com/kittclouds/storykeep/pkg/transfer"
)

func (s *Session) transferOptions() transfer.Options {
	return transfer.Options{
		IncludeNotes: s.opts.IncludeNotesInExport,
		Indent:       true,
		Now:          s.opts.Now,
		Logger:       s.log,
	}
}

// Export writes the store to w.
func (s *Session) Export(ctx context.Context, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transfer.Export(ctx, s.st, w, s.transferOptions())
}

// ExportFile writes the store to path, replacing it atomically.
func (s *Session) ExportFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transfer.ExportFile(ctx, s.st, path, s.transferOptions())
}

// Snapshot writes the whole store to w, notes included whatever the export
// setting. Restoring it with Import rebuilds the same store.
func (s *Session) Snapshot(ctx context.Context, w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := s.transferOptions()
	opts.IncludeNotes = true
	opts.Indent = false
	return transfer.Export(ctx, s.st, w, opts)
}

// Import replaces the store's contents with the document in r, then swaps
// memory wholesale and returns the view to the top level. On error nothing
// changes.
func (s *Session) Import(ctx context.Context, r io.Reader) (*transfer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := transfer.Import(ctx, s.st, r, s.transferOptions())
	if err != nil {
		return nil, err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.replaceBooks(res.Books)
	s.replaceImages(res.Images)
	if res.NotesReplaced {
		// BulkAddNotes wrote store-assigned ids back into res.Notes.
		s.notes.Hydrate(res.Notes)
	}
	s.view = ViewState{}
	s.loaded = true
	return res, nil
}
