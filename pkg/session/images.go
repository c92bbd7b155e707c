package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/imagegen"
)

// GenerateCharacterImage asks gen for a portrait of the character. The
// candidate is returned unsaved; nothing in the store or in memory changes,
// whether or not generation succeeds.
func (s *Session) GenerateCharacterImage(ctx context.Context, gen imagegen.Generator, bookID string, charID int64) (imagegen.Candidate, error) {
	book, c, err := s.character(bookID, charID)
	if err != nil {
		return imagegen.Candidate{}, err
	}

	prompt := imagegen.EnhancePrompt(*c, book.Title, s.opts.KeywordLimit)
	s.log.Debug("Generating character image", zap.Int64("character", charID), zap.String("prompt", prompt))

	cand, err := gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn("Image generation failed", zap.Int64("character", charID), zap.Error(err))
		return imagegen.Candidate{}, err
	}
	return cand, nil
}

// SaveCharacterImage stores blob as the character's newest image and points
// the lookup at it.
func (s *Session) SaveCharacterImage(ctx context.Context, charID int64, blob []byte) (store.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(blob) == 0 {
		return store.Image{}, ErrEmptyImage
	}
	if !s.hasCharacter(charID) {
		return store.Image{}, fmt.Errorf("%w: %d", ErrCharacterNotFound, charID)
	}

	img := &store.Image{
		ImageID:   s.opts.NewID(),
		CharID:    charID,
		CreatedAt: s.opts.Now().UnixMilli(),
		Blob:      append([]byte(nil), blob...),
	}
	if err := s.st.AddImage(ctx, img); err != nil {
		return store.Image{}, err
	}

	s.stateMu.Lock()
	s.images[charID] = img
	s.stateMu.Unlock()

	s.log.Debug("Character image saved",
		zap.Int64("character", charID),
		zap.String("image", img.ImageID),
		zap.Int("bytes", len(blob)))
	return copyImage(img), nil
}

// CharacterImage returns the character's current image, if any.
func (s *Session) CharacterImage(charID int64) (store.Image, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	img, ok := s.images[charID]
	if !ok {
		return store.Image{}, false
	}
	return copyImage(img), true
}

// PurgeOrphanImages deletes images whose character no longer exists and
// drops them from the lookup.
func (s *Session) PurgeOrphanImages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.st.PurgeOrphanImages(ctx)
	if err != nil {
		return 0, err
	}

	s.stateMu.Lock()
	live := make(map[int64]bool)
	for _, b := range s.books {
		for _, c := range b.Characters {
			live[c.ID] = true
		}
	}
	for id := range s.images {
		if !live[id] {
			delete(s.images, id)
		}
	}
	s.stateMu.Unlock()

	return n, nil
}

func (s *Session) hasCharacter(charID int64) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	for _, b := range s.books {
		if b.Character(charID) != nil {
			return true
		}
	}
	return false
}

func copyImage(img *store.Image) store.Image {
	out := *img
	out.Blob = append([]byte(nil), img.Blob...)
	return out
}
