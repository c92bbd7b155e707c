// Package response provides optimized JSON response builders
// that only serialize fields the browser list views use
package response

import (
	"encoding/json"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/pool"
)

// SlimBook is a book row in the shelf view. Characters are summarized.
type SlimBook struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Volume     int             `json:"volume,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
	Characters []SlimCharacter `json:"characters"`
}

// SlimCharacter contains only the fields the character cards use
type SlimCharacter struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	HasImage bool   `json:"hasImage"`
}

// SlimNote is a sticky note without its full content
type SlimNote struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
	Preview string `json:"preview"`
	Color   string `json:"color"`
}

// previewRunes caps SlimNote.Preview.
const previewRunes = 80

// FromBooks converts books for the shelf. hasImage reports whether a
// character has a stored picture and may be nil.
func FromBooks(books []*store.Book, hasImage func(charID int64) bool) []SlimBook {
	out := make([]SlimBook, 0, len(books))
	for _, b := range books {
		sb := SlimBook{
			ID:         b.ID,
			Title:      b.Title,
			Volume:     b.Volume,
			CreatedAt:  b.CreatedAt,
			Characters: make([]SlimCharacter, 0, len(b.Characters)),
		}
		for _, c := range b.Characters {
			sb.Characters = append(sb.Characters, SlimCharacter{
				ID:       c.ID,
				Name:     c.Name,
				Role:     c.Role,
				HasImage: hasImage != nil && hasImage(c.ID),
			})
		}
		out = append(out, sb)
	}
	return out
}

// FromNotes converts notes for the board view
func FromNotes(notes []*store.StickyNote) []SlimNote {
	out := make([]SlimNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, SlimNote{
			ID:      n.ID,
			Subject: n.Subject,
			Preview: preview(n.Content),
			Color:   string(n.Color),
		})
	}
	return out
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "…"
}

// Marshal encodes v without the trailing newline, reusing pooled buffers
func Marshal(v interface{}) (string, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	out := buf.Bytes()
	return string(out[:len(out)-1]), nil
}
