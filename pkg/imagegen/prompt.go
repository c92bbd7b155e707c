package imagegen

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

// DefaultKeywordLimit caps the descriptive words taken from character notes.
const DefaultKeywordLimit = 5

var english = stopwords.MustGet("en")

// EnhancePrompt builds the portrait prompt for c.
func EnhancePrompt(c store.Character, bookTitle string, keywordLimit int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Character portrait of %s", textnorm.Short(c.Name))
	if role := textnorm.Short(c.Role); role != "" {
		fmt.Fprintf(&b, ", %s", role)
	}
	if title := textnorm.Short(bookTitle); title != "" {
		fmt.Fprintf(&b, ", from the story %q", title)
	}
	b.WriteString(".")

	if arc := textnorm.Short(c.ArcStage); arc != "" {
		fmt.Fprintf(&b, " Story arc: %s.", arc)
	}
	if len(c.Abilities) > 0 {
		fmt.Fprintf(&b, " Abilities: %s.", textnorm.JoinAbilities(c.Abilities))
	}
	if kw := Keywords(c.Notes, keywordLimit); len(kw) > 0 {
		fmt.Fprintf(&b, " Traits: %s.", strings.Join(kw, ", "))
	}
	b.WriteString(" Detailed digital painting, expressive lighting, no text.")
	return b.String()
}

// Keywords returns up to limit distinct lowercase words from text, in order
// of first appearance, skipping English stopwords and words under 3 letters.
func Keywords(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 || seen[w] || english.Contains(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}
