// Package mentions finds where a book's characters are named in free text.
// One Aho-Corasick automaton holds every name and alias; patterns and text
// go through the same canonicalizer so casing and punctuation do not matter.
package mentions

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/storykeep/internal/store"
)

// Match is one mention in the scanned text.
type Match struct {
	Start int // byte offset in the original text
	End   int
	Text  string
	// CharacterIDs lists every character the surface form can refer to.
	// More than one means the name is ambiguous within the book.
	CharacterIDs []int64
}

// Index is immutable once built and safe for concurrent Scan calls.
type Index struct {
	ac       *ahocorasick.Automaton
	patterns []string
	owners   [][]int64
}

// Build compiles an index over the characters' names.
func Build(chars []store.Character) (*Index, error) {
	ix := &Index{}
	byKey := make(map[string]int)

	for _, c := range chars {
		for _, surface := range surfaces(c.Name) {
			if idx, ok := byKey[surface]; ok {
				ix.owners[idx] = appendUnique(ix.owners[idx], c.ID)
				continue
			}
			byKey[surface] = len(ix.patterns)
			ix.patterns = append(ix.patterns, surface)
			ix.owners = append(ix.owners, []int64{c.ID})
		}
	}
	if len(ix.patterns) == 0 {
		return ix, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(ix.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build mention automaton: %w", err)
	}
	ix.ac = automaton
	return ix, nil
}

// surfaces returns the canonical full name plus short forms for multiword
// names: the last word, and the first word when it is at least 3 letters.
func surfaces(name string) []string {
	full := canonicalKey(name)
	if full == "" {
		return nil
	}
	out := []string{full}
	words := strings.Fields(full)
	if len(words) < 2 {
		return out
	}
	first, last := words[0], words[len(words)-1]
	if len([]rune(last)) >= 3 {
		out = appendUniqueString(out, last)
	}
	if len([]rune(first)) >= 3 {
		out = appendUniqueString(out, first)
	}
	return out
}

// Scan returns whole-word mentions in text, leftmost first. Where two
// candidate matches overlap the longer one wins.
func (ix *Index) Scan(text string) []Match {
	if ix == nil || ix.ac == nil || text == "" {
		return nil
	}

	canon := canonicalize(text)
	haystack := []byte(canon.text)
	found := ix.ac.FindAllOverlapping(haystack)

	sort.Slice(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})

	var out []Match
	covered := 0
	for _, m := range found {
		if m.Start < covered || !wholeWord(haystack, m.Start, m.End) {
			continue
		}
		start, end := canon.sourceSpan(text, m.Start, m.End)
		out = append(out, Match{
			Start:        start,
			End:          end,
			Text:         text[start:end],
			CharacterIDs: ix.owners[m.PatternID],
		})
		covered = m.End
	}
	return out
}

// Mentions reports whether text names the character with id charID.
func (ix *Index) Mentions(text string, charID int64) bool {
	for _, m := range ix.Scan(text) {
		for _, id := range m.CharacterIDs {
			if id == charID {
				return true
			}
		}
	}
	return false
}

// wholeWord rejects matches that start or end inside a word. Punctuation
// kept by the canonicalizer counts as a boundary, so "Kai." and "Kai's"
// both mention Kai.
func wholeWord(haystack []byte, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRune(haystack[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(haystack) {
		if r, _ := utf8.DecodeRune(haystack[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func appendUniqueString(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
