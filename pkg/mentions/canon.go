package mentions

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// keepInName reports punctuation that stays inside a name
// ("O'Brien", "Jean-Luc", "Monkey D. Luffy").
func keepInName(r rune) bool {
	switch r {
	case '\'', '-', '.', '_', '&', '·':
		return true
	}
	return false
}

func foldRune(r rune) rune {
	r = unicode.ToLower(r)
	switch r {
	case '’', '‘':
		return '\''
	case '–', '—':
		return '-'
	}
	return r
}

// canonical is text lowered, with every run of other characters replaced
// by one space. offsets[i] is the byte offset in the source of canonical byte i.
type canonical struct {
	text    string
	offsets []int
}

func canonicalize(src string) canonical {
	var out strings.Builder
	out.Grow(len(src))
	offsets := make([]int, 0, len(src))

	pendingSpace := -1
	for pos, ch := range src {
		c := foldRune(ch)
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && !keepInName(c) {
			if out.Len() > 0 && pendingSpace < 0 {
				pendingSpace = pos
			}
			continue
		}
		if pendingSpace >= 0 {
			out.WriteByte(' ')
			offsets = append(offsets, pendingSpace)
			pendingSpace = -1
		}
		n, _ := out.WriteRune(c)
		for i := 0; i < n; i++ {
			offsets = append(offsets, pos)
		}
	}
	return canonical{text: out.String(), offsets: offsets}
}

// sourceSpan maps the canonical byte range [start, end) back to src.
// Folding can change a rune's width, so the end comes from the last
// matched source rune.
func (c canonical) sourceSpan(src string, start, end int) (int, int) {
	last := c.offsets[end-1]
	_, size := utf8.DecodeRuneInString(src[last:])
	return c.offsets[start], last + size
}

func canonicalKey(s string) string {
	return canonicalize(s).text
}
