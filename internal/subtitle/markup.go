package subtitle

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies a markup delimiter
type TokenKind string

const (
	TokenOpen        TokenKind = "open"
	TokenClose       TokenKind = "close"
	TokenSelfClosing TokenKind = "self-closing"
)

// Edge records which side of a word a token touched in the source text
type Edge int8

const (
	EdgeNone Edge = iota
	EdgeWordStart
	EdgeWordEnd
)

// FormatToken is one markup delimiter removed from an entry.
// Anchor is a rune offset into the plain text.
type FormatToken struct {
	Kind   TokenKind `json:"kind"`
	Raw    string    `json:"raw"`
	Name   string    `json:"name,omitempty"`
	Anchor int       `json:"anchor"`
	Edge   Edge      `json:"edge,omitempty"`
}

// FormatMap holds the tokens of one entry ordered by anchor, plus the rune
// length of the plain text they were extracted from
type FormatMap struct {
	Tokens  []FormatToken `json:"tokens"`
	TextLen int           `json:"text_len"`
}

// Empty reports whether the entry carried no markup
func (m FormatMap) Empty() bool { return len(m.Tokens) == 0 }

var markupRe = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9]*(?:\s[^<>]*)?/?>|\{\\[^{}]*\}`)

var voidTags = map[string]bool{"br": true, "hr": true, "img": true, "wbr": true}

// Extract strips markup from text and records where each delimiter sat.
// Unbalanced tags never fail extraction: unmatched closing tags and unclosed
// opening tags are moved to the end of the text.
func Extract(text string) (string, FormatMap, error) {
	if err := validateText(text); err != nil {
		return "", FormatMap{}, err
	}

	var plain strings.Builder
	var tokens []FormatToken
	var stack []int
	var moved []bool
	offset := 0
	last := 0

	for _, loc := range markupRe.FindAllStringIndex(text, -1) {
		chunk := text[last:loc[0]]
		plain.WriteString(chunk)
		offset += utf8.RuneCountInString(chunk)
		last = loc[1]

		tok := classifyToken(text[loc[0]:loc[1]])
		tok.Anchor = offset
		tokens = append(tokens, tok)
		moved = append(moved, false)
		idx := len(tokens) - 1

		switch tok.Kind {
		case TokenOpen:
			stack = append(stack, idx)
		case TokenClose:
			match := -1
			for s := len(stack) - 1; s >= 0; s-- {
				if tokens[stack[s]].Name == tok.Name {
					match = s
					break
				}
			}
			if match < 0 {
				moved[idx] = true
				continue
			}
			// Opens left above the match were never closed
			for _, open := range stack[match+1:] {
				moved[open] = true
			}
			stack = stack[:match]
		}
	}
	tail := text[last:]
	plain.WriteString(tail)
	offset += utf8.RuneCountInString(tail)

	for _, open := range stack {
		moved[open] = true
	}

	out := plain.String()
	runes := []rune(out)
	for i := range tokens {
		if moved[i] {
			tokens[i].Anchor = offset
		}
		tokens[i].Edge = edgeAt(runes, tokens[i].Anchor)
	}

	order := make([]int, len(tokens))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := tokens[order[a]], tokens[order[b]]
		if ta.Anchor != tb.Anchor {
			return ta.Anchor < tb.Anchor
		}
		return !moved[order[a]] && moved[order[b]]
	})
	sorted := make([]FormatToken, len(tokens))
	for i, j := range order {
		sorted[i] = tokens[j]
	}

	return out, FormatMap{Tokens: sorted, TextLen: offset}, nil
}

// Restore re-inserts every token of m into translated. Anchors are scaled to
// the new text length and snapped to the nearest matching word boundary, then
// clamped so no token is lost or reordered.
func Restore(translated string, m FormatMap) (string, error) {
	if err := validateText(translated); err != nil {
		return "", err
	}
	if len(m.Tokens) == 0 {
		return translated, nil
	}

	runes := []rune(translated)
	n := len(runes)
	starts, ends := wordBoundaries(runes)

	var sb strings.Builder
	cursor := 0
	prev := 0
	for _, tok := range m.Tokens {
		pos := reanchor(tok, m.TextLen, n, starts, ends)
		if pos < prev {
			pos = prev
		}
		if pos > n {
			pos = n
		}
		prev = pos

		sb.WriteString(string(runes[cursor:pos]))
		cursor = pos
		sb.WriteString(tok.Raw)
	}
	sb.WriteString(string(runes[cursor:]))
	return sb.String(), nil
}

func reanchor(tok FormatToken, oldLen, newLen int, starts, ends []int) int {
	switch {
	case tok.Anchor <= 0:
		return 0
	case tok.Anchor >= oldLen:
		return newLen
	case oldLen == newLen:
		return tok.Anchor
	}

	scaled := int(math.Round(float64(tok.Anchor) * float64(newLen) / float64(oldLen)))
	switch tok.Edge {
	case EdgeWordStart:
		return nearest(scaled, starts)
	case EdgeWordEnd:
		return nearest(scaled, ends)
	}
	return scaled
}

// nearest returns the candidate closest to pos, or pos when there are none.
// Ties go to the earlier candidate.
func nearest(pos int, candidates []int) int {
	if len(candidates) == 0 {
		return pos
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs(c-pos) < abs(best-pos) {
			best = c
		}
	}
	return best
}

// wordBoundaries lists interior word start and word end offsets
func wordBoundaries(runes []rune) (starts, ends []int) {
	for i := 1; i < len(runes); i++ {
		switch edgeAt(runes, i) {
		case EdgeWordStart:
			starts = append(starts, i)
		case EdgeWordEnd:
			ends = append(ends, i)
		}
	}
	return starts, ends
}

func edgeAt(runes []rune, i int) Edge {
	if i <= 0 || i >= len(runes) {
		return EdgeNone
	}
	before, after := isWordRune(runes[i-1]), isWordRune(runes[i])
	switch {
	case !before && after:
		return EdgeWordStart
	case before && !after:
		return EdgeWordEnd
	}
	return EdgeNone
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func classifyToken(raw string) FormatToken {
	if strings.HasPrefix(raw, "{") {
		return FormatToken{Kind: TokenSelfClosing, Raw: raw}
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	kind := TokenOpen
	switch {
	case strings.HasPrefix(inner, "/"):
		kind = TokenClose
		inner = inner[1:]
	case strings.HasSuffix(inner, "/"):
		kind = TokenSelfClosing
		inner = strings.TrimSpace(inner[:len(inner)-1])
	}
	name := inner
	if i := strings.IndexFunc(inner, unicode.IsSpace); i >= 0 {
		name = inner[:i]
	}
	name = strings.ToLower(name)
	if kind == TokenOpen && voidTags[name] {
		kind = TokenSelfClosing
	}
	return FormatToken{Kind: kind, Raw: raw, Name: name}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
