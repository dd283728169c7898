package subtitle

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Format identifies a subtitle container format
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// ErrInvalidEncoding is returned when input is not decodable text
var ErrInvalidEncoding = errors.New("subtitle: input is not valid text")

// ParseError reports a structural problem in a subtitle document
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("subtitle parse error at line %d: %s", e.Line, e.Reason)
	}
	return "subtitle parse error: " + e.Reason
}

// Entry is one timed subtitle cue. Entries are immutable once parsed.
type Entry struct {
	ID            string        `json:"id"`
	SequenceIndex int           `json:"index"`
	Start         time.Duration `json:"start"`
	End           time.Duration `json:"end"`
	Text          string        `json:"text"`
	Settings      string        `json:"settings,omitempty"` // WebVTT cue settings
}

// Document is an ordered list of entries
type Document struct {
	Format  Format  `json:"format"`
	Entries []Entry `json:"entries"`
}

// WithTexts returns a copy of the document with entry texts replaced by
// texts[i]. Missing positions keep their original text.
func (d *Document) WithTexts(texts []string) *Document {
	out := &Document{Format: d.Format, Entries: make([]Entry, len(d.Entries))}
	copy(out.Entries, d.Entries)
	for i := range out.Entries {
		if i < len(texts) {
			out.Entries[i].Text = texts[i]
		}
	}
	return out
}

// Parse decodes raw bytes and parses them as SRT or WebVTT depending on the
// file name extension and content
func Parse(name string, data []byte) (*Document, error) {
	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	switch Detect(name, text) {
	case FormatVTT:
		return ParseVTT(text)
	default:
		return ParseSRT(text)
	}
}

// Detect guesses the format from the file name, falling back to the header
func Detect(name, text string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".vtt":
		return FormatVTT
	case ".srt":
		return FormatSRT
	}
	if strings.HasPrefix(strings.TrimSpace(text), "WEBVTT") {
		return FormatVTT
	}
	return FormatSRT
}

// Render writes the document in its own format
func Render(doc *Document) string {
	if doc.Format == FormatVTT {
		return FormatVTTString(doc)
	}
	return FormatSRTString(doc)
}

// Convert returns a copy of the document tagged with another output format
func Convert(doc *Document, f Format) *Document {
	out := doc.WithTexts(nil)
	out.Format = f
	if f != FormatVTT {
		for i := range out.Entries {
			out.Entries[i].Settings = ""
		}
	}
	return out
}
