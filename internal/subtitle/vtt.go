package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var vttTimingRe = regexp.MustCompile(`^((?:\d{1,3}:)?\d{2}:\d{2}\.\d{3})\s*-->\s*((?:\d{1,3}:)?\d{2}:\d{2}\.\d{3})(?:[ \t]+(.*))?$`)

// ParseVTT parses WebVTT content. NOTE, STYLE and REGION blocks are skipped
// and cue identifiers are discarded; entries are renumbered from 1.
func ParseVTT(content string) (*Document, error) {
	lines := strings.Split(normalizeNewlines(strings.TrimPrefix(content, "\ufeff")), "\n")
	doc := &Document{Format: FormatVTT}

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i]), "WEBVTT") {
		return nil, &ParseError{Line: i + 1, Reason: "missing WEBVTT header"}
	}
	// Header block runs until the first blank line
	for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
		i++
	}

	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}
		if isVTTMetaBlock(line) {
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
				i++
			}
			continue
		}

		// Optional cue identifier
		if !strings.Contains(line, "-->") {
			i++
			if i >= len(lines) {
				return nil, &ParseError{Line: i, Reason: "cue identifier without timing line"}
			}
			line = strings.TrimSpace(lines[i])
		}

		m := vttTimingRe.FindStringSubmatch(line)
		if m == nil {
			return nil, &ParseError{Line: i + 1, Reason: fmt.Sprintf("invalid timing line %q", line)}
		}
		start, err := parseVTTTimestamp(m[1])
		if err != nil {
			return nil, &ParseError{Line: i + 1, Reason: err.Error()}
		}
		end, err := parseVTTTimestamp(m[2])
		if err != nil {
			return nil, &ParseError{Line: i + 1, Reason: err.Error()}
		}
		if end <= start {
			return nil, &ParseError{Line: i + 1, Reason: "cue ends before it starts"}
		}
		i++

		var text []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			text = append(text, strings.TrimSpace(lines[i]))
			i++
		}

		n := len(doc.Entries) + 1
		doc.Entries = append(doc.Entries, Entry{
			ID:            strconv.Itoa(n),
			SequenceIndex: n,
			Start:         start,
			End:           end,
			Text:          strings.Join(text, "\n"),
			Settings:      strings.TrimSpace(m[3]),
		})
	}

	if len(doc.Entries) == 0 {
		return nil, &ParseError{Reason: "no subtitle entries found"}
	}
	return doc, nil
}

// FormatVTTString renders a document as WebVTT
func FormatVTTString(doc *Document) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")

	for i, e := range doc.Entries {
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("%s --> %s", formatTimestamp(e.Start, '.'), formatTimestamp(e.End, '.')))
		if e.Settings != "" {
			sb.WriteString(" " + e.Settings)
		}
		sb.WriteByte('\n')
		sb.WriteString(e.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func isVTTMetaBlock(line string) bool {
	return line == "NOTE" || strings.HasPrefix(line, "NOTE ") ||
		line == "STYLE" || line == "REGION"
}

func parseVTTTimestamp(ts string) (time.Duration, error) {
	clock, frac, _ := strings.Cut(ts, ".")
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	return clockDuration(parts[0], parts[1], parts[2], frac)
}
