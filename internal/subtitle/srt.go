package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var srtTimingRe = regexp.MustCompile(`^(\d{1,3}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,3}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// ParseSRT parses SubRip content. Index lines, timing lines and text blocks
// separated by blank lines are required; surrounding whitespace and CRLF
// line endings are tolerated.
func ParseSRT(content string) (*Document, error) {
	lines := strings.Split(normalizeNewlines(strings.TrimPrefix(content, "\ufeff")), "\n")
	doc := &Document{Format: FormatSRT}

	const (
		wantIndex = iota
		wantTiming
		inText
	)
	state := wantIndex
	var current *Entry
	var text []string

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(text, "\n")
		doc.Entries = append(doc.Entries, *current)
		current = nil
		text = nil
	}
	begin := func() {
		current = &Entry{
			SequenceIndex: len(doc.Entries) + 1,
			ID:            strconv.Itoa(len(doc.Entries) + 1),
		}
	}

	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])

		switch state {
		case wantIndex:
			if line == "" {
				continue
			}
			if _, err := strconv.Atoi(line); err == nil {
				begin()
				state = wantTiming
				continue
			}
			// Cue without an index line
			if srtTimingRe.MatchString(line) {
				begin()
				i--
				state = wantTiming
				continue
			}
			return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("expected cue index, got %q", line)}

		case wantTiming:
			start, end, err := parseSRTTiming(line)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Reason: err.Error()}
			}
			current.Start, current.End = start, end
			state = inText

		case inText:
			if line == "" {
				flush()
				state = wantIndex
				continue
			}
			// Missing blank separator: an index line directly followed by a timing line
			if _, err := strconv.Atoi(line); err == nil && i+1 < len(lines) && srtTimingRe.MatchString(strings.TrimSpace(lines[i+1])) {
				flush()
				begin()
				state = wantTiming
				continue
			}
			text = append(text, line)
		}
	}

	if state == wantTiming {
		return nil, &ParseError{Line: len(lines), Reason: "cue index without timing line"}
	}
	flush()

	if len(doc.Entries) == 0 {
		return nil, &ParseError{Reason: "no subtitle entries found"}
	}
	return doc, nil
}

// FormatSRTString renders a document as SubRip text
func FormatSRTString(doc *Document) string {
	var sb strings.Builder
	for i, e := range doc.Entries {
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("\n")
		sb.WriteString(formatTimestamp(e.Start, ','))
		sb.WriteString(" --> ")
		sb.WriteString(formatTimestamp(e.End, ','))
		sb.WriteString("\n")
		sb.WriteString(e.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func parseSRTTiming(line string) (time.Duration, time.Duration, error) {
	m := srtTimingRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := clockDuration(m[1], m[2], m[3], m[4])
	if err != nil {
		return 0, 0, err
	}
	end, err := clockDuration(m[5], m[6], m[7], m[8])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("cue ends before it starts (%s --> %s)", formatTimestamp(start, ','), formatTimestamp(end, ','))
	}
	return start, end, nil
}

func clockDuration(h, m, s, ms string) (time.Duration, error) {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.Atoi(s)
	if minutes > 59 || seconds > 59 {
		return 0, fmt.Errorf("invalid timestamp %s:%s:%s", h, m, s)
	}
	// "5" after the separator means 500ms
	for len(ms) < 3 {
		ms += "0"
	}
	millis, _ := strconv.Atoi(ms)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

func formatTimestamp(d time.Duration, sep byte) string {
	totalMs := d.Milliseconds()
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
