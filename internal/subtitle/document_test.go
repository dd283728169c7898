package subtitle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const sampleSRT = "1\r\n00:00:01,000 --> 00:00:02,500\r\n<i>Hello</i>\r\n\r\n  2  \r\n00:00:03,000 --> 00:00:04,000\r\nLine one\r\nLine two\r\n\r\n\r\n"

func TestParseSRT(t *testing.T) {
	doc, err := ParseSRT(sampleSRT)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)

	first := doc.Entries[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, 1, first.SequenceIndex)
	assert.Equal(t, time.Second, first.Start)
	assert.Equal(t, 2500*time.Millisecond, first.End)
	assert.Equal(t, "<i>Hello</i>", first.Text)

	assert.Equal(t, "Line one\nLine two", doc.Entries[1].Text)
	assert.Equal(t, 2, doc.Entries[1].SequenceIndex)
}

func TestFormatSRTString(t *testing.T) {
	doc, err := ParseSRT(sampleSRT)
	require.NoError(t, err)

	want := "1\n00:00:01,000 --> 00:00:02,500\n<i>Hello</i>\n\n" +
		"2\n00:00:03,000 --> 00:00:04,000\nLine one\nLine two\n\n"
	assert.Equal(t, want, FormatSRTString(doc))

	again, err := ParseSRT(FormatSRTString(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestParseSRTTolerance(t *testing.T) {
	t.Run("missing blank separator", func(t *testing.T) {
		doc, err := ParseSRT("1\n00:00:01,000 --> 00:00:02,000\nA\n2\n00:00:03,000 --> 00:00:04,000\nB\n")
		require.NoError(t, err)
		require.Len(t, doc.Entries, 2)
		assert.Equal(t, "A", doc.Entries[0].Text)
		assert.Equal(t, "B", doc.Entries[1].Text)
	})

	t.Run("numeric text line", func(t *testing.T) {
		doc, err := ParseSRT("1\n00:00:01,000 --> 00:00:02,000\n42\nis the answer\n")
		require.NoError(t, err)
		require.Len(t, doc.Entries, 1)
		assert.Equal(t, "42\nis the answer", doc.Entries[0].Text)
	})

	t.Run("missing index and dot separator", func(t *testing.T) {
		doc, err := ParseSRT("00:00:01.5 --> 00:00:02.000 X1:10\nHi\n")
		require.NoError(t, err)
		require.Len(t, doc.Entries, 1)
		assert.Equal(t, 1500*time.Millisecond, doc.Entries[0].Start)
	})
}

func TestParseSRTErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		line  int
	}{
		{"end before start", "1\n00:00:05,000 --> 00:00:02,000\nx\n", 2},
		{"bad timing", "1\nnot a timing line\nx\n", 2},
		{"garbage index", "hello\n", 1},
		{"index without timing", "1\n00:00:01,000 --> 00:00:02,000\nA\n\n2\n", 6},
		{"empty", "  \n\n", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSRT(tc.input)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, tc.line, perr.Line)
		})
	}
}

func TestParseVTT(t *testing.T) {
	in := "WEBVTT - sample\nKind: captions\n\nNOTE a comment\nspanning lines\n\ncue-1\n00:01.000 --> 00:02.000 align:start\nHello\n\n00:00:03.000 --> 00:00:04.000\nWorld\n"
	doc, err := ParseVTT(in)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, FormatVTT, doc.Format)
	assert.Equal(t, time.Second, doc.Entries[0].Start)
	assert.Equal(t, "World", doc.Entries[1].Text)
	assert.Equal(t, "align:start", doc.Entries[0].Settings)
	assert.Empty(t, doc.Entries[1].Settings)

	out := FormatVTTString(doc)
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.000 align:start\nHello\n\n2\n00:00:03.000 --> 00:00:04.000\nWorld\n\n", out)

	_, err = ParseVTT("1\n00:00:01.000 --> 00:00:02.000\nx\n")
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestVTTKeepsCueSettings(t *testing.T) {
	in := "WEBVTT\n\n00:00:01.000 --> 00:00:02.500 align:start position:10% line:0\n<i>Hi</i>\n"
	doc, err := ParseVTT(in)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, "align:start position:10% line:0", doc.Entries[0].Settings)

	translated := doc.WithTexts([]string{"<i>Salut</i>"})
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.500 align:start position:10% line:0\n<i>Salut</i>\n\n", FormatVTTString(translated))

	srt := Convert(doc, FormatSRT)
	assert.Empty(t, srt.Entries[0].Settings)
	assert.Equal(t, "align:start position:10% line:0", doc.Entries[0].Settings)
}

func TestParseDecodesUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.Bytes([]byte("1\r\n00:00:01,000 --> 00:00:02,000\r\nHi\r\n"))
	require.NoError(t, err)

	doc, err := Parse("episode.srt", data)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, "Hi", doc.Entries[0].Text)
}

func TestParseRejectsBinary(t *testing.T) {
	_, err := Parse("x.srt", []byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatVTT, Detect("a.VTT", ""))
	assert.Equal(t, FormatSRT, Detect("a.srt", "WEBVTT"))
	assert.Equal(t, FormatVTT, Detect("upload", "\nWEBVTT\n"))
	assert.Equal(t, FormatSRT, Detect("upload", "1\n"))
}

func TestRenderConverts(t *testing.T) {
	doc, err := ParseSRT(sampleSRT)
	require.NoError(t, err)

	vtt := Render(Convert(doc, FormatVTT))
	back, err := ParseVTT(vtt)
	require.NoError(t, err)
	assert.Equal(t, doc.Entries, back.Entries)

	translated := doc.WithTexts([]string{"Bonjour"})
	assert.Equal(t, "Bonjour", translated.Entries[0].Text)
	assert.Equal(t, "Line one\nLine two", translated.Entries[1].Text)
	assert.Equal(t, "<i>Hello</i>", doc.Entries[0].Text)
}
