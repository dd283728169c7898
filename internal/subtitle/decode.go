package subtitle

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts subtitle bytes to a Go string. UTF-16 input is
// recognised by its byte order mark; anything else must be valid UTF-8.
func DecodeText(data []byte) (string, error) {
	var dec *encoding.Decoder
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	}
	if dec != nil {
		out, _, err := transform.Bytes(dec, data)
		if err != nil {
			return "", fmt.Errorf("%w: utf-16: %v", ErrInvalidEncoding, err)
		}
		data = out
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := validateText(string(data)); err != nil {
		return "", err
	}
	return normalizeNewlines(string(data)), nil
}

func validateText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: invalid utf-8", ErrInvalidEncoding)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: contains NUL bytes", ErrInvalidEncoding)
	}
	return nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
