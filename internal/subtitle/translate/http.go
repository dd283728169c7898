package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 2 * time.Minute
	maxResponseBytes      = 16 << 20
)

// Option customizes adapter construction
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithLogger attaches a logger to the adapter
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// httpBackend holds what every HTTP adapter shares: the client, the
// per-request timeout and error classification
type httpBackend struct {
	cfg     Config
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

func newHTTPBackend(cfg Config, defaultBase string, o options) httpBackend {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{}
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return httpBackend{
		cfg:     cfg,
		baseURL: base,
		client:  client,
		timeout: timeout,
		logger:  logger.With(zap.String("backend", string(cfg.Kind))),
	}
}

func (h *httpBackend) do(ctx context.Context, method, endpoint string, header http.Header, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, newError(ErrorUnavailable, "build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}
	h.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("endpoint", redactURL(endpoint)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(resp, data)
	}
	return data, nil
}

func (h *httpBackend) postJSON(ctx context.Context, endpoint string, header http.Header, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(ErrorUnavailable, "encode body: %w", err)
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return h.do(ctx, http.MethodPost, endpoint, header, bytes.NewReader(encoded))
}

func (h *httpBackend) getJSON(ctx context.Context, endpoint string, header http.Header, out any) error {
	data, err := h.do(ctx, http.MethodGet, endpoint, header, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformed("decode response: %w", err)
	}
	return nil
}

func (h *httpBackend) bearer() http.Header {
	header := http.Header{}
	if key := strings.TrimSpace(h.cfg.APIKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}
	return header
}

func redactURL(endpoint string) string {
	if i := strings.Index(endpoint, "key="); i >= 0 {
		return endpoint[:i] + "key=REDACTED"
	}
	return endpoint
}

// estimateTokens approximates model tokens: one per CJK character, one per
// four other characters
func estimateTokens(text string) int {
	wide, other := 0, 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			wide++
		} else {
			other++
		}
	}
	return wide + (other+3)/4
}

func estimateChars(text string) int {
	return utf8.RuneCountInString(text)
}

// finish checks that the backend produced one translation per input
func finish(req Request, translations []string, raw string) (*Response, error) {
	if len(translations) != len(req.Texts) {
		return nil, malformed("expected %d translations, got %d", len(req.Texts), len(translations))
	}
	return &Response{Translations: translations, Raw: raw}, nil
}

// decodeTranslations extracts a JSON array of strings from model output.
// Accepts a bare array, an object holding one array field, or an array
// embedded in surrounding prose. Subtitle line breaks written as \N that
// the model left unescaped are repaired so they come back verbatim.
func decodeTranslations(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	if translations, ok := parseTranslations(content); ok {
		return translations, nil
	}
	if repaired := escapeLineBreaks(content); repaired != content {
		if translations, ok := parseTranslations(repaired); ok {
			return translations, nil
		}
	}
	return nil, fmt.Errorf("no JSON array of strings in %q", snippet([]byte(content)))
}

func parseTranslations(content string) ([]string, bool) {
	var translations []string
	if err := json.Unmarshal([]byte(content), &translations); err == nil {
		return translations, true
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &wrapped); err == nil {
		keys := make([]string, 0, len(wrapped))
		for k := range wrapped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// Prefer the conventional field name, then any array of strings
		for _, k := range append([]string{"translations"}, keys...) {
			v, ok := wrapped[k]
			if !ok {
				continue
			}
			if err := json.Unmarshal(v, &translations); err == nil {
				return translations, true
			}
		}
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &translations); err == nil {
			return translations, true
		}
	}
	return nil, false
}

// escapeLineBreaks doubles the backslash of every \N that is not already
// escaped. \N is not a valid JSON escape, so models that copy subtitle
// line breaks verbatim produce undecodable output otherwise.
func escapeLineBreaks(content string) string {
	var b strings.Builder
	b.Grow(len(content) + 8)
	backslashes := 0
	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == 'N' && backslashes%2 == 1 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
		if c == '\\' {
			backslashes++
		} else {
			backslashes = 0
		}
	}
	return b.String()
}
