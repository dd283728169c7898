package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
)

var inputLine = regexp.MustCompile(`(?m)^\[(\d+)\] (.*)$`)

// fakeOllama answers chat calls by upper-casing every input line
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"qwen2.5:7b"},{"name":"llama3:8b"}]}`)
		case "/api/chat":
			var req struct {
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			user := req.Messages[len(req.Messages)-1].Content
			_, lines, _ := strings.Cut(user, "Input lines:\n")
			var out []string
			for _, m := range inputLine.FindAllStringSubmatch(lines, -1) {
				out = append(out, strings.ToUpper(m[2]))
			}
			content, _ := json.Marshal(out)
			json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": string(content)},
				"done":    true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func isolate(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	for _, key := range []string{"PORT", "DB_PATH", "OUTPUT_PATH", "JWT_SECRET", "CORS_ORIGINS",
		"TARGET_LANGUAGE", "MAX_CONCURRENT_TASKS", "TRANSLATE_MODEL", "TRANSLATE_CREDENTIAL", "LOG_FORMAT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("DATA_PATH", filepath.Join(dir, "data"))
	t.Setenv("TRANSLATE_BACKEND", "ollama")
	t.Setenv("TRANSLATE_BASE_URL", backendURL)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTranslateCommand(t *testing.T) {
	dir := isolate(t, fakeOllama(t).URL)

	in := filepath.Join(dir, "show.ja.srt")
	require.NoError(t, os.WriteFile(in, []byte(
		"1\n00:00:01,000 --> 00:00:02,000\n<i>hello</i>\n\n2\n00:00:03,000 --> 00:00:04,000\nbye\n\n"), 0o644))
	out := filepath.Join(dir, "nested", "show.en.vtt")

	stdout, err := run(t, "translate", in, out, "--to", "en")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+out)
	assert.Contains(t, stdout, "ja -> en")
	assert.NotContains(t, stdout, "not translated")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	doc, err := subtitle.Parse(out, data)
	require.NoError(t, err)
	assert.Equal(t, subtitle.FormatVTT, doc.Format)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, "<i>HELLO</i>", doc.Entries[0].Text)
	assert.Equal(t, "BYE", doc.Entries[1].Text)
}

func TestTranslateCommandRejectsBadInput(t *testing.T) {
	dir := isolate(t, fakeOllama(t).URL)
	in := filepath.Join(dir, "broken.srt")
	require.NoError(t, os.WriteFile(in, []byte("this is not a subtitle"), 0o644))

	_, err := run(t, "translate", in, filepath.Join(dir, "out.srt"))
	var perr *subtitle.ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = run(t, "translate", in, filepath.Join(dir, "out.srt"), "--format", "ass")
	assert.Error(t, err)
}

func TestModelsCommand(t *testing.T) {
	isolate(t, fakeOllama(t).URL)

	stdout, err := run(t, "models")
	require.NoError(t, err)
	assert.Contains(t, stdout, "qwen2.5:7b")
	assert.Contains(t, stdout, "llama3:8b")
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := isolate(t, "http://localhost:11434")
	target := filepath.Join(dir, "aniverse.toml")

	stdout, err := run(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, target)

	_, err = run(t, "config", "init", "--path", target)
	assert.ErrorContains(t, err, "already exists")

	stdout, err = run(t, "config", "validate", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Configuration valid")
}

func TestOutputFormat(t *testing.T) {
	f, err := outputFormat("", "a.vtt", subtitle.FormatSRT)
	require.NoError(t, err)
	assert.Equal(t, subtitle.FormatVTT, f)

	f, err = outputFormat("", "a.txt", subtitle.FormatSRT)
	require.NoError(t, err)
	assert.Equal(t, subtitle.FormatSRT, f)

	f, err = outputFormat("SRT", "a.vtt", subtitle.FormatVTT)
	require.NoError(t, err)
	assert.Equal(t, subtitle.FormatSRT, f)

	_, err = outputFormat("ass", "a.ass", subtitle.FormatSRT)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "line one / line two", truncate("line one\nline two", 40))
	assert.Equal(t, "こんにち…", truncate("こんにちは世界", 5))
}
