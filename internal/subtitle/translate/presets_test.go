package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemPromptStyles(t *testing.T) {
	anime := SystemPrompt("anime", "ja", "en", "")
	assert.Contains(t, anime, "from Japanese to English")
	assert.Contains(t, anime, "honorifics")

	doc := SystemPrompt("documentary", "auto", "de", "Keep units metric")
	assert.Contains(t, doc, "auto-detected language to German")
	assert.Contains(t, doc, "User instructions: Keep units metric")

	assert.NotContains(t, SystemPrompt("custom", "en", "fr", ""), "User instructions")
}

func TestUserPromptOmitsEmptySections(t *testing.T) {
	prompt := UserPrompt(Request{Texts: []string{"one"}})
	assert.NotContains(t, prompt, "Glossary")
	assert.NotContains(t, prompt, "context only")
	assert.Contains(t, prompt, "[1] one")
	assert.Contains(t, prompt, "exactly 1 translations")
}

func TestRequestPromptOverrides(t *testing.T) {
	system, user := Request{SystemPrompt: "sys", UserPrompt: "usr"}.prompts()
	assert.Equal(t, "sys", system)
	assert.Equal(t, "usr", user)
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Korean", LanguageName("ko"))
	assert.Equal(t, "auto-detected language", LanguageName(""))
	assert.Equal(t, "not a tag!", LanguageName("not a tag!"))
}

func TestDetectSourceLang(t *testing.T) {
	assert.Equal(t, "ja", DetectSourceLang("whisper_ja.vtt"))
	assert.Equal(t, "ko", DetectSourceLang("translate_ko_gemini.vtt"))
	assert.Equal(t, "en", DetectSourceLang("/media/Show.S01E01.en.srt"))
	assert.Equal(t, "auto", DetectSourceLang("movie.srt"))
}

func TestDeepLLangCode(t *testing.T) {
	assert.Equal(t, "EN-US", deeplLangCode("en", true))
	assert.Equal(t, "EN", deeplLangCode("en", false))
	assert.Equal(t, "EN-GB", deeplLangCode("en-gb", true))
	assert.Equal(t, "PT", deeplLangCode("pt-BR", false))
	assert.Equal(t, "JA", deeplLangCode("ja", true))
}
