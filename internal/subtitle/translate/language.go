package translate

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageName returns the English name of a BCP 47 language code
func LanguageName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || code == "auto" {
		return "auto-detected language"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// DetectSourceLang guesses the language of a subtitle from its file name:
// "episode.ja.srt" -> "ja", "translate_ko_gemini.vtt" -> "ko"
func DetectSourceLang(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	if strings.HasPrefix(name, "whisper_") {
		return validLang(strings.TrimPrefix(name, "whisper_"))
	}
	if strings.HasPrefix(name, "translate_") {
		parts := strings.SplitN(strings.TrimPrefix(name, "translate_"), "_", 2)
		return validLang(parts[0])
	}

	parts := strings.Split(name, ".")
	if len(parts) >= 2 {
		return validLang(parts[len(parts)-1])
	}
	return "auto"
}

func validLang(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 && len(s) != 3 {
		return "auto"
	}
	base, conf := language.Make(s).Base()
	if conf == language.No || base.String() == "und" {
		return "auto"
	}
	return s
}

// deeplLangCode converts ISO 639-1 codes to DeepL format. Target
// languages need a regional variant for English, Portuguese and Chinese.
func deeplLangCode(code string, target bool) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if target {
		if strings.Contains(code, "-") {
			return strings.ToUpper(code)
		}
		switch code {
		case "en":
			return "EN-US"
		case "pt":
			return "PT-BR"
		case "zh":
			return "ZH-HANS"
		}
	}
	base, _, _ := strings.Cut(code, "-")
	return strings.ToUpper(base)
}
