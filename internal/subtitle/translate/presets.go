package translate

import (
	"fmt"
	"sort"
	"strings"
)

// Styles lists the built-in prompt presets
var Styles = []string{"anime", "movie", "documentary", "custom"}

// SystemPrompt returns the translation system prompt for a given style
func SystemPrompt(style, sourceLang, targetLang, customPrompt string) string {
	base := fmt.Sprintf(
		"You are a professional subtitle translator. Translate subtitles from %s to %s. "+
			"Maintain the original meaning and timing constraints. "+
			"Keep translations concise and natural for subtitle display. "+
			"Respond with ONLY the translated text for each subtitle line, maintaining the same number of lines.",
		LanguageName(sourceLang), LanguageName(targetLang),
	)

	switch style {
	case "anime":
		base += "\n\n" +
			"Additional guidelines for anime translation:\n" +
			"- Use casual, natural speech patterns appropriate for anime dialogue\n" +
			"- Preserve Japanese honorifics (-san, -kun, -chan, -senpai, -sensei) where the target audience expects them\n" +
			"- Handle common anime expressions naturally (e.g., なるほど, すごい, やれやれ)\n" +
			"- Keep character name consistency\n" +
			"- Match the emotional tone (excited, serious, comedic)\n" +
			"- Translate onomatopoeia and sound effects appropriately"

	case "movie":
		base += "\n\n" +
			"Additional guidelines for movie/drama translation:\n" +
			"- Use natural conversational style appropriate for the genre\n" +
			"- Preserve cultural nuances and idioms with equivalent expressions\n" +
			"- Maintain formal/informal register matching the original dialogue\n" +
			"- Keep subtitles readable within typical display time (max 2 lines)"

	case "documentary":
		base += "\n\n" +
			"Additional guidelines for documentary translation:\n" +
			"- Use formal, precise language\n" +
			"- Preserve all technical terminology with accurate translations\n" +
			"- Maintain proper nouns, scientific names, and place names\n" +
			"- Keep numbers, dates, and measurements accurate\n" +
			"- Use standard academic style for narration"
	}

	if strings.TrimSpace(customPrompt) != "" {
		base += "\n\nUser instructions: " + strings.TrimSpace(customPrompt)
	}
	return base
}

// UserPrompt builds the numbered batch prompt, including glossary and
// preceding context when present
func UserPrompt(req Request) string {
	var sb strings.Builder

	if len(req.Glossary) > 0 {
		terms := make([]string, 0, len(req.Glossary))
		for term := range req.Glossary {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		sb.WriteString("Glossary (always use these translations):\n")
		for _, term := range terms {
			sb.WriteString(fmt.Sprintf("- %s => %s\n", term, req.Glossary[term]))
		}
		sb.WriteString("\n")
	}

	if len(req.PriorExamples) > 0 {
		sb.WriteString("Previously translated lines, for context only. Do NOT include them in the output:\n")
		for _, line := range req.PriorExamples {
			sb.WriteString("> ")
			sb.WriteString(strings.ReplaceAll(line, "\n", " "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Translate the following subtitle lines. Return ONLY a JSON array with the translated text for each line, maintaining the same order and count.\n\n")
	sb.WriteString("Input lines:\n")
	for i, text := range req.Texts {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, text))
	}
	sb.WriteString(fmt.Sprintf("\nReturn exactly %d translations as a JSON array of strings. Example: [\"translated line 1\", \"translated line 2\", ...]", len(req.Texts)))
	return sb.String()
}

// prompts returns the request's prompts, building any that are missing
func (r Request) prompts() (string, string) {
	system, user := r.SystemPrompt, r.UserPrompt
	if system == "" {
		system = SystemPrompt(r.Style, r.SourceLanguage, r.TargetLanguage, r.CustomPrompt)
	}
	if user == "" {
		user = UserPrompt(r)
	}
	return system, user
}
