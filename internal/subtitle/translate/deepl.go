package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

const (
	deeplFreeBaseURL = "https://api-free.deepl.com/v2"
	deeplProBaseURL  = "https://api.deepl.com/v2"
)

// DeepLAdapter translates using the DeepL API. Prompts are ignored; style
// maps to formality and prior lines are sent as context.
type DeepLAdapter struct {
	httpBackend
}

func newDeepLAdapter(cfg Config, o options) *DeepLAdapter {
	// Free-tier keys end in ":fx"
	base := deeplProBaseURL
	if strings.HasSuffix(strings.TrimSpace(cfg.APIKey), ":fx") {
		base = deeplFreeBaseURL
	}
	return &DeepLAdapter{httpBackend: newHTTPBackend(cfg, base, o)}
}

func (d *DeepLAdapter) Name() string { return "deepl" }

func (d *DeepLAdapter) Kind() Kind { return KindDeepL }

// EstimateLoad counts characters, which is how DeepL bills
func (d *DeepLAdapter) EstimateLoad(text string) int { return estimateChars(text) }

func (d *DeepLAdapter) TranslateBatch(ctx context.Context, req Request) (*Response, error) {
	form := url.Values{}
	for _, text := range req.Texts {
		form.Add("text", text)
	}
	form.Set("target_lang", deeplLangCode(req.TargetLanguage, true))
	if req.SourceLanguage != "" && req.SourceLanguage != "auto" {
		form.Set("source_lang", deeplLangCode(req.SourceLanguage, false))
	}
	if len(req.PriorExamples) > 0 {
		form.Set("context", strings.Join(req.PriorExamples, "\n"))
	}

	switch req.Style {
	case "documentary":
		form.Set("formality", "prefer_more")
	case "anime":
		form.Set("formality", "prefer_less")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Authorization", "DeepL-Auth-Key "+d.cfg.APIKey)

	body, err := d.do(ctx, http.MethodPost, d.baseURL+"/translate", header, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("decode response: %w", err)
	}

	translations := make([]string, len(resp.Translations))
	for i, t := range resp.Translations {
		translations[i] = t.Text
	}
	return finish(req, translations, string(body))
}
