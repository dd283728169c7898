package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel   = "gemini-2.0-flash"
)

// GeminiAdapter translates using the Google Gemini generateContent API
type GeminiAdapter struct {
	httpBackend
	kind Kind
}

func newGeminiAdapter(cfg Config, kind Kind, o options) *GeminiAdapter {
	h := newHTTPBackend(cfg, geminiBaseURL, o)
	h.baseURL = strings.TrimSuffix(h.baseURL, "/models")
	if h.cfg.Model == "" {
		h.cfg.Model = geminiModel
	}
	return &GeminiAdapter{httpBackend: h, kind: kind}
}

func (g *GeminiAdapter) Name() string {
	return string(g.kind) + ":" + g.cfg.Model
}

func (g *GeminiAdapter) Kind() Kind { return g.kind }

func (g *GeminiAdapter) EstimateLoad(text string) int { return estimateTokens(text) }

func (g *GeminiAdapter) header() http.Header {
	header := http.Header{}
	if key := strings.TrimSpace(g.cfg.APIKey); key != "" {
		header.Set("x-goog-api-key", key)
	}
	return header
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent       `json:"system_instruction"`
	Contents          []geminiContent     `json:"contents"`
	GenerationConfig  map[string]any      `json:"generationConfig"`
	SafetySettings    []map[string]string `json:"safetySettings"`
}

var geminiSafetyOff = []map[string]string{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_CIVIC_INTEGRITY", "threshold": "BLOCK_NONE"},
}

func (g *GeminiAdapter) TranslateBatch(ctx context.Context, req Request) (*Response, error) {
	system, user := req.prompts()
	payload := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Parts: []geminiPart{{Text: user}}}},
		GenerationConfig: map[string]any{
			"temperature":      g.cfg.Temperature,
			"responseMimeType": "application/json",
		},
		SafetySettings: geminiSafetyOff,
	}

	endpoint := g.baseURL + "/models/" + url.PathEscape(g.cfg.Model) + ":generateContent"
	body, err := g.postJSON(ctx, endpoint, g.header(), payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candidates []struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("decode response: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return nil, malformed("gemini blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return nil, malformed("empty gemini response")
	}
	if fr := resp.Candidates[0].FinishReason; fr != "" && fr != "STOP" {
		g.logger.Warn("gemini finished early", zap.String("finish_reason", fr))
	}

	content := resp.Candidates[0].Content.Parts[0].Text
	translations, err := decodeTranslations(content)
	if err != nil {
		return nil, malformed("parse translations: %w", err)
	}
	return finish(req, translations, content)
}

// ListModels returns the Gemini text models supporting generateContent,
// newest first
func (g *GeminiAdapter) ListModels(ctx context.Context) ([]Model, error) {
	var resp struct {
		Models []struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			Description                string   `json:"description"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := g.getJSON(ctx, g.baseURL+"/models?pageSize=100", g.header(), &resp); err != nil {
		return nil, err
	}

	var models []Model
	seen := make(map[string]bool)
	for _, m := range resp.Models {
		supportsGenerate := false
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				supportsGenerate = true
				break
			}
		}
		if !supportsGenerate {
			continue
		}

		// "models/gemini-2.5-flash" -> "gemini-2.5-flash"
		id := strings.TrimPrefix(m.Name, "models/")
		if !strings.HasPrefix(id, "gemini-") || strings.Contains(id, "embedding") || seen[id] {
			continue
		}
		seen[id] = true
		models = append(models, Model{ID: id, DisplayName: m.DisplayName, Description: m.Description})
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID > models[j].ID })
	return models, nil
}
