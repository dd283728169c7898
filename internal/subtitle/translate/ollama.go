package translate

import (
	"context"
	"encoding/json"
	"strings"
)

const ollamaBaseURL = "http://localhost:11434"

// OllamaAdapter talks to a self-hosted Ollama runner
type OllamaAdapter struct {
	httpBackend
	kind Kind
}

func newOllamaAdapter(cfg Config, kind Kind, o options) *OllamaAdapter {
	h := newHTTPBackend(cfg, ollamaBaseURL, o)
	h.baseURL = strings.TrimSuffix(h.baseURL, "/api")
	return &OllamaAdapter{httpBackend: h, kind: kind}
}

func (a *OllamaAdapter) Name() string {
	return string(a.kind) + ":" + a.cfg.Model
}

func (a *OllamaAdapter) Kind() Kind { return a.kind }

func (a *OllamaAdapter) EstimateLoad(text string) int { return estimateTokens(text) }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

func (a *OllamaAdapter) TranslateBatch(ctx context.Context, req Request) (*Response, error) {
	system, user := req.prompts()
	payload := ollamaChatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": a.cfg.Temperature},
	}

	body, err := a.postJSON(ctx, a.baseURL+"/api/chat", a.bearer(), payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Done  bool   `json:"done"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, malformed("ollama error: %s", resp.Error)
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return nil, malformed("empty content")
	}

	translations, err := decodeTranslations(content)
	if err != nil {
		return nil, malformed("parse translations: %w", err)
	}
	return finish(req, translations, content)
}

// ListModels queries GET {base}/api/tags
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]Model, error) {
	var resp struct {
		Models []struct {
			Name    string `json:"name"`
			Model   string `json:"model"`
			Details struct {
				Family        string `json:"family"`
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := a.getJSON(ctx, a.baseURL+"/api/tags", a.bearer(), &resp); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		desc := strings.TrimSpace(m.Details.Family + " " + m.Details.ParameterSize)
		models = append(models, Model{ID: id, DisplayName: m.Name, Description: desc})
	}
	return models, nil
}
