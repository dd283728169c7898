package translate

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

const (
	openAIBaseURL = "https://api.openai.com/v1"
	openAIModel   = "gpt-4o-mini"
)

// OpenAIAdapter speaks the chat-completions contract. It serves both the
// hosted API and local OpenAI-compatible servers.
type OpenAIAdapter struct {
	httpBackend
	kind Kind
}

func newOpenAIAdapter(cfg Config, kind Kind, o options) *OpenAIAdapter {
	base := ""
	if kind == KindOpenAI {
		base = openAIBaseURL
	}
	h := newHTTPBackend(cfg, base, o)
	h.baseURL = strings.TrimSuffix(h.baseURL, "/chat/completions")
	if h.cfg.Model == "" && kind == KindOpenAI {
		h.cfg.Model = openAIModel
	}
	return &OpenAIAdapter{httpBackend: h, kind: kind}
}

func (a *OpenAIAdapter) Name() string {
	return string(a.kind) + ":" + a.cfg.Model
}

func (a *OpenAIAdapter) Kind() Kind { return a.kind }

func (a *OpenAIAdapter) EstimateLoad(text string) int { return estimateTokens(text) }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		// Some servers return the streaming schema even when stream=false
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenAIAdapter) TranslateBatch(ctx context.Context, req Request) (*Response, error) {
	system, user := req.prompts()
	payload := chatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: a.cfg.Temperature,
	}
	// Local servers vary in structured output support
	if a.kind == KindOpenAI {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := a.postJSON(ctx, a.baseURL+"/chat/completions", a.bearer(), payload)
	if err != nil {
		return nil, err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, malformed("decode response: %w", err)
	}
	if completion.Error != nil {
		return nil, malformed("api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return nil, malformed("empty choices")
	}

	choice := completion.Choices[0]
	content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text)
	if content == "" {
		return nil, malformed("empty content (finish_reason=%q, refusal=%q)", choice.FinishReason, choice.Message.Refusal)
	}

	translations, err := decodeTranslations(content)
	if err != nil {
		return nil, malformed("parse translations: %w", err)
	}
	return finish(req, translations, content)
}

// ListModels queries GET {base}/models
func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]Model, error) {
	var resp struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := a.getJSON(ctx, a.baseURL+"/models", a.bearer(), &resp); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, Model{ID: m.ID, Description: m.OwnedBy})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
