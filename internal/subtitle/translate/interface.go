package translate

import (
	"context"
	"time"
)

// Kind identifies a backend adapter variant
type Kind string

const (
	KindOpenAI Kind = "openai" // hosted chat completions
	KindLocal  Kind = "local"  // OpenAI-compatible server at a user-supplied URL
	KindOllama Kind = "ollama" // self-hosted runner
	KindGemini Kind = "gemini"
	KindDeepL  Kind = "deepl"
	KindCustom Kind = "custom" // user-defined endpoint speaking one of the known shapes
)

// Kinds lists every supported adapter kind
var Kinds = []Kind{KindOpenAI, KindLocal, KindOllama, KindGemini, KindDeepL, KindCustom}

// Request is one batch translation call. SystemPrompt and UserPrompt are
// built from the other fields when left empty.
type Request struct {
	SystemPrompt   string            `json:"system_prompt,omitempty"`
	UserPrompt     string            `json:"user_prompt,omitempty"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	Style          string            `json:"style"` // "anime", "movie", "documentary", "custom"
	CustomPrompt   string            `json:"custom_prompt,omitempty"`
	Glossary       map[string]string `json:"glossary,omitempty"`
	PriorExamples  []string          `json:"prior_examples,omitempty"` // context only, never translated
	Texts          []string          `json:"texts"`
}

// Response carries one translation per request text, in order
type Response struct {
	Translations []string `json:"translations"`
	Raw          string   `json:"raw,omitempty"`
}

// Adapter is the common interface for all translation backends
type Adapter interface {
	// Name returns a human readable adapter name
	Name() string
	Kind() Kind
	// TranslateBatch performs exactly one backend call. Failures are
	// *BackendError values; retrying is left to the caller.
	TranslateBatch(ctx context.Context, req Request) (*Response, error)
	// EstimateLoad returns the cost of text in backend units, used for batch sizing
	EstimateLoad(text string) int
}

// Model describes a model offered by a backend
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModelLister is implemented by adapters that can discover available models
type ModelLister interface {
	ListModels(ctx context.Context) ([]Model, error)
}

// Config is the fully resolved, request-scoped backend configuration
type Config struct {
	Kind        Kind          `json:"kind"`
	Shape       Kind          `json:"shape,omitempty"` // wire shape for KindCustom
	BaseURL     string        `json:"base_url,omitempty"`
	APIKey      string        `json:"-"`
	Model       string        `json:"model,omitempty"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
	Retry       RetryPolicy   `json:"retry"`
}
