package translate

import (
	"fmt"
	"strings"
)

// New builds the adapter selected by cfg. It depends only on cfg and opts;
// no shared configuration is consulted.
func New(cfg Config, opts ...Option) (Adapter, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg.Kind = Kind(strings.ToLower(strings.TrimSpace(string(cfg.Kind))))
	cfg.Shape = Kind(strings.ToLower(strings.TrimSpace(string(cfg.Shape))))

	switch cfg.Kind {
	case KindOpenAI:
		return newOpenAIAdapter(cfg, KindOpenAI, o), nil
	case KindLocal:
		if err := requireFields(cfg, true, true); err != nil {
			return nil, err
		}
		return newOpenAIAdapter(cfg, KindLocal, o), nil
	case KindOllama:
		if err := requireFields(cfg, false, true); err != nil {
			return nil, err
		}
		return newOllamaAdapter(cfg, KindOllama, o), nil
	case KindGemini:
		return newGeminiAdapter(cfg, KindGemini, o), nil
	case KindDeepL:
		return newDeepLAdapter(cfg, o), nil
	case KindCustom:
		return newCustomAdapter(cfg, o)
	case "":
		return nil, fmt.Errorf("translate: adapter kind is required")
	default:
		return nil, fmt.Errorf("translate: unknown adapter kind %q", cfg.Kind)
	}
}

// newCustomAdapter binds a user-defined endpoint to one of the known wire shapes
func newCustomAdapter(cfg Config, o options) (Adapter, error) {
	if err := requireFields(cfg, true, true); err != nil {
		return nil, err
	}
	switch cfg.Shape {
	case KindOpenAI, "":
		return newOpenAIAdapter(cfg, KindCustom, o), nil
	case KindOllama:
		return newOllamaAdapter(cfg, KindCustom, o), nil
	case KindGemini:
		return newGeminiAdapter(cfg, KindCustom, o), nil
	default:
		return nil, fmt.Errorf("translate: unsupported custom shape %q (want openai, ollama or gemini)", cfg.Shape)
	}
}

func requireFields(cfg Config, baseURL, model bool) error {
	if baseURL && strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("translate: %s adapter requires a base URL", cfg.Kind)
	}
	if model && strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("translate: %s adapter requires a model", cfg.Kind)
	}
	return nil
}
