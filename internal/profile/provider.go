// Package profile resolves request-scoped backend configuration from stored
// backend profiles, translation presets and the process defaults.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

var (
	ErrProfileDisabled = errors.New("backend profile is disabled")
	ErrCredential      = errors.New("credential could not be resolved")
)

// Store is the subset of the database used to resolve selections
type Store interface {
	GetBackendProfile(id int64) (*db.BackendProfile, error)
	GetBackendProfileByName(name string) (*db.BackendProfile, error)
	GetTranslationPreset(id int64) (*db.TranslationPreset, error)
}

// Defaults are the process-wide fallbacks applied when a selection leaves a
// value unset
type Defaults struct {
	Backend       translate.Config
	CredentialRef string
	Timeout       time.Duration
	Retry         translate.RetryPolicy
	Params        pipeline.Params
}

// Selection is what a caller asks for. Profile and preset references are
// optional; explicit fields override whatever they resolve to.
type Selection struct {
	ProfileID   int64  `json:"profile_id,omitempty"`
	ProfileName string `json:"profile,omitempty"`
	PresetID    int64  `json:"preset_id,omitempty"`

	SourceLanguage string            `json:"source_language,omitempty"`
	TargetLanguage string            `json:"target_language,omitempty"`
	Style          string            `json:"style,omitempty"`
	CustomPrompt   string            `json:"custom_prompt,omitempty"`
	Glossary       map[string]string `json:"glossary,omitempty"`
	Model          string            `json:"model,omitempty"`

	MaxEntries  int `json:"max_entries,omitempty"`
	ContextSize int `json:"context_size,omitempty"`
	Parallelism int `json:"parallelism,omitempty"`
}

// Provider turns a Selection into a fully resolved adapter config and run
// parameters. It never caches credentials.
type Provider struct {
	store     Store
	defaults  Defaults
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

func NewProvider(store Store, defaults Defaults) *Provider {
	return &Provider{
		store:     store,
		defaults:  defaults,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// Resolve builds the adapter config and pipeline parameters for sel
func (p *Provider) Resolve(sel Selection) (translate.Config, pipeline.Params, error) {
	cfg, err := p.backend(sel)
	if err != nil {
		return translate.Config{}, pipeline.Params{}, err
	}
	if sel.Model != "" {
		cfg.Model = sel.Model
	}

	params := p.defaults.Params
	params.Retry = cfg.Retry
	params.Glossary = copyGlossary(params.Glossary)

	if sel.PresetID != 0 {
		if p.store == nil {
			return translate.Config{}, pipeline.Params{}, fmt.Errorf("preset %d: %w", sel.PresetID, db.ErrNotFound)
		}
		preset, err := p.store.GetTranslationPreset(sel.PresetID)
		if err != nil {
			return translate.Config{}, pipeline.Params{}, fmt.Errorf("preset %d: %w", sel.PresetID, err)
		}
		params.Style = preset.Style
		params.CustomPrompt = preset.Prompt
		for k, v := range preset.Glossary {
			params.Glossary[k] = v
		}
	}

	if sel.SourceLanguage != "" {
		params.SourceLanguage = sel.SourceLanguage
	}
	if sel.TargetLanguage != "" {
		params.TargetLanguage = sel.TargetLanguage
	}
	if sel.Style != "" {
		params.Style = sel.Style
	}
	if sel.CustomPrompt != "" {
		params.CustomPrompt = sel.CustomPrompt
	}
	for k, v := range sel.Glossary {
		params.Glossary[k] = v
	}
	if sel.MaxEntries > 0 {
		params.MaxEntries = sel.MaxEntries
	}
	if sel.ContextSize > 0 {
		params.ContextSize = sel.ContextSize
	}
	if sel.Parallelism > 0 {
		params.Parallelism = sel.Parallelism
	}
	return cfg, params, nil
}

// Backend resolves only the adapter config of a stored profile
func (p *Provider) Backend(profileID int64) (translate.Config, error) {
	return p.backend(Selection{ProfileID: profileID})
}

func (p *Provider) backend(sel Selection) (translate.Config, error) {
	if sel.ProfileID == 0 && sel.ProfileName == "" {
		cfg := p.defaults.Backend
		cfg.Timeout = p.defaults.Timeout
		cfg.Retry = p.defaults.Retry
		key, err := p.Credential(p.defaults.CredentialRef)
		if err != nil {
			return translate.Config{}, err
		}
		cfg.APIKey = key
		return cfg, nil
	}
	if p.store == nil {
		return translate.Config{}, fmt.Errorf("backend profile: %w", db.ErrNotFound)
	}

	var prof *db.BackendProfile
	var err error
	if sel.ProfileID != 0 {
		prof, err = p.store.GetBackendProfile(sel.ProfileID)
	} else {
		prof, err = p.store.GetBackendProfileByName(sel.ProfileName)
	}
	if err != nil {
		return translate.Config{}, fmt.Errorf("backend profile: %w", err)
	}
	if !prof.Enabled {
		return translate.Config{}, fmt.Errorf("%w: %s", ErrProfileDisabled, prof.Name)
	}
	return p.profileConfig(prof)
}

func (p *Provider) profileConfig(prof *db.BackendProfile) (translate.Config, error) {
	key, err := p.Credential(prof.CredentialRef)
	if err != nil {
		return translate.Config{}, fmt.Errorf("profile %s: %w", prof.Name, err)
	}
	cfg := translate.Config{
		Kind:        translate.Kind(prof.Kind),
		Shape:       translate.Kind(prof.Shape),
		BaseURL:     prof.BaseURL,
		APIKey:      key,
		Model:       prof.Model,
		Temperature: prof.Temperature,
		Timeout:     p.defaults.Timeout,
		Retry:       p.defaults.Retry,
	}
	if prof.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(prof.TimeoutSeconds) * time.Second
	}
	if prof.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = prof.MaxAttempts
	}
	return cfg, nil
}

// Credential resolves a credential reference: "env:NAME" reads an
// environment variable, "file:PATH" reads a file, anything else is the
// secret itself. An empty reference resolves to no credential.
func (p *Provider) Credential(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := p.lookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrCredential, name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		data, err := p.readFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrCredential, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return ref, nil
	}
}

// MaskRef hides literal secrets so references can be shown to clients
func MaskRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "env:") || strings.HasPrefix(ref, "file:") {
		return ref
	}
	if len(ref) <= 4 {
		return "****"
	}
	return "****" + ref[len(ref)-4:]
}

func copyGlossary(g map[string]string) map[string]string {
	out := make(map[string]string, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}
