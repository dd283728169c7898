package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
)

type PresetsHandler struct {
	database *db.Database
}

func NewPresetsHandler(database *db.Database) *PresetsHandler {
	return &PresetsHandler{database: database}
}

type presetRequest struct {
	Name     string            `json:"name"`
	Style    string            `json:"style"`
	Prompt   string            `json:"prompt"`
	Glossary map[string]string `json:"glossary"`
}

func (req presetRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Prompt == "" && req.Style == "" && len(req.Glossary) == 0 {
		return "a preset needs a prompt, a style or a glossary"
	}
	return ""
}

// ListPresets returns all saved translation presets
func (h *PresetsHandler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.database.ListTranslationPresets()
	if err != nil {
		jsonError(w, "failed to list presets: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, presets, http.StatusOK)
}

func (h *PresetsHandler) GetPreset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid preset ID", http.StatusBadRequest)
		return
	}
	p, err := h.database.GetTranslationPreset(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, p, http.StatusOK)
}

// CreatePreset saves a new translation preset
func (h *PresetsHandler) CreatePreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	id, err := h.database.CreateTranslationPreset(db.TranslationPreset{
		Name: req.Name, Style: req.Style, Prompt: req.Prompt, Glossary: req.Glossary,
	})
	if err != nil {
		jsonError(w, "failed to create preset (name may already exist)", http.StatusConflict)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"id":   id,
		"name": req.Name,
	}, http.StatusCreated)
}

// UpdatePreset updates an existing translation preset
func (h *PresetsHandler) UpdatePreset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid preset ID", http.StatusBadRequest)
		return
	}

	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	err = h.database.UpdateTranslationPreset(db.TranslationPreset{
		ID: id, Name: req.Name, Style: req.Style, Prompt: req.Prompt, Glossary: req.Glossary,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"id":   id,
		"name": req.Name,
	}, http.StatusOK)
}

// DeletePreset removes a saved translation preset
func (h *PresetsHandler) DeletePreset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid preset ID", http.StatusBadRequest)
		return
	}

	if err := h.database.DeleteTranslationPreset(id); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
