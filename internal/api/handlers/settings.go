package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
)

// settingsKeys defines which keys are allowed and their display metadata
var settingsKeys = []SettingDef{
	{Key: "target_language", Label: "Default Target Language", Group: "translation", Placeholder: "zh"},
	{Key: "style", Label: "Default Style", Group: "translation", Placeholder: "natural"},
	{Key: "default_profile", Label: "Default Backend Profile", Group: "backend", Placeholder: "local-ollama"},
}

type SettingDef struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Group       string `json:"group"`
	Placeholder string `json:"placeholder"`
}

type SettingsHandler struct {
	database *db.Database
}

func NewSettingsHandler(database *db.Database) *SettingsHandler {
	return &SettingsHandler{database: database}
}

// GetSettings returns every known setting with its metadata
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.database.GetAllSettings()
	if err != nil {
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}

	type SettingResponse struct {
		SettingDef
		Value    string `json:"value"`
		HasValue bool   `json:"has_value"`
	}

	result := make([]SettingResponse, 0, len(settingsKeys))
	for _, def := range settingsKeys {
		val := all[def.Key]
		result = append(result, SettingResponse{
			SettingDef: def,
			Value:      val,
			HasValue:   val != "",
		})
	}
	jsonResponse(w, result, http.StatusOK)
}

// UpdateSettings saves settings from the request body. Unknown keys are
// ignored; an empty value clears a setting.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	allowed := make(map[string]bool)
	for _, def := range settingsKeys {
		allowed[def.Key] = true
	}

	if name := updates["default_profile"]; name != "" {
		if _, err := h.database.GetBackendProfileByName(name); err != nil {
			jsonError(w, "unknown backend profile: "+name, http.StatusBadRequest)
			return
		}
	}

	for key, value := range updates {
		if !allowed[key] {
			continue
		}
		if err := h.database.SetSetting(key, value); err != nil {
			jsonError(w, "failed to save setting: "+key, http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
