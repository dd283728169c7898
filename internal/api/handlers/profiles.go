package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// ProfilesHandler manages stored backend profiles
type ProfilesHandler struct {
	database *db.Database
	models   *ModelsHandler
}

func NewProfilesHandler(database *db.Database, models *ModelsHandler) *ProfilesHandler {
	return &ProfilesHandler{database: database, models: models}
}

func (h *ProfilesHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.database.ListBackendProfiles()
	if err != nil {
		jsonError(w, "failed to list profiles: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range profiles {
		profiles[i].CredentialRef = profile.MaskRef(profiles[i].CredentialRef)
	}
	jsonResponse(w, profiles, http.StatusOK)
}

func (h *ProfilesHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid profile ID", http.StatusBadRequest)
		return
	}
	p, err := h.database.GetBackendProfile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	p.CredentialRef = profile.MaskRef(p.CredentialRef)
	jsonResponse(w, p, http.StatusOK)
}

func decodeProfile(r *http.Request) (db.BackendProfile, string) {
	var req struct {
		db.BackendProfile
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req.BackendProfile, "invalid request body"
	}
	p := req.BackendProfile
	p.Enabled = req.Enabled == nil || *req.Enabled
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	p.Shape = strings.ToLower(strings.TrimSpace(p.Shape))
	if p.Name == "" {
		return p, "name is required"
	}
	if !slices.Contains(translate.Kinds, translate.Kind(p.Kind)) {
		return p, "unknown backend kind: " + p.Kind
	}
	if p.TimeoutSeconds < 0 || p.MaxAttempts < 0 {
		return p, "timeout_seconds and max_attempts must not be negative"
	}
	return p, ""
}

// CreateProfile stores a new backend profile. Profiles are enabled unless
// the request says otherwise.
func (h *ProfilesHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	p, msg := decodeProfile(r)
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	id, err := h.database.CreateBackendProfile(p)
	if err != nil {
		jsonError(w, "failed to create profile (name may already exist)", http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]interface{}{"id": id, "name": p.Name}, http.StatusCreated)
}

// UpdateProfile replaces a profile. A masked credential reference keeps the
// stored one.
func (h *ProfilesHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid profile ID", http.StatusBadRequest)
		return
	}
	p, msg := decodeProfile(r)
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	existing, err := h.database.GetBackendProfile(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if strings.HasPrefix(p.CredentialRef, "****") {
		p.CredentialRef = existing.CredentialRef
	}
	p.ID = id
	if err := h.database.UpdateBackendProfile(p); err != nil {
		writeErr(w, err)
		return
	}
	h.models.forget(id)
	jsonResponse(w, map[string]interface{}{"id": id, "name": p.Name}, http.StatusOK)
}

func (h *ProfilesHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid profile ID", http.StatusBadRequest)
		return
	}
	if err := h.database.DeleteBackendProfile(id); err != nil {
		writeErr(w, err)
		return
	}
	h.models.forget(id)
	w.WriteHeader(http.StatusNoContent)
}
