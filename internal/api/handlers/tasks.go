package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/api/middleware"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db/models"
	"github.com/harrywu96/AniverseGateway-sub001/internal/job"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
)

// TaskHandler submits translation tasks and reports on them
type TaskHandler struct {
	manager  *job.Manager
	provider *profile.Provider
	database *db.Database
	logger   *zap.Logger
	origins  []string
}

func NewTaskHandler(manager *job.Manager, provider *profile.Provider, database *db.Database, logger *zap.Logger, origins []string) *TaskHandler {
	return &TaskHandler{
		manager:  manager,
		provider: provider,
		database: database,
		logger:   logger.With(zap.String("component", "tasks")),
		origins:  origins,
	}
}

type createTaskRequest struct {
	Name         string `json:"name"`
	Content      string `json:"content"`
	OutputFormat string `json:"output_format"`
	profile.Selection
}

// CreateTask accepts either a JSON body carrying the document as "content",
// or a multipart form with a "file" part and optional JSON "options"
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, data, err := decodeCreateTask(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "untitled.srt"
	}

	var format subtitle.Format
	switch strings.ToLower(req.OutputFormat) {
	case "":
	case string(subtitle.FormatSRT):
		format = subtitle.FormatSRT
	case string(subtitle.FormatVTT):
		format = subtitle.FormatVTT
	default:
		jsonError(w, "output_format must be srt or vtt", http.StatusBadRequest)
		return
	}

	doc, err := subtitle.Parse(req.Name, data)
	if err != nil {
		writeErr(w, err)
		return
	}

	sel := h.applySettings(req.Selection)
	backend, params, err := h.provider.Resolve(sel)
	if err != nil {
		writeErr(w, err)
		return
	}

	var owner int64
	if claims := middleware.GetClaims(r); claims != nil {
		owner = claims.UserID
	}
	task, err := h.manager.Submit(r.Context(), job.Request{
		Name:         req.Name,
		Document:     doc,
		Backend:      backend,
		Params:       params,
		OutputFormat: format,
		OwnerID:      owner,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, task, http.StatusAccepted)
}

func decodeCreateTask(r *http.Request) (createTaskRequest, []byte, error) {
	var req createTaskRequest
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, nil, fmt.Errorf("invalid request body")
		}
		if req.Content == "" {
			return req, nil, fmt.Errorf("content is required")
		}
		return req, []byte(req.Content), nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return req, nil, fmt.Errorf("file is required")
	}
	defer file.Close()
	if opts := r.FormValue("options"); opts != "" {
		if err := json.Unmarshal([]byte(opts), &req); err != nil {
			return req, nil, fmt.Errorf("invalid options")
		}
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return req, nil, fmt.Errorf("failed to read upload")
	}
	if req.Name == "" {
		req.Name = header.Filename
	}
	return req, data, nil
}

// applySettings fills unset selection fields from the stored settings
func (h *TaskHandler) applySettings(sel profile.Selection) profile.Selection {
	if sel.TargetLanguage == "" {
		sel.TargetLanguage = h.database.GetSetting("target_language", "")
	}
	if sel.Style == "" {
		sel.Style = h.database.GetSetting("style", "")
	}
	if sel.ProfileID == 0 && sel.ProfileName == "" {
		sel.ProfileName = h.database.GetSetting("default_profile", "")
	}
	return sel
}

// ListTasks returns the caller's tasks; admins see every task
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var owner int64
	if claims := middleware.GetClaims(r); claims != nil && claims.Role != models.RoleAdmin {
		owner = claims.UserID
	}
	tasks, err := h.manager.List(r.Context(), owner)
	if err != nil {
		jsonError(w, "failed to list tasks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, tasks, http.StatusOK)
}

// task loads the task named in the URL and hides tasks of other users
func (h *TaskHandler) task(w http.ResponseWriter, r *http.Request) (*job.Task, bool) {
	t, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	if claims := middleware.GetClaims(r); claims != nil && claims.Role != models.RoleAdmin && t.OwnerID != claims.UserID {
		jsonError(w, job.ErrNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	return t, true
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.task(w, r)
	if !ok {
		return
	}
	jsonResponse(w, t, http.StatusOK)
}

// CancelTask cancels a queued or running task
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.task(w, r)
	if !ok {
		return
	}
	if err := h.manager.Cancel(r.Context(), t.ID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetResult returns the merged output of a finished task. With
// ?format=raw the rendered document is sent as a download.
func (h *TaskHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	t, ok := h.task(w, r)
	if !ok {
		return
	}
	res, err := h.manager.Result(r.Context(), t.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if r.URL.Query().Get("format") != "raw" {
		jsonResponse(w, res, http.StatusOK)
		return
	}

	name := strings.TrimSuffix(t.Name, fileExt(t.Name)) + "." + t.TargetLanguage + "." + string(res.Format)
	contentType := "application/x-subrip"
	if res.Format == subtitle.FormatVTT {
		contentType = "text/vtt"
	}
	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	io.WriteString(w, res.Content)
}

func fileExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && !strings.ContainsAny(name[i:], `/\`) {
		return name[i:]
	}
	return ""
}
