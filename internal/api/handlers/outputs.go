package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/harrywu96/AniverseGateway-sub001/internal/storage"
)

// OutputsHandler browses the translated files written by completed tasks
type OutputsHandler struct {
	sink *storage.FileSink
}

func NewOutputsHandler(sink *storage.FileSink) *OutputsHandler {
	return &OutputsHandler{sink: sink}
}

func (h *OutputsHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	path := extractPath(r)
	if path == "" {
		path = "."
	}

	entries, err := storage.ListDirectory(h.sink.Dir(), path)
	if err != nil {
		writeErr(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"path":    path,
		"entries": entries,
	}, http.StatusOK)
}

func (h *OutputsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	results, err := storage.Search(h.sink.Dir(), q, 50)
	if err != nil {
		jsonError(w, "search failed", http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"query":   q,
		"results": results,
	}, http.StatusOK)
}

// Download sends one output file as an attachment
func (h *OutputsHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := extractPath(r)
	if !storage.IsSubtitleFile(path) {
		jsonError(w, "not a subtitle file", http.StatusBadRequest)
		return
	}
	data, err := h.sink.Open(path)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	w.Write(data)
}
