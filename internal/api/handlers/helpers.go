package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/job"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// errorStatus maps domain errors onto HTTP status codes
func errorStatus(err error) int {
	var perr *subtitle.ParseError
	var berr *translate.BackendError
	switch {
	case errors.As(err, &perr), errors.Is(err, subtitle.ErrInvalidEncoding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, job.ErrNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidTransition), errors.Is(err, job.ErrNotFinished):
		return http.StatusConflict
	case errors.Is(err, job.ErrInvalidInput), errors.Is(err, profile.ErrProfileDisabled),
		errors.Is(err, profile.ErrCredential):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &berr):
		return http.StatusBadGateway
	case errors.Is(err, os.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	jsonError(w, err.Error(), errorStatus(err))
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// extractPath extracts and URL-decodes the wildcard path from chi router
func extractPath(r *http.Request) string {
	path := chi.URLParam(r, "*")
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	decoded = strings.TrimPrefix(decoded, "/")
	decoded = strings.TrimSuffix(decoded, "/")
	return decoded
}
