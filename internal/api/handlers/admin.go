package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/harrywu96/AniverseGateway-sub001/internal/api/middleware"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db/models"
)

var startTime = time.Now()

var validRoles = map[string]bool{models.RoleAdmin: true, models.RoleEditor: true, models.RoleViewer: true}

type AdminHandler struct {
	db *db.Database
}

func NewAdminHandler(db *db.Database) *AdminHandler {
	return &AdminHandler{db: db}
}

// ListUsers returns all users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers()
	if err != nil {
		jsonError(w, "failed to list users: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, users, http.StatusOK)
}

// CreateUser creates a new user
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		jsonError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	if !validRoles[req.Role] {
		jsonError(w, "role must be one of: admin, editor, viewer", http.StatusBadRequest)
		return
	}

	id, err := h.db.CreateUser(req.Username, req.Password, req.Role)
	if err != nil {
		jsonError(w, "failed to create user (username may already exist)", http.StatusConflict)
		return
	}

	jsonResponse(w, map[string]interface{}{"id": id, "username": req.Username, "role": req.Role}, http.StatusCreated)
}

// DeleteUser removes a user
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	// Prevent self-deletion
	claims := middleware.GetClaims(r)
	if claims != nil && claims.UserID == id {
		jsonError(w, "cannot delete yourself", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUserByID(id)
	if err != nil {
		jsonError(w, "user not found", http.StatusNotFound)
		return
	}
	if user.Role == models.RoleAdmin {
		users, err := h.db.ListUsers()
		if err != nil {
			jsonError(w, "failed to check admin count", http.StatusInternalServerError)
			return
		}
		admins := 0
		for _, u := range users {
			if u.Role == models.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			jsonError(w, "cannot delete the last admin", http.StatusBadRequest)
			return
		}
	}

	if err := h.db.DeleteUser(id); err != nil {
		jsonError(w, "failed to delete user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Health reports liveness. It is served without authentication.
func Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(startTime).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}, http.StatusOK)
}
