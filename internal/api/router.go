package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/api/handlers"
	"github.com/harrywu96/AniverseGateway-sub001/internal/api/middleware"
	"github.com/harrywu96/AniverseGateway-sub001/internal/auth"
	"github.com/harrywu96/AniverseGateway-sub001/internal/config"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db/models"
	"github.com/harrywu96/AniverseGateway-sub001/internal/job"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/storage"
)

const maxJSONBody = 1 << 20

// Deps are the services the HTTP API is built on
type Deps struct {
	Config   *config.Config
	DB       *db.Database
	JWT      *auth.JWTService
	Manager  *job.Manager
	Provider *profile.Provider
	Sink     *storage.FileSink
	Logger   *zap.Logger
}

func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter wires the REST and WebSocket API. ctx bounds background work
// owned by the router, such as rate limiter cleanup.
func NewRouter(ctx context.Context, d Deps) *chi.Mux {
	cfg := d.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(cors.Handler(corsOptions(cfg.Server.CORSOrigins)))
	if cfg.Server.RequestsPerMinute > 0 {
		burst := cfg.Server.RequestsPerMinute / 6
		r.Use(middleware.NewRateLimiter(ctx, cfg.Server.RequestsPerMinute, burst).Handler)
	}
	r.Use(middleware.MaxBodySize(maxJSONBody, int64(cfg.Server.MaxUploadMB)<<20))

	// Handlers
	authHandler := handlers.NewAuthHandler(d.DB, d.JWT, d.Logger)
	taskHandler := handlers.NewTaskHandler(d.Manager, d.Provider, d.DB, d.Logger, cfg.Server.CORSOrigins)
	presetsHandler := handlers.NewPresetsHandler(d.DB)
	modelsHandler := handlers.NewModelsHandler(d.Provider, d.Logger)
	profilesHandler := handlers.NewProfilesHandler(d.DB, modelsHandler)
	outputsHandler := handlers.NewOutputsHandler(d.Sink)
	settingsHandler := handlers.NewSettingsHandler(d.DB)
	adminHandler := handlers.NewAdminHandler(d.DB)

	writers := middleware.RequireRole(models.RoleAdmin, models.RoleEditor)
	admins := middleware.RequireRole(models.RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Get("/health", handlers.Health)
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.JWT))

			r.Get("/auth/me", authHandler.Me)

			// Tasks
			r.Get("/tasks", taskHandler.ListTasks)
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Get("/tasks/{id}/result", taskHandler.GetResult)
			r.Get("/tasks/{id}/events", taskHandler.TaskEvents)
			r.With(writers).Post("/tasks", taskHandler.CreateTask)
			r.With(writers).Delete("/tasks/{id}", taskHandler.CancelTask)

			// Presets
			r.Get("/presets", presetsHandler.ListPresets)
			r.Get("/presets/{id}", presetsHandler.GetPreset)
			r.With(writers).Post("/presets", presetsHandler.CreatePreset)
			r.With(writers).Put("/presets/{id}", presetsHandler.UpdatePreset)
			r.With(writers).Delete("/presets/{id}", presetsHandler.DeletePreset)

			// Backend profiles and models
			r.Get("/models", modelsHandler.DefaultModels)
			r.Get("/profiles", profilesHandler.ListProfiles)
			r.Get("/profiles/{id}", profilesHandler.GetProfile)
			r.Get("/profiles/{id}/models", modelsHandler.ProfileModels)
			r.With(admins).Post("/profiles", profilesHandler.CreateProfile)
			r.With(admins).Put("/profiles/{id}", profilesHandler.UpdateProfile)
			r.With(admins).Delete("/profiles/{id}", profilesHandler.DeleteProfile)

			// Outputs
			r.Get("/outputs/tree", outputsHandler.GetTree)
			r.Get("/outputs/tree/*", outputsHandler.GetTree)
			r.Get("/outputs/search", outputsHandler.Search)
			r.Get("/outputs/file/*", outputsHandler.Download)

			// Settings
			r.Get("/settings", settingsHandler.GetSettings)
			r.With(admins).Put("/settings", settingsHandler.UpdateSettings)

			// Admin
			r.Route("/admin", func(r chi.Router) {
				r.Use(admins)
				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users", adminHandler.CreateUser)
				r.Delete("/users/{id}", adminHandler.DeleteUser)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}
