package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

const modelCacheTTL = time.Hour

type cachedModels struct {
	models  []translate.Model
	fetched time.Time
}

// ModelsHandler lists the models a backend offers. Lists are cached per
// profile for an hour; a stale list is served if the backend is down.
type ModelsHandler struct {
	provider *profile.Provider
	logger   *zap.Logger
	// newAdapter is swapped in tests
	newAdapter func(translate.Config) (translate.Adapter, error)

	mu    sync.Mutex
	cache map[int64]cachedModels
}

func NewModelsHandler(provider *profile.Provider, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		provider: provider,
		logger:   logger.With(zap.String("component", "models")),
		newAdapter: func(cfg translate.Config) (translate.Adapter, error) {
			return translate.New(cfg, translate.WithLogger(logger))
		},
		cache: make(map[int64]cachedModels),
	}
}

// DefaultModels lists the models of the configured default backend
func (h *ModelsHandler) DefaultModels(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, 0)
}

// ProfileModels lists the models of one stored profile
func (h *ModelsHandler) ProfileModels(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		jsonError(w, "invalid profile ID", http.StatusBadRequest)
		return
	}
	h.serve(w, r, id)
}

func (h *ModelsHandler) serve(w http.ResponseWriter, r *http.Request, profileID int64) {
	models, err := h.getModels(r.Context(), profileID)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, models, http.StatusOK)
}

func (h *ModelsHandler) getModels(ctx context.Context, profileID int64) ([]translate.Model, error) {
	h.mu.Lock()
	cached, ok := h.cache[profileID]
	h.mu.Unlock()
	if ok && time.Since(cached.fetched) < modelCacheTTL {
		return cached.models, nil
	}

	cfg, err := h.provider.Backend(profileID)
	if err != nil {
		return nil, err
	}
	adapter, err := h.newAdapter(cfg)
	if err != nil {
		return nil, err
	}
	lister, ok := adapter.(translate.ModelLister)
	if !ok {
		// backends without discovery only offer what is configured
		if cfg.Model == "" {
			return []translate.Model{}, nil
		}
		return []translate.Model{{ID: cfg.Model}}, nil
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		if cached.models != nil {
			h.logger.Warn("model discovery failed, serving cached list",
				zap.Int64("profile_id", profileID), zap.Error(err))
			return cached.models, nil
		}
		return nil, fmt.Errorf("%s model discovery: %w", adapter.Kind(), err)
	}
	if models == nil {
		models = []translate.Model{}
	}

	h.mu.Lock()
	h.cache[profileID] = cachedModels{models: models, fetched: time.Now()}
	h.mu.Unlock()
	return models, nil
}

func (h *ModelsHandler) forget(profileID int64) {
	h.mu.Lock()
	delete(h.cache, profileID)
	h.mu.Unlock()
}
