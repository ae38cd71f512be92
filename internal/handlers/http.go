package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"github.com/vigilhq/vigil/internal/api"
)

// HealthHandler reports process liveness and database reachability
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// SetupRoutes sets up health check routes
func (h *HealthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
}

// HandleHealth always returns 200 so load balancers keep routing to a
// process that can still serve reads from its caches; the status field
// carries the degradation signal.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.Ping() != nil {
			status = "degraded"
		}
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": "1.0.0",
	})
}
