package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	version string
	timeout time.Duration
}

func NewHealthHandler(db Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version, timeout: 5 * time.Second}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services,omitempty"`
}

// Handle handles GET /health
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: h.version}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		resp.Services = map[string]string{"database": "ok"}
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Services["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	respond(w, r, resp, status)
}
