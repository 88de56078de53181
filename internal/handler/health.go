package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/config"
	"github.com/streamrelay/relay-server-go/internal/registry"
)

type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	registry *registry.Registry
	checks   map[string]HealthCheck
}

// NewHealthHandler reports 503 when any named dependency check fails.
func NewHealthHandler(reg *registry.Registry, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{registry: reg, checks: checks}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	failing := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			failing[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status":      status,
		"timestamp":   time.Now().UnixMilli(),
		"connections": h.registry.Len(),
	}
	if len(failing) > 0 {
		body["failing"] = failing
	}
	writeJSON(w, code, body)
}
