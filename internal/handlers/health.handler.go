package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/billing-engine/pkg/http"
)

type HealthService interface {
	CheckHealth(ctx context.Context) map[string]error
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

// GetHealth answers 503 with the failing dependencies when any check fails.
func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	failures := h.svc.CheckHealth(ctx)
	if len(failures) == 0 {
		writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "ok"})
		return
	}

	deps := make(map[string]string, len(failures))
	for name, err := range failures {
		deps[name] = err.Error()
	}
	writeJSON(ctx, xhttp.StatusServiceUnavailable, map[string]any{"status": "degraded", "dependencies": deps})
}
