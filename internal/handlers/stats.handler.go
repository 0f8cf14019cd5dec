package handlers

import (
	"github.com/fasthttp/router"
	gateway "github.com/nimasrn/billing-engine/internal/gateways"
	xhttp "github.com/nimasrn/billing-engine/pkg/http"
)

type GatewayStats interface {
	Stats() gateway.Stats
}

type StatsHandler struct {
	gateways []GatewayStats
}

func RegisterStatsRoutes(e *router.Group, h *StatsHandler) {
	e.GET("/stats", h.GetStats)
}

func NewStatsHandler(gateways ...GatewayStats) *StatsHandler {
	return &StatsHandler{gateways: gateways}
}

func (h *StatsHandler) GetStats(ctx *xhttp.RequestCtx) {
	out := make([]gateway.Stats, 0, len(h.gateways))
	for _, g := range h.gateways {
		out = append(out, g.Stats())
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"gateways": out})
}
