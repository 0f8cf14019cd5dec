package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/billing-engine/internal/invocation"
	xhttp "github.com/nimasrn/billing-engine/pkg/http"
	"github.com/nimasrn/billing-engine/pkg/logger"
)

type Invoker interface {
	Handle(ctx context.Context, raw json.RawMessage) (*invocation.Response, error)
}

// InvokeHandler runs an event through the router over HTTP, for local runs
// and manual fetch passes.
type InvokeHandler struct {
	invoker Invoker
	budget  time.Duration
}

func RegisterInvokeRoutes(e *router.Group, h *InvokeHandler) {
	e.POST("/invoke", h.Invoke)
}

// NewInvokeHandler gives every invocation a deadline of budget.
func NewInvokeHandler(invoker Invoker, budget time.Duration) *InvokeHandler {
	return &InvokeHandler{invoker: invoker, budget: budget}
}

func (h *InvokeHandler) Invoke(ctx *xhttp.RequestCtx) {
	body := ctx.PostBody()
	if !json.Valid(body) {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON")
		return
	}

	// the request body buffer is reused once the handler returns
	raw := make(json.RawMessage, len(body))
	copy(raw, body)

	ictx, cancel := context.WithTimeout(context.Background(), h.budget)
	defer cancel()

	resp, err := h.invoker.Handle(ictx, raw)
	if errors.Is(err, invocation.ErrUnsupportedEvent) {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.Error("invocation failed", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, resp)
}
