package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	gateway "github.com/nimasrn/billing-engine/internal/gateways"
	"github.com/nimasrn/billing-engine/internal/invocation"
	xhttp "github.com/nimasrn/billing-engine/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockHealthService struct {
	mock.Mock
}

func (m *MockHealthService) CheckHealth(ctx context.Context) map[string]error {
	args := m.Called(ctx)
	return args.Get(0).(map[string]error)
}

type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Handle(ctx context.Context, raw json.RawMessage) (*invocation.Response, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invocation.Response), args.Error(1)
}

type staticStats gateway.Stats

func (s staticStats) Stats() gateway.Stats { return gateway.Stats(s) }

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func decodeBody(t *testing.T, ctx *xhttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		svc := new(MockHealthService)
		svc.On("CheckHealth", mock.Anything).Return(map[string]error{})

		ctx := setupTestContext("GET", "/api/v1/health", nil)
		NewHealthHandler(svc).GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Equal(t, "ok", decodeBody(t, ctx)["status"])
	})

	t.Run("degraded", func(t *testing.T) {
		svc := new(MockHealthService)
		svc.On("CheckHealth", mock.Anything).Return(map[string]error{"mongo": errors.New("server selection timeout")})

		ctx := setupTestContext("GET", "/api/v1/health", nil)
		NewHealthHandler(svc).GetHealth(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		body := decodeBody(t, ctx)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, map[string]any{"mongo": "server selection timeout"}, body["dependencies"])
	})
}

func TestInvokeHandler_Invoke(t *testing.T) {
	fetch := []byte(`{"type":"fetch-transactions"}`)

	t.Run("returns the router response with a deadline set", func(t *testing.T) {
		invoker := new(MockInvoker)
		withDeadline := mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})
		invoker.On("Handle", withDeadline, json.RawMessage(fetch)).
			Return(&invocation.Response{StatusCode: 200, Body: `{"seen":1}`}, nil).Once()

		ctx := setupTestContext("POST", "/api/v1/invoke", fetch)
		NewInvokeHandler(invoker, time.Minute).Invoke(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"statusCode":200,"body":"{\"seen\":1}"}`, string(ctx.Response.Body()))
		invoker.AssertExpectations(t)
	})

	t.Run("batch failures pass through", func(t *testing.T) {
		invoker := new(MockInvoker)
		invoker.On("Handle", mock.Anything, mock.Anything).Return(&invocation.Response{
			BatchItemFailures: []events.SQSBatchItemFailure{{ItemIdentifier: "m1"}},
		}, nil)

		ctx := setupTestContext("POST", "/api/v1/invoke", []byte(`{"Records":[]}`))
		NewInvokeHandler(invoker, time.Minute).Invoke(ctx)

		assert.JSONEq(t, `{"batchItemFailures":[{"itemIdentifier":"m1"}]}`, string(ctx.Response.Body()))
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			body   []byte
			err    error
			status int
		}{
			{"invalid json", []byte(`{`), nil, 400},
			{"unsupported event", []byte(`{"type":"x"}`), fmt.Errorf("%w: %q", invocation.ErrUnsupportedEvent, "x"), 400},
			{"handler failure", fetch, errors.New("decode event"), 500},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				invoker := new(MockInvoker)
				invoker.On("Handle", mock.Anything, mock.Anything).Return(nil, tt.err)

				ctx := setupTestContext("POST", "/api/v1/invoke", tt.body)
				NewInvokeHandler(invoker, time.Minute).Invoke(ctx)

				assert.Equal(t, tt.status, ctx.Response.StatusCode())
				assert.Contains(t, decodeBody(t, ctx), "error")
			})
		}
	})
}

func TestStatsHandler_GetStats(t *testing.T) {
	h := NewStatsHandler(staticStats{Name: "datacap", State: "CLOSED", TotalRequests: 12, FailedReqs: 1})

	ctx := setupTestContext("GET", "/api/v1/stats", nil)
	h.GetStats(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var out struct {
		Gateways []gateway.Stats `json:"gateways"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	require.Len(t, out.Gateways, 1)
	assert.Equal(t, "datacap", out.Gateways[0].Name)
	assert.Equal(t, int64(12), out.Gateways[0].TotalRequests)
}
