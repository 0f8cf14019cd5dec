package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
	"github.com/valyala/fasthttp"
)

const (
	OriginSystem = model.ResponseOriginSystem
	OriginClient = model.ResponseOriginClient

	DefaultRecurringData = "Recurring"
)

type SaleRequest struct {
	Token         string `json:"Token"`
	Amount        string `json:"Amount"`
	InvoiceNo     string `json:"InvoiceNo"`
	RefNo         string `json:"RefNo"`
	RecurringData string `json:"RecurringData"`
}

type DatacapConfig struct {
	BaseURL    string
	SalePath   string
	DefaultMID string
	UserAgent  string
	Timeout    time.Duration
	MaxConns   int

	// BreakerThreshold consecutive transport failures open the breaker for
	// BreakerTimeout. Zero disables it.
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// DatacapClient posts sales to a Datacap style endpoint. It never reports a
// gateway answer as an error: every outcome, including transport failures,
// comes back as a canonical PaymentResponse.
type DatacapClient struct {
	config    DatacapConfig
	client    *fasthttp.Client
	metrics   *CallMetrics
	openUntil atomic.Int64
	now       func() time.Time
}

func NewDatacapClient(config DatacapConfig, client *fasthttp.Client) *DatacapClient {
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.SalePath == "" {
		config.SalePath = "/credit/sale"
	}
	if client == nil {
		client = &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
	}
	logger.Info("Datacap client initialized", "url", config.BaseURL+config.SalePath, "timeout", config.Timeout)
	return &DatacapClient{
		config:  config,
		client:  client,
		metrics: NewCallMetrics(),
		now:     time.Now,
	}
}

func (c *DatacapClient) Sale(ctx context.Context, cred *model.Credential, req SaleRequest) (*model.PaymentResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sale request: %w", err)
	}

	if until := c.openUntil.Load(); until > 0 && c.now().UnixNano() < until {
		logger.Warn("Datacap circuit open, sale not sent", "invoice_no", req.InvoiceNo)
		return localFailure(req, OriginClient, "gateway circuit open", fasthttp.StatusServiceUnavailable), nil
	}

	mid := cred.MID
	if mid == "" {
		mid = c.config.DefaultMID
	}

	start := time.Now()
	status, raw, err := c.doRequest(ctx, mid, cred.APIPrivateKey, body)
	latency := time.Since(start)

	if err != nil {
		c.recordFailure()
		prom.ObserveGatewayLatency(latency.Seconds(), OriginClient)
		logger.Warn("Datacap request failed", "invoice_no", req.InvoiceNo, "error", err, "latency_ms", latency.Milliseconds())
		return localFailure(req, OriginClient, err.Error(), fasthttp.StatusBadGateway), nil
	}

	if status >= fasthttp.StatusInternalServerError {
		c.recordFailure()
	} else {
		c.metrics.RecordSuccess(latency)
	}

	resp := NormalizeResponse(raw, status)
	prom.ObserveGatewayLatency(latency.Seconds(), resp.ResponseOrigin)
	logger.Info("Datacap sale answered", "invoice_no", req.InvoiceNo, "status", resp.Status, "return_code", resp.ReturnCode, "http_status", status, "latency_ms", latency.Milliseconds())
	return resp, nil
}

func (c *DatacapClient) recordFailure() {
	fails := c.metrics.RecordFailure()
	if c.config.BreakerThreshold > 0 && fails >= int32(c.config.BreakerThreshold) {
		c.openUntil.Store(c.now().Add(c.config.BreakerTimeout).UnixNano())
		logger.Warn("Datacap circuit breaker opened", "consecutive_fails", fails, "timeout", c.config.BreakerTimeout)
	}
}

func (c *DatacapClient) doRequest(ctx context.Context, mid, key string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + c.config.SalePath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.SetUserAgent(c.config.UserAgent)
	req.Header.Set("Authorization", BasicAuth(mid, key))
	req.SetBody(body)

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())
	return resp.StatusCode(), result, nil
}

func (c *DatacapClient) Stats() Stats {
	state := "CLOSED"
	if until := c.openUntil.Load(); until > 0 && c.now().UnixNano() < until {
		state = "OPEN"
	}
	return Stats{
		Name:             "datacap",
		URL:              c.config.BaseURL + c.config.SalePath,
		State:            state,
		TotalRequests:    c.metrics.TotalRequests.Load(),
		SuccessfulReqs:   c.metrics.SuccessfulReqs.Load(),
		FailedReqs:       c.metrics.FailedReqs.Load(),
		SuccessRate:      c.metrics.SuccessRate(),
		AvgLatencyMs:     c.metrics.AvgLatencyMs(),
		P95LatencyMs:     c.metrics.P95LatencyMs(),
		LastLatencyMs:    c.metrics.LastLatencyMs.Load(),
		ConsecutiveFails: c.metrics.ConsecutiveFails.Load(),
	}
}

func BasicAuth(mid, key string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(mid+":"+key))
}

// NormalizeResponse maps a raw gateway body onto the canonical shape.
// Missing return code and status fall back to the HTTP status.
func NormalizeResponse(body []byte, httpStatus int) *model.PaymentResponse {
	var resp model.PaymentResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			logger.Debug("gateway body is not JSON", "http_status", httpStatus, "error", err)
			resp = model.PaymentResponse{}
		}
	}

	code := strconv.Itoa(httpStatus)
	if resp.ReturnCode == "" {
		resp.ReturnCode = code
	}
	if resp.Status == "" {
		resp.Status = code
	}
	if resp.RecurringData == "" {
		resp.RecurringData = DefaultRecurringData
	}
	resp.HttpStatus = httpStatus
	return &resp
}

func localFailure(req SaleRequest, origin, message string, httpStatus int) *model.PaymentResponse {
	code := strconv.Itoa(httpStatus)
	return &model.PaymentResponse{
		ResponseOrigin: origin,
		ReturnCode:     code,
		Status:         code,
		Message:        message,
		InvoiceNo:      req.InvoiceNo,
		Amount:         model.FlexString(req.Amount),
		Authorized:     model.FlexBool(false),
		RecurringData:  req.RecurringData,
		Token:          req.Token,
		HttpStatus:     httpStatus,
	}
}
