package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SaleRequest is the body the billing engine posts for a recurring sale.
type SaleRequest struct {
	Token         string `json:"Token" binding:"required"`
	Amount        string `json:"Amount" binding:"required"`
	InvoiceNo     string `json:"InvoiceNo" binding:"required"`
	RefNo         string `json:"RefNo"`
	RecurringData string `json:"RecurringData"`
}

type SaleResponse struct {
	ResponseOrigin string `json:"ResponseOrigin"`
	ReturnCode     string `json:"ReturnCode"`
	Status         string `json:"Status"`
	Message        string `json:"Message"`
	Account        string `json:"Account"`
	Brand          string `json:"Brand"`
	AuthCode       string `json:"AuthCode,omitempty"`
	RefNo          string `json:"RefNo"`
	InvoiceNo      string `json:"InvoiceNo"`
	Amount         string `json:"Amount"`
	Authorized     string `json:"Authorized"`
	RecurringData  string `json:"RecurringData"`
	Token          string `json:"Token"`
}

type decline struct {
	code    string
	status  string
	message string
}

var declines = []decline{
	{"100202", "Declined", "DECLINED"},
	{"100203", "Declined", "INSUFFICIENT FUNDS"},
	{"003007", "Error", "PROCESSOR UNAVAILABLE"},
	{"100204", "Declined", "EXPIRED CARD"},
}

// MockGateway approves a configurable share of sales. An invoice that ends
// in "-decline" or "-unavailable" forces the matching outcome.
type MockGateway struct {
	mu          sync.Mutex
	approveRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
}

func NewMockGateway(approveRate float64, minDelay, maxDelay time.Duration) *MockGateway {
	return &MockGateway{
		approveRate: approveRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockGateway) delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(m.maxDelay-m.minDelay)))
}

func (m *MockGateway) outcome(invoice string) (approved bool, d decline) {
	switch {
	case strings.HasSuffix(invoice, "-decline"):
		return false, declines[0]
	case strings.HasSuffix(invoice, "-unavailable"):
		return false, declines[2]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng.Float64() < m.approveRate {
		return true, decline{}
	}
	return false, declines[m.rng.Intn(len(declines))]
}

func (m *MockGateway) SetApproveRate(rate float64) {
	m.mu.Lock()
	m.approveRate = rate
	m.mu.Unlock()
}

func (m *MockGateway) ApproveRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approveRate
}

func merchantFromAuth(header string) (string, bool) {
	raw, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", false
	}
	mid, key, ok := strings.Cut(string(decoded), ":")
	if !ok || mid == "" || key == "" {
		return "", false
	}
	return mid, true
}

type Handler struct {
	gateway *MockGateway
}

func (h *Handler) Sale(c *gin.Context) {
	mid, ok := merchantFromAuth(c.GetHeader("Authorization"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"Status": "Error", "ReturnCode": "401", "Message": "invalid merchant credentials"})
		return
	}

	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"Status": "Error", "ReturnCode": "400", "Message": err.Error()})
		return
	}

	time.Sleep(h.gateway.delay())

	resp := SaleResponse{
		ResponseOrigin: "Processor",
		RefNo:          req.RefNo,
		InvoiceNo:      req.InvoiceNo,
		Amount:         req.Amount,
		Account:        "XXXXXXXXXXXX" + lastFour(req.Token),
		Brand:          "VISA",
		RecurringData:  req.RecurringData,
		Token:          req.Token,
	}
	if resp.RefNo == "" {
		resp.RefNo = uuid.New().String()[:12]
	}

	approved, d := h.gateway.outcome(req.InvoiceNo)
	if approved {
		resp.ReturnCode = "000000"
		resp.Status = "Approved"
		resp.Message = "APPROVED"
		resp.AuthCode = strings.ToUpper(uuid.New().String()[:6])
		resp.Authorized = req.Amount
	} else {
		resp.ReturnCode = d.code
		resp.Status = d.status
		resp.Message = d.message
		resp.Authorized = "0.00"
	}

	log.Info().
		Str("mid", mid).
		Str("invoice_no", req.InvoiceNo).
		Str("amount", req.Amount).
		Str("status", resp.Status).
		Str("return_code", resp.ReturnCode).
		Msg("sale processed")

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "approve_rate": h.gateway.ApproveRate(), "timestamp": time.Now()})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var body struct {
		ApproveRate *float64 `json:"approve_rate"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if body.ApproveRate != nil && *body.ApproveRate >= 0 && *body.ApproveRate <= 1 {
		h.gateway.SetApproveRate(*body.ApproveRate)
		log.Info().Float64("rate", *body.ApproveRate).Msg("approve rate updated")
	}
	c.JSON(http.StatusOK, gin.H{"approve_rate": h.gateway.ApproveRate()})
}

func lastFour(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

func SetupRouter(h *Handler, salePath string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	router.POST(salePath, h.Sale)
	router.GET("/health", h.Health)
	router.PUT("/config", h.UpdateConfig)
	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	salePath := getEnv("SALE_PATH", "/credit/sale")
	approveRate := getEnvFloat("APPROVE_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 400*time.Millisecond)

	log.Info().
		Str("port", port).
		Str("sale_path", salePath).
		Float64("approve_rate", approveRate).
		Msg("starting mock payment gateway")

	h := &Handler{gateway: NewMockGateway(approveRate, minDelay, maxDelay)}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(h, salePath),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
