package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	gateway "github.com/nimasrn/billing-engine/internal/gateways"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postSale(t *testing.T, r *gin.Engine, auth string, req SaleRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/credit/sale", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)
	return w
}

func TestSale(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := gateway.BasicAuth("mid-1", "key-1")

	t.Run("approves and echoes the sale", func(t *testing.T) {
		r := SetupRouter(&Handler{gateway: NewMockGateway(1, 0, 0)}, "/credit/sale")
		w := postSale(t, r, auth, SaleRequest{Token: "tok-123456", Amount: "49.00", InvoiceNo: "txn-1", RefNo: "txn-1"})

		require.Equal(t, http.StatusOK, w.Code)
		resp := gateway.NormalizeResponse(w.Body.Bytes(), w.Code)
		assert.True(t, resp.Succeeded())
		assert.Equal(t, "000000", resp.ReturnCode)
		assert.Equal(t, "txn-1", resp.InvoiceNo)
		assert.Equal(t, "XXXXXXXXXXXX3456", resp.Account)
	})

	t.Run("forced outcomes", func(t *testing.T) {
		r := SetupRouter(&Handler{gateway: NewMockGateway(1, 0, 0)}, "/credit/sale")

		w := postSale(t, r, auth, SaleRequest{Token: "tok", Amount: "1.00", InvoiceNo: "txn-2-decline"})
		resp := gateway.NormalizeResponse(w.Body.Bytes(), w.Code)
		assert.False(t, resp.Succeeded())
		assert.Equal(t, "100202", resp.ReturnCode)

		w = postSale(t, r, auth, SaleRequest{Token: "tok", Amount: "1.00", InvoiceNo: "txn-3-unavailable"})
		assert.Equal(t, "003007", gateway.NormalizeResponse(w.Body.Bytes(), w.Code).ReturnCode)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		r := SetupRouter(&Handler{gateway: NewMockGateway(1, 0, 0)}, "/credit/sale")
		w := postSale(t, r, "", SaleRequest{Token: "tok", Amount: "1.00", InvoiceNo: "txn-4"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects an incomplete body", func(t *testing.T) {
		r := SetupRouter(&Handler{gateway: NewMockGateway(1, 0, 0)}, "/credit/sale")
		w := postSale(t, r, auth, SaleRequest{Amount: "1.00"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
