package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	"github.com/ignatzorin/freelance-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freelance-escrow/internal/payment/webhook"
	"github.com/ignatzorin/freelance-escrow/internal/service"
)

const testWebhookSecret = "whsec_handler_test"

func newTestRouter(authenticated bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if authenticated {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserIDKey, uuid.New())
			c.Set(middleware.ContextRoleKey, "client")
			c.Next()
		})
	}
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *response.ErrorInfo {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	return body.Error
}

func TestHandlers_RequireAuthentication(t *testing.T) {
	r := newTestRouter(false)
	bids := &BidHandler{}
	contracts := &ContractHandler{}
	wallet := &WalletHandler{}
	projects := &ProjectHandler{}

	r.POST("/bids/:id/accept", bids.Accept)
	r.POST("/contracts/:id/sign", contracts.Sign)
	r.GET("/contracts/:id/next-signer", contracts.NextSigner)
	r.POST("/wallet/deposits", wallet.CreateDeposit)
	r.GET("/wallet/balance", wallet.GetBalance)
	r.POST("/projects/:id/release", projects.Release)
	r.POST("/projects/:id/refund", projects.Refund)

	id := uuid.NewString()
	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/bids/" + id + "/accept"},
		{http.MethodPost, "/contracts/" + id + "/sign"},
		{http.MethodGet, "/contracts/" + id + "/next-signer"},
		{http.MethodPost, "/wallet/deposits"},
		{http.MethodGet, "/wallet/balance"},
		{http.MethodPost, "/projects/" + id + "/release"},
		{http.MethodPost, "/projects/" + id + "/refund"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "UNAUTHORIZED", decodeError(t, w).Code)
		})
	}
}

func TestHandlers_InvalidUUID(t *testing.T) {
	r := newTestRouter(true)
	bids := &BidHandler{}
	contracts := &ContractHandler{}
	wallet := &WalletHandler{}
	projects := &ProjectHandler{}

	r.POST("/bids/:id/accept", bids.Accept)
	r.GET("/contracts/:id", contracts.Get)
	r.POST("/wallet/deposits/:id/confirm", wallet.ConfirmDeposit)
	r.POST("/projects/:id/escrow", projects.Fund)
	r.GET("/projects/:id/settlement", projects.Settlement)

	for _, path := range []string{
		"/bids/not-a-uuid/accept",
		"/contracts/123",
		"/wallet/deposits/abc/confirm",
		"/projects/abc/escrow",
		"/projects/abc/settlement",
	} {
		method := http.MethodPost
		if strings.HasPrefix(path, "/contracts/") || strings.HasSuffix(path, "/settlement") {
			method = http.MethodGet
		}
		req := httptest.NewRequest(method, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestContractHandler_Sign_RequiresFullName(t *testing.T) {
	r := newTestRouter(true)
	h := &ContractHandler{}
	r.POST("/contracts/:id/sign", h.Sign)

	req := httptest.NewRequest(http.MethodPost, "/contracts/"+uuid.NewString()+"/sign", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletHandler_CreateDeposit_MalformedAmount(t *testing.T) {
	r := newTestRouter(true)
	h := &WalletHandler{}
	r.POST("/wallet/deposits", h.CreateDeposit)

	req := httptest.NewRequest(http.MethodPost, "/wallet/deposits", strings.NewReader(`{"amount":"ten"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func newWebhookRouter() *gin.Engine {
	verifier := webhook.NewVerifier(testWebhookSecret, 5*time.Minute)
	reconcile := service.NewReconciliationService(nil, nil, verifier, nil, nil, nil, service.ReconcileConfig{Currency: "usd"})
	h := NewWebhookHandler(reconcile)

	r := newTestRouter(false)
	r.POST("/webhooks/payments", h.Payments)
	return r
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	r := newWebhookRouter()
	body := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded","amount":1000,"currency":"usd"}}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("whsec_other", time.Now(), []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	r := newWebhookRouter()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(`{"id":"evt_1"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_IgnoresUnrelatedEvents(t *testing.T) {
	r := newWebhookRouter()
	body := `{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1"}}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(testWebhookSecret, time.Now(), []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                  `json:"success"`
		Data    service.WebhookResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Ignored)
	assert.Equal(t, "evt_2", resp.Data.EventID)
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	r := newWebhookRouter()
	body := strings.Repeat("a", maxWebhookBody+1)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWSHandler_RequiresToken(t *testing.T) {
	tokens := service.NewTokenManager("test-secret-test-secret-test-secret", time.Minute)
	h := NewWSHandler(nil, tokens, nil)
	r := newTestRouter(false)
	r.GET("/ws", h.Handle)

	for _, path := range []string{"/ws", "/ws?token=garbage"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}
