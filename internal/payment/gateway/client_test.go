package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestClient_CreateIntent_SendsFormAndIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "dep-key-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "125050", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "owner-1", r.PostForm.Get("metadata[owner_id]"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_123",
			"client_secret": "pi_123_secret",
			"status":        "requires_payment_method",
			"amount":        125050,
			"currency":      "usd",
			"metadata":      map[string]string{"owner_id": "owner-1"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test", time.Second)
	intent, err := client.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:         decimal.RequireFromString("1250.50"),
		Currency:       "USD",
		Metadata:       map[string]string{MetadataOwnerID: "owner-1"},
		IdempotencyKey: "dep-key-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.True(t, intent.Amount.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, "owner-1", intent.Metadata[MetadataOwnerID])
}

func TestClient_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, apperror.IsGatewayTransient},
		{"server error", http.StatusBadGateway, apperror.IsGatewayTransient},
		{"bad key", http.StatusUnauthorized, apperror.IsGatewayAuth},
		{"forbidden key", http.StatusForbidden, apperror.IsGatewayAuth},
		{"card declined", http.StatusPaymentRequired, apperror.IsGatewayRejected},
		{"invalid request", http.StatusBadRequest, apperror.IsGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"x","message":"declined"}}`))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "sk", time.Second).RetrieveIntent(context.Background(), "pi_1")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "sk", time.Second).RetrieveIntent(context.Background(), "pi_1")
	assert.True(t, apperror.IsGatewayTransient(err))
}

func TestClient_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk", 20*time.Millisecond).RetrieveIntent(context.Background(), "pi_1")
	assert.True(t, apperror.IsGatewayTransient(err))
}

func TestRetryingClient_RetriesOnlyTransientRetrieve(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":1000,"currency":"usd"}`))
	}))
	defer srv.Close()

	client := NewRetryingClient(NewClient(srv.URL, "sk", time.Second), 3, time.Millisecond)
	intent, err := client.RetrieveIntent(context.Background(), "pi_1")

	require.NoError(t, err)
	assert.Equal(t, IntentStatusSucceeded, intent.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryingClient_GivesUpAfterAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRetryingClient(NewClient(srv.URL, "sk", time.Second), 3, time.Millisecond)
	_, err := client.RetrieveIntent(context.Background(), "pi_1")

	assert.True(t, apperror.IsGatewayTransient(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryingClient_DoesNotRetryCreateOrRejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewRetryingClient(NewClient(srv.URL, "sk", time.Second), 3, time.Millisecond)

	_, err := client.CreateIntent(context.Background(), CreateIntentRequest{Amount: decimal.NewFromInt(10), Currency: "usd"})
	assert.True(t, apperror.IsGatewayTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = client.RetrieveIntent(context.Background(), "pi_missing")
	assert.True(t, apperror.IsGatewayRejected(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSandbox_IdempotentCreateAndStatusChanges(t *testing.T) {
	sb := NewSandbox(false)
	req := CreateIntentRequest{Amount: decimal.NewFromInt(100), Currency: "usd", IdempotencyKey: "k1"}

	first, err := sb.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := sb.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, IntentStatusRequiresPaymentMethod, first.Status)

	require.NoError(t, sb.Succeed(first.ID))
	got, err := sb.RetrieveIntent(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentStatusSucceeded, got.Status)

	sb.FailNext(opRetrieveIntent, apperror.New(apperror.ErrCodeGatewayTransient, "down"))
	_, err = sb.RetrieveIntent(context.Background(), first.ID)
	assert.True(t, apperror.IsGatewayTransient(err))
}
