package webhook

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/payment/gateway"
)

const testSecret = "whsec_test"

func fixedVerifier(now time.Time) *Verifier {
	v := NewVerifier(testSecret, 5*time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	err := fixedVerifier(now).Verify(Sign(testSecret, now, body), body)
	assert.NoError(t, err)
}

func TestVerifier_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"id":"evt_1"}`)

	tests := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{"empty header", "", body, ErrMissingSignature},
		{"no v1", "t=" + strconv.FormatInt(now.Unix(), 10), body, ErrMissingSignature},
		{"garbage timestamp", "t=abc,v1=00", body, ErrMissingSignature},
		{"wrong secret", Sign("other", now, body), body, ErrInvalidSignature},
		{"tampered body", Sign(testSecret, now, body), []byte(`{"id":"evt_2"}`), ErrInvalidSignature},
		{"stale", Sign(testSecret, now.Add(-10*time.Minute), body), body, ErrStaleTimestamp},
		{"from the future", Sign(testSecret, now.Add(10*time.Minute), body), body, ErrStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fixedVerifier(now).Verify(tt.header, tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifier_AcceptsAnyOfSeveralSignatures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	header := Sign(testSecret, now, body) + ",v1=deadbeef"

	assert.NoError(t, fixedVerifier(now).Verify(header, body))
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "pi_1", "status": "succeeded", "amount": 50000, "currency": "USD",
			"metadata": {"owner_id": "u1"}}}
	}`)

	event, err := ParseEvent(body)
	require.NoError(t, err)
	assert.True(t, event.Supported())
	assert.Equal(t, "pi_1", event.Intent.ID)
	assert.Equal(t, gateway.IntentStatusSucceeded, event.Intent.Status)
	assert.Equal(t, "500", event.Intent.Amount.String())
	assert.Equal(t, "usd", event.Intent.Currency)
	assert.Equal(t, "u1", event.Intent.Metadata[gateway.MetadataOwnerID])
}

func TestParseEvent_UnsupportedAndMalformed(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`))
	require.NoError(t, err)
	assert.False(t, event.Supported())

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
