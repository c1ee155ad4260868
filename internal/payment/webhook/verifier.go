package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader заголовок с подписью события: "t=<unix>,v1=<hex>".
const SignatureHeader = "Payment-Signature"

var (
	ErrMissingSignature = errors.New("webhook: signature header is missing or malformed")
	ErrInvalidSignature = errors.New("webhook: signature mismatch")
	ErrStaleTimestamp   = errors.New("webhook: timestamp outside tolerance")
)

// Verifier проверяет подпись HMAC-SHA256 над "timestamp.body" общим секретом.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier создаёт проверку подписи. Нулевой tolerance отключает проверку времени.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify проверяет заголовок подписи до любого разбора тела.
func (v *Verifier) Verify(header string, body []byte) error {
	timestamp, signatures := parseHeader(header)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(signatures) == 0 {
		return ErrMissingSignature
	}

	expected := computeSignature(v.secret, timestamp, body)
	valid := false
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			valid = true
			break
		}
	}
	if !valid {
		return ErrInvalidSignature
	}

	if v.tolerance > 0 {
		skew := v.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return ErrStaleTimestamp
		}
	}
	return nil
}

// Sign формирует значение заголовка подписи. Используется шлюзом-песочницей и в тестах.
func Sign(secret string, at time.Time, body []byte) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(computeSignature([]byte(secret), timestamp, body))
}

func computeSignature(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

func parseHeader(header string) (string, []string) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch {
		case key == "t" && timestamp == "":
			timestamp = val
		case key == "v1" && val != "":
			signatures = append(signatures, val)
		}
	}
	return timestamp, signatures
}
