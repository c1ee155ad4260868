package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/freelance-escrow/internal/config"
)

func clientIPOf(t *testing.T, cfg *config.Config, remoteAddr, forwardedFor string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := newEngine(cfg)
	r.GET("/ip", func(c *gin.Context) {
		c.String(http.StatusOK, c.ClientIP())
	})

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Body.String()
}

func TestNewEngine_ClientIP(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		remote  string
		want    string
	}{
		{"no trusted proxies ignores header", nil, "203.0.113.7:5123", "203.0.113.7"},
		{"untrusted peer ignores header", []string{"10.0.0.0/8"}, "203.0.113.7:5123", "203.0.113.7"},
		{"trusted proxy forwards client", []string{"10.0.0.0/8"}, "10.1.2.3:5123", "198.51.100.20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{TrustedProxies: tt.proxies}
			assert.Equal(t, tt.want, clientIPOf(t, cfg, tt.remote, "198.51.100.20"))
		})
	}
}
