package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		header  string
		status  int
		message string
	}{
		{"missing key", "s3cret", "", http.StatusUnauthorized, "missing API key"},
		{"wrong key", "s3cret", "guess", http.StatusUnauthorized, "invalid API key"},
		{"prefix of key", "s3cret", "s3c", http.StatusUnauthorized, "invalid API key"},
		{"no token configured", "", "anything", http.StatusUnauthorized, "invalid API key"},
		{"valid key", "s3cret", "s3cret", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()

			Auth(tt.token)(okHandler()).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.message, body["error"])
			}
		})
	}
}
