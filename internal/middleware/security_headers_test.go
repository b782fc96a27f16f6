package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SecurityHeadersConfig
		wantHSTS bool
	}{
		{"HTTP配信", SecurityHeadersConfig{}, false},
		{"HTTPS配信", SecurityHeadersConfig{HSTS: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSecurityHeadersMiddleware(tt.cfg)(okHandler())
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			want := map[string]string{
				"X-Content-Type-Options":  "nosniff",
				"X-Frame-Options":         "DENY",
				"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
				"Referrer-Policy":         "strict-origin-when-cross-origin",
			}
			for k, v := range want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}

			hsts := w.Header().Get("Strict-Transport-Security")
			if (hsts != "") != tt.wantHSTS {
				t.Errorf("Strict-Transport-Security = %q, wantHSTS %v", hsts, tt.wantHSTS)
			}
		})
	}
}
