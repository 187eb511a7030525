package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JonMunkholm/BridgeIntake/internal/config"
	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// echoActor writes the resolved actor as the body.
var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(core.GetActorFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{
		RequireAPIKey: true,
		APIKeys:       []string{"division=div-secret", " hq = hq-secret ", "bare-secret"},
	}
	h := APIKeyAuth(cfg)(echoActor)

	tests := []struct {
		name       string
		key        string
		actor      string
		wantStatus int
		wantBody   string
	}{
		{"missing key", "", "", http.StatusUnauthorized, ""},
		{"invalid key", "nope", "", http.StatusForbidden, ""},
		{"named key", "div-secret", "ignored", http.StatusOK, "division"},
		{"trimmed named key", "hq-secret", "", http.StatusOK, "hq"},
		{"bare key uses header", "bare-secret", "alice", http.StatusOK, "alice"},
		{"bare key default", "bare-secret", "", http.StatusOK, "api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/submissions", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			if tt.actor != "" {
				req.Header.Set(ActorHeader, tt.actor)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantBody {
				t.Errorf("actor = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth(&config.SecurityConfig{})(echoActor)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "bob" {
		t.Errorf("got %d %q, want 200 \"bob\"", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	h := APIKeyAuth(&config.SecurityConfig{RequireAPIKey: true})(echoActor)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestTrustedRealIP(t *testing.T) {
	h := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(r.RemoteAddr))
		}))

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted keeps remote", "203.0.113.9:5555", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.9:5555"},
		{"trusted cidr real ip", "10.1.2.3:5555", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted single ip xff", "192.168.1.5:80", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.1.1.1"}, "5.6.7.8"},
		{"trusted invalid header", "10.1.2.3:5555", map[string]string{"X-Real-IP": "garbage"}, "10.1.2.3:5555"},
		{"trusted no header", "10.1.2.3:5555", nil, "10.1.2.3:5555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger_CapturesStatus(t *testing.T) {
	var ww *responseWriter
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if ww.status != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d (recorded %d), want %d", ww.status, rec.Code, http.StatusTeapot)
	}
	if _, ok := ww.Unwrap().(*httptest.ResponseRecorder); !ok {
		t.Error("Unwrap() did not return the underlying writer")
	}
}
