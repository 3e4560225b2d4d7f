package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testHash(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(h)
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}
	if len(key) < 40 {
		t.Errorf("key too short: %q", key)
	}

	m, err := NewAPIKeyManager([]string{hash})
	if err != nil {
		t.Fatalf("NewAPIKeyManager() error: %v", err)
	}
	if err := m.Validate(key); err != nil {
		t.Errorf("generated key did not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	m, err := NewAPIKeyManager([]string{testHash(t, "alpha"), testHash(t, "beta")})
	if err != nil {
		t.Fatalf("NewAPIKeyManager() error: %v", err)
	}

	if err := m.Validate("beta"); err != nil {
		t.Errorf("Validate(beta) = %v", err)
	}
	if err := m.Validate("gamma"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate(gamma) = %v, want ErrInvalidKey", err)
	}
	if err := m.Validate(""); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Validate(\"\") = %v, want ErrMissingKey", err)
	}

	if _, err := NewAPIKeyManager([]string{"not-a-hash"}); err == nil {
		t.Error("invalid hash should be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	m, err := NewAPIKeyManager([]string{testHash(t, "alpha")})
	if err != nil {
		t.Fatalf("NewAPIKeyManager() error: %v", err)
	}
	handler := m.Middleware("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"no key", "/rpc", nil, http.StatusUnauthorized},
		{"wrong key", "/rpc", map[string]string{HeaderName: "nope"}, http.StatusUnauthorized},
		{"header key", "/rpc", map[string]string{HeaderName: "alpha"}, http.StatusOK},
		{"bearer key", "/rpc", map[string]string{"Authorization": "Bearer alpha"}, http.StatusOK},
		{"open path", "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	var m *APIKeyManager
	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}
