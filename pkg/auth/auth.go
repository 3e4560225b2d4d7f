package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HeaderName carries the API key on HTTP requests
const HeaderName = "X-API-Key"

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// APIKeyManager validates API keys against bcrypt hashes. Plaintext keys
// are never stored; only the hashes come from configuration.
type APIKeyManager struct {
	mu     sync.RWMutex
	hashes []string
}

// NewAPIKeyManager creates a manager from bcrypt hashes. Invalid hashes are rejected.
func NewAPIKeyManager(hashes []string) (*APIKeyManager, error) {
	m := &APIKeyManager{}
	for _, h := range hashes {
		if err := m.AddHash(h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddHash registers another accepted key hash
func (m *APIKeyManager) AddHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid API key hash: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes = append(m.hashes, hash)
	return nil
}

// Enabled reports whether any key is configured
func (m *APIKeyManager) Enabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes) > 0
}

// Validate checks a presented key against every configured hash
func (m *APIKeyManager) Validate(key string) error {
	if key == "" {
		return ErrMissingKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return nil
		}
	}
	return ErrInvalidKey
}

// Middleware rejects requests without a valid key. Paths in open are served
// without authentication. With no keys configured every request passes.
func (m *APIKeyManager) Middleware(open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled() || isOpen(r.URL.Path, open) {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderName)
			if key == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					key = bearer
				}
			}

			if err := m.Validate(key); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOpen(path string, open []string) bool {
	for _, p := range open {
		if path == p {
			return true
		}
	}
	return false
}

// GenerateAPIKey returns a new random key and its bcrypt hash
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)

	h, err := HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, h, nil
}

// HashAPIKey hashes a key for storage in configuration
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(h), nil
}
