package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(&buf)

	var seen string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/examples", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), "HTTP request rejected")
	assert.Contains(t, buf.String(), "/examples")
}

func TestRequestLogger_KeepsCallerID(t *testing.T) {
	handler := RequestLogger(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r)))
	}))

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set(RequestIDHeader, "trace-me")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "trace-me", rr.Body.String())
	assert.Equal(t, "trace-me", rr.Header().Get(RequestIDHeader))
}
