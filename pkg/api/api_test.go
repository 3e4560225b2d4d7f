package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/kappa-rpc/pkg/api"
	"github.com/psantana5/kappa-rpc/pkg/auth"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/engine/enginetest"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/metrics"
	"github.com/psantana5/kappa-rpc/pkg/middleware"
	"github.com/psantana5/kappa-rpc/pkg/models"
	"github.com/psantana5/kappa-rpc/pkg/store"
)

const bindingModel = `%init: 10 A(x[.])
%init: 10 B(x[.])
%obs: 'AB' |A(x[1]), B(x[1])|
A(x[.]), B(x[.]) <-> A(x[1]), B(x[1]) @ 1, 1`

type fixture struct {
	service *api.Service
	history *store.MemoryStore
	router  *mux.Router
	metrics *metrics.Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	history := store.NewMemoryStore(10)
	exporter := metrics.NewExporter()

	orch := engine.NewOrchestrator([]engine.Backend{
		engine.NewExternalBackend(engine.ExternalConfig{Binary: "kasim-definitely-not-installed", WorkDir: t.TempDir()}, nil),
		engine.NewLibraryBackend(enginetest.Loader(&enginetest.FakeLibrary{}), nil),
	}, engine.WithRunSink(history), engine.WithRecorder(exporter))

	service := api.NewService(orch, history, nil)
	service.SetMetricsRecorder(exporter)

	router := mux.NewRouter()
	api.NewHandler(service, exporter).RegisterRoutes(router)
	return &fixture{service: service, history: history, router: router, metrics: exporter}
}

func (f *fixture) rpc(t *testing.T, body string) (int, api.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp api.Response
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decodeResultString(t *testing.T, resp api.Response) models.SimulationResult {
	t.Helper()
	require.Nil(t, resp.Error)
	text, ok := resp.Result.(string)
	require.True(t, ok, "simulate result must be a JSON string, got %T", resp.Result)

	var result models.SimulationResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	return result
}

func simulateBody(t *testing.T, params map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "simulate",
		"params":  params,
	})
	require.NoError(t, err)
	return string(data)
}

func TestRPC_Simulate(t *testing.T) {
	f := newFixture(t)

	code, resp := f.rpc(t, simulateBody(t, map[string]interface{}{
		"model_source":  bindingModel,
		"time_limit":    2.0,
		"sample_points": 20,
		"seed":          42,
	}))
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, "1", string(resp.ID))

	result := decodeResultString(t, resp)
	assert.Empty(t, result.Stderr)
	assert.True(t, strings.HasPrefix(result.Output, "[T],AB\n"), result.Output)

	runs, err := f.history.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "library", runs[0].Backend)
	assert.Equal(t, []string{"external:unavailable", "library:success"}, runs[0].Attempts)
}

func TestRPC_SimulateLegacyParams(t *testing.T) {
	f := newFixture(t)

	_, resp := f.rpc(t, simulateBody(t, map[string]interface{}{
		"kappa_code": bindingModel,
		"time_limit": 1.0,
		"points":     5,
	}))
	result := decodeResultString(t, resp)
	assert.NotEmpty(t, result.Output)

	runs, _ := f.history.List(context.Background(), 1)
	require.Len(t, runs, 1)
	assert.Equal(t, 5, runs[0].SamplePoints)
}

func TestRPC_SimulateFailuresAreResults(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		params map[string]interface{}
		stderr string
	}{
		{"negative time", map[string]interface{}{"model_source": bindingModel, "time_limit": -1}, "Simulation failed:"},
		{"malformed model", map[string]interface{}{"model_source": "This is not valid Kappa code!"}, "Simulation library failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := f.rpc(t, simulateBody(t, tt.params))
			result := decodeResultString(t, resp)
			assert.Empty(t, result.Output)
			assert.Contains(t, result.Stderr, tt.stderr)
		})
	}
}

func TestRPC_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"jsonrpc":"2.0","id":1,`, api.CodeParseError},
		{"unknown method", `{"jsonrpc":"2.0","id":2,"method":"simulate_fast"}`, api.CodeMethodNotFound},
		{"missing model", `{"jsonrpc":"2.0","id":3,"method":"simulate","params":{"time_limit":2}}`, api.CodeInvalidParams},
		{"wrong param type", `{"jsonrpc":"2.0","id":4,"method":"simulate","params":{"model_source":"x","time_limit":"soon"}}`, api.CodeInvalidParams},
		{"bad version", `{"jsonrpc":"1.0","id":5,"method":"simulate"}`, api.CodeInvalidRequest},
		{"unknown resource", `{"jsonrpc":"2.0","id":6,"method":"resources/read","params":{"uri":"kappa://examples/nope"}}`, api.CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := f.rpc(t, tt.body)
			require.Equal(t, http.StatusOK, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code, resp.Error.Message)
		})
	}

	body := testutilBody(t, f)
	assert.Contains(t, body, `kapparpc_rpc_requests_total{method="unknown",status="parse_error"} 1`)
}

func testutilBody(t *testing.T, f *fixture) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestRPC_Notification(t *testing.T) {
	f := newFixture(t)
	status, _ := f.rpc(t, `{"jsonrpc":"2.0","method":"resources/list"}`)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestRPC_Resources(t *testing.T) {
	f := newFixture(t)

	_, resp := f.rpc(t, `{"jsonrpc":"2.0","id":"a","method":"resources/list"}`)
	require.Nil(t, resp.Error)
	list, ok := resp.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "kappa://examples/simple", list[0].(map[string]interface{})["uri"])

	_, resp = f.rpc(t, `{"jsonrpc":"2.0","id":"b","method":"resources/read","params":{"uri":"kappa://examples/polymerization"}}`)
	require.Nil(t, resp.Error)
	res := resp.Result.(map[string]interface{})
	assert.Contains(t, res["text"], "%obs: 'Chains'")
	assert.Equal(t, "text/plain", res["mime_type"])
}

func TestRPC_EnginesList(t *testing.T) {
	f := newFixture(t)

	_, resp := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"engines/list"}`)
	require.Nil(t, resp.Error)
	engines := resp.Result.([]interface{})
	require.Len(t, engines, 2)

	external := engines[0].(map[string]interface{})
	assert.Equal(t, "external", external["name"])
	assert.Equal(t, false, external["available"])
	assert.Equal(t, true, engines[1].(map[string]interface{})["available"])
}

func TestREST_Routes(t *testing.T) {
	f := newFixture(t)

	t.Run("simulate", func(t *testing.T) {
		body := `{"model_source":` + mustJSON(t, bindingModel) + `,"time_limit":1,"sample_points":10}`
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/simulate", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)

		var result models.SimulationResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.NotEmpty(t, result.Output)
	})

	t.Run("simulate without model", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/simulate", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("runs", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?limit=5", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Runs  []models.RunRecord `json:"runs"`
			Count int                `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, 1, body.Count)

		w = httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/"+body.Runs[0].ID, nil))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?limit=-1", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("examples", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/examples/simple", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "kappa://examples/simple")

		w = httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/examples/dimer", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Len(t, body["engines"], 2)
		assert.Contains(t, body, "host")
	})
}

func TestNewRouter_Auth(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	keys, err := auth.NewAPIKeyManager([]string{string(hash)})
	require.NoError(t, err)

	router := api.NewRouter(api.NewHandler(f.service, f.metrics), api.RouterOptions{
		Logger: logging.Discard(),
		Auth:   keys,
	})

	body := `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader), "rejected requests are still logged")

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set(auth.HeaderName, "s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code, "metrics stay open")
}

func TestServeStdio(t *testing.T) {
	f := newFixture(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		``,
		`{"jsonrpc":"2.0","method":"resources/list"}`,
		`not json`,
		simulateBody(t, map[string]interface{}{"model_source": bindingModel, "time_limit": 1}),
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, f.service.ServeStdio(context.Background(), strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "notifications and blank lines get no response")

	var first, second, third api.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.Nil(t, first.Error)
	require.NotNil(t, second.Error)
	assert.Equal(t, api.CodeParseError, second.Error.Code)
	assert.NotEmpty(t, decodeResultString(t, third).Output)
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
