package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/kappa-rpc/pkg/auth"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/examples"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/metrics"
	"github.com/psantana5/kappa-rpc/pkg/middleware"
	"github.com/psantana5/kappa-rpc/pkg/ratelimit"
	"github.com/psantana5/kappa-rpc/pkg/store"
	"github.com/psantana5/kappa-rpc/pkg/tracing"
)

// Handler serves the RPC endpoint and the REST convenience routes
type Handler struct {
	service *Service
	metrics http.Handler
	// hostStats toggles the gopsutil snapshot on /health
	hostStats bool
}

// NewHandler creates an HTTP handler for the service. metricsHandler may be nil.
func NewHandler(service *Service, metricsHandler http.Handler) *Handler {
	return &Handler{service: service, metrics: metricsHandler, hostStats: true}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/rpc", h.RPC).Methods("POST")
	r.HandleFunc("/simulate", h.Simulate).Methods("POST")
	r.HandleFunc("/examples", h.ListExamples).Methods("GET")
	r.HandleFunc("/examples/{name}", h.GetExample).Methods("GET")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
}

// RouterOptions selects the middleware wrapped around every route
type RouterOptions struct {
	Logger  *logging.Logger
	Tracing *tracing.Provider
	Auth    *auth.APIKeyManager
	Limiter *ratelimit.Limiter
}

// NewRouter builds the router with middleware in order: request log,
// tracing, auth, rate limit
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}
	if opts.Tracing != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracing))
	}
	if opts.Auth != nil {
		r.Use(opts.Auth.Middleware("/health", "/metrics"))
	}
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware(ratelimit.ClientKeyFunc))
	}
	h.RegisterRoutes(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// RPC handles one JSON-RPC frame per request
func (h *Handler) RPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	resp := h.service.Dispatcher().HandleFrame(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// Simulate runs a simulation and returns the result as a JSON object
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var params SimulateParams
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameSize)).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := params.Request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.(*Error).Message)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Simulate(r.Context(), req))
}

// ListExamples returns the example resources
func (h *Handler) ListExamples(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, examples.List())
}

// GetExample returns one example with its model text
func (h *Handler) GetExample(w http.ResponseWriter, r *http.Request) {
	res, err := examples.Get(mux.Vars(r)["name"])
	if errors.Is(err, examples.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Example not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListRuns returns recent run history, newest first
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.service.history.List(r.Context(), limit)
	if err != nil {
		h.service.logger.Error("Failed to list runs", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns one run record
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.history.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Health reports backend availability and host load
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"engines": engine.Describe(h.service.sim.Backends()),
	}
	if h.hostStats {
		resp["host"] = metrics.SnapshotHost(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}
