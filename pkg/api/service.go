package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/examples"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
	"github.com/psantana5/kappa-rpc/pkg/store"
)

// Method names
const (
	MethodSimulate      = "simulate"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodEnginesList   = "engines/list"
)

// Simulator runs one simulation call
type Simulator interface {
	Run(ctx context.Context, req models.SimulationRequest) models.SimulationResult
	Backends() []engine.Backend
}

// MetricsRecorder counts RPC requests
type MetricsRecorder interface {
	RecordRPC(method, status string)
}

// Service exposes the simulator and example resources over JSON-RPC
type Service struct {
	sim        Simulator
	history    store.Store
	logger     *logging.Logger
	dispatcher *Dispatcher
}

// NewService creates the service. history may be nil.
func NewService(sim Simulator, history store.Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if history == nil {
		history = store.NopStore{}
	}

	s := &Service{sim: sim, history: history, logger: logger, dispatcher: NewDispatcher()}
	s.dispatcher.Register(MethodSimulate, s.simulate)
	s.dispatcher.Register(MethodResourcesList, s.listResources)
	s.dispatcher.Register(MethodResourcesRead, s.readResource)
	s.dispatcher.Register(MethodEnginesList, s.listEngines)
	return s
}

// SetMetricsRecorder sets the metrics recorder for RPC requests
func (s *Service) SetMetricsRecorder(recorder MetricsRecorder) {
	if recorder == nil {
		s.dispatcher.observe = nil
		return
	}
	s.dispatcher.observe = recorder.RecordRPC
}

// Dispatcher returns the JSON-RPC dispatcher
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// SimulateParams accepts both the current and the legacy parameter names
type SimulateParams struct {
	ModelSource  string   `json:"model_source"`
	KappaCode    string   `json:"kappa_code"`
	TimeLimit    *float64 `json:"time_limit"`
	SamplePoints *int     `json:"sample_points"`
	Points       *int     `json:"points"`
	Seed         *int64   `json:"seed"`
}

// Request converts the params into a simulation request. Omitted values
// stay zero so the orchestrator applies its defaults; out-of-range values
// are left for the orchestrator to report in the result.
func (p SimulateParams) Request() (models.SimulationRequest, error) {
	req := models.SimulationRequest{ModelSource: p.ModelSource, Seed: p.Seed}
	if req.ModelSource == "" {
		req.ModelSource = p.KappaCode
	}
	if req.ModelSource == "" {
		return req, invalidParams("model_source is required")
	}

	if p.TimeLimit != nil {
		req.TimeLimit = *p.TimeLimit
	}
	if p.SamplePoints != nil {
		req.SamplePoints = *p.SamplePoints
	} else if p.Points != nil {
		req.SamplePoints = *p.Points
	}
	return req, nil
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return invalidParams("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

// Simulate runs a request. Simulation failures are reported in the result,
// never as errors.
func (s *Service) Simulate(ctx context.Context, req models.SimulationRequest) models.SimulationResult {
	return s.sim.Run(ctx, req)
}

// simulate returns the result as a JSON string, matching the tool contract
// of MCP-style clients
func (s *Service) simulate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params SimulateParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	req, err := params.Request()
	if err != nil {
		return nil, err
	}
	return s.Simulate(ctx, req).JSON(), nil
}

func (s *Service) listResources(context.Context, json.RawMessage) (interface{}, error) {
	return examples.List(), nil
}

type readParams struct {
	URI string `json:"uri"`
}

func (s *Service) readResource(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var params readParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	res, err := examples.Read(params.URI)
	if errors.Is(err, examples.ErrNotFound) {
		return nil, invalidParams("unknown resource: %s", params.URI)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) listEngines(context.Context, json.RawMessage) (interface{}, error) {
	return engine.Describe(s.sim.Backends()), nil
}
