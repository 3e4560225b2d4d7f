package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/kappa-rpc/internal/observe"
	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

const tracerName = "github.com/psantana5/kappa-rpc/pkg/engine"

// Recorder is an interface for recording orchestration metrics
type Recorder interface {
	RecordAttempt(backend string, kind models.OutcomeKind, d time.Duration)
	RecordRun(record models.RunRecord)
}

// RunSink receives one record per finished call (run history)
type RunSink interface {
	Record(ctx context.Context, record models.RunRecord) error
}

// Orchestrator tries an ordered list of backends and folds their outcomes
// into a single result. It never returns an error and never panics.
type Orchestrator struct {
	backends []Backend
	logger   *logging.Logger
	recorder Recorder
	sink     RunSink
	tracer   trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRunSink sets where run records are sent
func WithRunSink(s RunSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithTracer overrides the tracer (default: global provider)
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates an orchestrator that tries backends in the given order
func NewOrchestrator(backends []Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backends: backends,
		logger:   logging.Discard(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backends returns the backends in the order they are tried
func (o *Orchestrator) Backends() []Backend {
	out := make([]Backend, len(o.backends))
	copy(out, o.backends)
	return out
}

// Simulate runs model source with the given parameters. A nil seed leaves
// the run non-reproducible; zero timeLimit/samplePoints select defaults.
func (o *Orchestrator) Simulate(ctx context.Context, modelSource string, timeLimit float64, samplePoints int, seed *int64) models.SimulationResult {
	return o.Run(ctx, models.SimulationRequest{
		ModelSource:  modelSource,
		TimeLimit:    timeLimit,
		SamplePoints: samplePoints,
		Seed:         seed,
	})
}

// Run executes one simulation call. Backends are tried in order until one
// succeeds or times out; when every backend is exhausted the last attempt's
// result is returned.
func (o *Orchestrator) Run(ctx context.Context, req models.SimulationRequest) (result models.SimulationResult) {
	timing := observe.NewTiming()
	record := models.RunRecord{
		ID:           uuid.New().String(),
		StartedAt:    timing.StartedAt,
		TimeLimit:    req.TimeLimit,
		SamplePoints: req.SamplePoints,
		Seed:         req.Seed,
		ModelDigest:  digest(req.ModelSource),
	}
	logger := o.logger.WithField("run_id", record.ID)

	ctx, span := o.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("run.id", record.ID),
		attribute.Int("model.bytes", len(req.ModelSource)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Simulation orchestration panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			result = models.FailureResult("", fmt.Sprintf("Simulation failed: %v", r))
			record.Outcome = models.OutcomeFailed
		}

		timing.Complete()
		record.Duration = timing.Duration()
		record.OutputBytes = len(result.Output)
		if record.Outcome != models.OutcomeSuccess {
			record.Error = firstLine(result.Stderr)
			span.SetStatus(codes.Error, record.Error)
		}
		span.SetAttributes(
			attribute.String("run.backend", record.Backend),
			attribute.String("run.outcome", string(record.Outcome)),
		)
		o.finish(ctx, logger, record)
	}()

	norm, err := Normalize(req)
	if err != nil {
		record.Outcome = models.OutcomeInvalid
		return models.FailureResult("", "Simulation failed: "+err.Error())
	}
	record.TimeLimit = norm.TimeLimit
	record.SamplePoints = norm.SamplePoints

	if len(o.backends) == 0 {
		record.Outcome = models.OutcomeUnavailable
		return models.FailureResult("", "Simulation failed: no simulation backends configured")
	}

	var last Outcome
	for i, b := range o.backends {
		last = o.attempt(ctx, logger, timing, b, norm)
		record.Backend = b.Name()
		record.Outcome = last.Kind
		record.Attempts = append(record.Attempts, b.Name()+":"+string(last.Kind))

		if last.Kind.Terminal() {
			break
		}
		if i < len(o.backends)-1 {
			logger.Info("Falling back to next backend", map[string]interface{}{
				"from":   b.Name(),
				"to":     o.backends[i+1].Name(),
				"reason": errString(last.Reason),
			})
		}
	}

	return last.Result
}

// attempt runs one backend inside its own span
func (o *Orchestrator) attempt(ctx context.Context, logger *logging.Logger, timing *observe.Timing, b Backend, req models.SimulationRequest) Outcome {
	ctx, span := o.tracer.Start(ctx, "backend."+b.Name(), trace.WithAttributes(
		attribute.String("backend.name", b.Name()),
		attribute.Float64("simulation.time_limit", req.TimeLimit),
		attribute.Int("simulation.sample_points", req.SamplePoints),
	))
	defer span.End()

	stop := timing.Begin(b.Name())
	out := b.Execute(ctx, req)
	d := stop()

	span.SetAttributes(attribute.String("backend.outcome", string(out.Kind)))
	if out.Reason != nil {
		span.RecordError(out.Reason)
	}
	if out.Kind != models.OutcomeSuccess {
		span.SetStatus(codes.Error, string(out.Kind))
	}

	if o.recorder != nil {
		o.recorder.RecordAttempt(b.Name(), out.Kind, d)
	}

	logger.Debug("Backend attempt finished", map[string]interface{}{
		"backend":  b.Name(),
		"outcome":  string(out.Kind),
		"duration": d.String(),
		"reason":   errString(out.Reason),
	})
	return out
}

// finish logs the one-line summary and hands the record to metrics and history
func (o *Orchestrator) finish(ctx context.Context, logger *logging.Logger, record models.RunRecord) {
	logger.Info("Simulation finished", map[string]interface{}{
		"backend":  record.Backend,
		"outcome":  string(record.Outcome),
		"attempts": strings.Join(record.Attempts, ","),
		"duration": record.Duration.String(),
	})

	if o.recorder != nil {
		o.recorder.RecordRun(record)
	}
	if o.sink != nil {
		// History must never change the result, so failures are only logged
		if err := o.sink.Record(context.WithoutCancel(ctx), record); err != nil {
			logger.Warn("Failed to record run", map[string]interface{}{"error": err.Error()})
		}
	}
}

func digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
