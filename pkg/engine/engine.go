package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/models"
)

// Backend represents a simulation engine (external KaSim binary, in-process library, etc.)
type Backend interface {
	// Name returns the backend name
	Name() string

	// Execute runs the request once. It never panics on engine failures;
	// everything is reported through the returned Outcome.
	Execute(ctx context.Context, req models.SimulationRequest) Outcome
}

// BackendType identifies a backend implementation
type BackendType string

const (
	BackendTypeExternal BackendType = "external"
	BackendTypeLibrary  BackendType = "library"
)

// DefaultOrder is the order backends are tried in: fast external process first
var DefaultOrder = []BackendType{BackendTypeExternal, BackendTypeLibrary}

// DefaultTimeout is the wall-clock limit for one external process run
const DefaultTimeout = 5 * time.Minute

var (
	// ErrUnavailable marks a backend that cannot run on this host (binary or library missing)
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout marks a run that exceeded its wall-clock limit
	ErrTimeout = errors.New("simulation timed out")

	// ErrInvalidRequest marks run parameters that cannot be handed to a backend
	ErrInvalidRequest = errors.New("invalid simulation request")
)

// Outcome is the tagged result of a single backend attempt
type Outcome struct {
	Kind   models.OutcomeKind
	Result models.SimulationResult
	Reason error
}

// Success wraps a finished run
func Success(result models.SimulationResult) Outcome {
	return Outcome{Kind: models.OutcomeSuccess, Result: result}
}

// Unavailable reports that the backend cannot run at all. The result
// carries the message shown to the caller if no later backend succeeds.
func Unavailable(result models.SimulationResult, reason error) Outcome {
	return Outcome{Kind: models.OutcomeUnavailable, Result: result, Reason: fmt.Errorf("%w: %v", ErrUnavailable, reason)}
}

// Failed reports that the backend ran and failed for this model
func Failed(result models.SimulationResult, reason error) Outcome {
	return Outcome{Kind: models.OutcomeFailed, Result: result, Reason: reason}
}

// TimedOut reports a run killed at its wall-clock limit
func TimedOut(limit time.Duration) Outcome {
	return Outcome{
		Kind:   models.OutcomeTimeout,
		Result: models.FailureResult("", TimeoutMessage(limit)),
		Reason: fmt.Errorf("%w after %s", ErrTimeout, limit),
	}
}

// TimeoutMessage is the diagnostic reported for a timed out run,
// e.g. "Simulation timed out after 5 minutes"
func TimeoutMessage(limit time.Duration) string {
	return "Simulation timed out after " + humanDuration(limit)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	case d >= time.Second && d%time.Second == 0:
		return plural(int64(d/time.Second), "second")
	default:
		return d.String()
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
