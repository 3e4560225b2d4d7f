package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

// Library is an in-process Kappa simulation library. It is treated as a
// black box: it parses model source into a System and steps it.
type Library interface {
	// Name identifies the library in logs and engine listings
	Name() string

	// FromSource parses model source and builds a simulated system.
	// This is where malformed models are rejected.
	FromSource(source string, opts SystemOptions) (System, error)
}

// SystemOptions carries everything request-scoped a library may need.
// Libraries must draw randomness from Rand and write diagnostics to
// Stdout/Stderr instead of process-wide state.
type SystemOptions struct {
	Rand         *rand.Rand
	Stdout       io.Writer
	Stderr       io.Writer
	SamplePoints int // advisory; the orchestrator does not resample
}

// System is a simulated reaction network
type System interface {
	// Update advances the system by one stochastic event
	Update() error

	// Time returns the current simulated time
	Time() float64

	// Observables returns the tracked observables, one row per sample
	Observables() (*Table, error)
}

// Loader resolves the library at call time
type Loader interface {
	Load() (Library, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func() (Library, error)

// Load calls f
func (f LoaderFunc) Load() (Library, error) {
	return f()
}

// LibraryBackend runs the simulation in-process through a Library
type LibraryBackend struct {
	loader Loader
	logger *logging.Logger

	mu     sync.Mutex
	cached Library

	// seedSource provides seeds when a request has none; overridable in tests
	seedSource func() int64
}

// NewLibraryBackend creates a new in-process library backend
func NewLibraryBackend(loader Loader, logger *logging.Logger) *LibraryBackend {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LibraryBackend{
		loader:     loader,
		logger:     logger,
		seedSource: func() int64 { return time.Now().UnixNano() },
	}
}

// Name returns the backend name
func (b *LibraryBackend) Name() string {
	return string(BackendTypeLibrary)
}

// Available checks if the library can be loaded
func (b *LibraryBackend) Available() error {
	_, err := b.library()
	return err
}

// library returns the cached library, loading it on first use.
// Failed loads are not cached so a library installed later is picked up.
func (b *LibraryBackend) library() (Library, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil {
		return b.cached, nil
	}
	if b.loader == nil {
		return nil, errors.New("no simulation library configured")
	}

	lib, err := b.loader.Load()
	if err != nil {
		return nil, err
	}
	if lib == nil {
		return nil, errors.New("loader returned no library")
	}
	b.cached = lib
	b.logger.Info("Simulation library loaded", map[string]interface{}{"library": lib.Name()})
	return lib, nil
}

// Execute parses the model, steps the system until its simulated time
// reaches the time limit and serializes the observables to CSV
func (b *LibraryBackend) Execute(ctx context.Context, req models.SimulationRequest) (outcome Outcome) {
	lib, err := b.library()
	if err != nil {
		return Unavailable(models.FailureResult("", DependencyMissingMessage(err)), err)
	}

	seed := b.seedSource()
	if req.Seed != nil {
		seed = *req.Seed
	}

	var stdout, stderr bytes.Buffer
	opts := SystemOptions{
		Rand:         rand.New(rand.NewSource(seed)),
		Stdout:       &stdout,
		Stderr:       &stderr,
		SamplePoints: req.SamplePoints,
	}

	stage := "parse"
	steps := 0
	var sys System

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%s: panic during %s: %v\n%s", libraryFailurePrefix, stage, r, debug.Stack())
			outcome = Failed(models.FailureResult(stdout.String(), msg), fmt.Errorf("library panic during %s: %v", stage, r))
		}
	}()

	sys, err = lib.FromSource(req.ModelSource, opts)
	if err != nil {
		return b.failure(&stdout, stage, 0, 0, err)
	}

	stage = "update"
	for sys.Time() < req.TimeLimit {
		if err := ctx.Err(); err != nil {
			return b.failure(&stdout, stage, steps, sys.Time(), fmt.Errorf("simulation canceled: %w", err))
		}
		if err := sys.Update(); err != nil {
			return b.failure(&stdout, stage, steps, sys.Time(), err)
		}
		steps++
	}

	stage = "observables"
	table, err := sys.Observables()
	if err != nil {
		return b.failure(&stdout, stage, steps, sys.Time(), err)
	}

	csvText, err := table.CSV()
	if err != nil {
		return b.failure(&stdout, stage, steps, sys.Time(), err)
	}

	b.logger.Debug("Library simulation finished", map[string]interface{}{
		"library": lib.Name(),
		"steps":   steps,
		"time":    sys.Time(),
		"rows":    len(table.Rows),
	})

	return Success(models.SimulationResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Output: csvText,
	})
}

// failure reports a parse or runtime error with the partial stdout captured so far
func (b *LibraryBackend) failure(stdout *bytes.Buffer, stage string, steps int, simTime float64, err error) Outcome {
	msg := fmt.Sprintf("%s: %v\n%s", libraryFailurePrefix, err, errorTrace(err, stage, steps, simTime))
	return Failed(models.FailureResult(stdout.String(), msg), fmt.Errorf("library %s: %w", stage, err))
}

const libraryFailurePrefix = "Simulation library failed"

// DependencyMissingMessage explains a library that cannot be loaded and how to fix it
func DependencyMissingMessage(err error) string {
	return fmt.Sprintf("Failed to load simulation library: %v. Please install a Kappa simulation library plugin "+
		"(set engine.library.plugin) or install KaSim and put it on PATH", err)
}

// errorTrace renders where the failure happened followed by the error chain,
// innermost last
func errorTrace(err error, stage string, steps int, simTime float64) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Trace (stage=%s, steps=%d, time=%g):\n", stage, steps, simTime)
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&buf, "  #%d %T: %v\n", depth, e, e)
		depth++
	}
	return buf.String()
}
