package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

const (
	// StagingPattern names per-call staging directories under the work dir
	StagingPattern = "kappa-run-*"

	modelFileName  = "model.ka"
	outputFileName = "output.csv"

	// waitDelay bounds how long Wait drains pipes after the process is killed
	waitDelay = 5 * time.Second
)

// ExternalConfig describes how to launch the external simulator binary
type ExternalConfig struct {
	Binary     string        `mapstructure:"binary" yaml:"binary"`
	WorkDir    string        `mapstructure:"work_dir" yaml:"work_dir"` // empty = os.TempDir()
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InputFlag  string        `mapstructure:"input_flag" yaml:"input_flag"`
	OutputFlag string        `mapstructure:"output_flag" yaml:"output_flag"`
	TimeFlag   string        `mapstructure:"time_flag" yaml:"time_flag"`
	PointsFlag string        `mapstructure:"points_flag" yaml:"points_flag"`
	SeedFlag   string        `mapstructure:"seed_flag" yaml:"seed_flag"`
	ExtraArgs  []string      `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// DefaultExternalConfig returns the KaSim command line conventions
func DefaultExternalConfig() ExternalConfig {
	return ExternalConfig{
		Binary:     "KaSim",
		Timeout:    DefaultTimeout,
		InputFlag:  "-i",
		OutputFlag: "-o",
		TimeFlag:   "-l",
		PointsFlag: "-p",
		SeedFlag:   "-seed",
	}
}

// ExternalBackend runs the simulation in a separate KaSim-compatible process
type ExternalBackend struct {
	cfg    ExternalConfig
	logger *logging.Logger
}

// NewExternalBackend creates a new external process backend.
// Unset fields fall back to DefaultExternalConfig.
func NewExternalBackend(cfg ExternalConfig, logger *logging.Logger) *ExternalBackend {
	def := DefaultExternalConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.InputFlag == "" {
		cfg.InputFlag = def.InputFlag
	}
	if cfg.OutputFlag == "" {
		cfg.OutputFlag = def.OutputFlag
	}
	if cfg.TimeFlag == "" {
		cfg.TimeFlag = def.TimeFlag
	}
	if cfg.PointsFlag == "" {
		cfg.PointsFlag = def.PointsFlag
	}
	if cfg.SeedFlag == "" {
		cfg.SeedFlag = def.SeedFlag
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ExternalBackend{cfg: cfg, logger: logger}
}

// Name returns the backend name
func (e *ExternalBackend) Name() string {
	return string(BackendTypeExternal)
}

// Config returns the effective configuration
func (e *ExternalBackend) Config() ExternalConfig {
	return e.cfg
}

// Available checks if the simulator binary can be found
func (e *ExternalBackend) Available() error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// BuildCommand generates the simulator command line arguments
func (e *ExternalBackend) BuildCommand(inputPath, outputPath string, req models.SimulationRequest) []string {
	args := []string{
		e.cfg.InputFlag, inputPath,
		e.cfg.OutputFlag, outputPath,
		e.cfg.TimeFlag, strconv.FormatFloat(req.TimeLimit, 'g', -1, 64),
		e.cfg.PointsFlag, strconv.Itoa(req.SamplePoints),
	}
	if req.Seed != nil {
		args = append(args, e.cfg.SeedFlag, strconv.FormatInt(*req.Seed, 10))
	}
	return append(args, e.cfg.ExtraArgs...)
}

// Execute stages the model in a scoped directory, runs the binary under a
// hard wall-clock limit and reads back the CSV it produced
func (e *ExternalBackend) Execute(ctx context.Context, req models.SimulationRequest) Outcome {
	dir, err := os.MkdirTemp(e.cfg.WorkDir, StagingPattern)
	if err != nil {
		err = fmt.Errorf("failed to create staging directory: %w", err)
		return Failed(models.FailureResult("", err.Error()), err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			e.logger.Warn("Failed to remove staging directory", map[string]interface{}{"dir": dir, "error": rmErr.Error()})
		}
	}()

	inputPath := filepath.Join(dir, modelFileName)
	outputPath := filepath.Join(dir, outputFileName)
	if err := os.WriteFile(inputPath, []byte(req.ModelSource), 0o600); err != nil {
		err = fmt.Errorf("failed to write model file: %w", err)
		return Failed(models.FailureResult("", err.Error()), err)
	}

	args := e.BuildCommand(inputPath, outputPath, req)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.Binary, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Running external simulator", map[string]interface{}{
		"command": e.cfg.Binary + " " + strings.Join(args, " "),
	})

	runErr := cmd.Run()
	if runErr != nil {
		if isNotFound(runErr) {
			msg := fmt.Sprintf("%s not found: %v", e.cfg.Binary, runErr)
			return Unavailable(models.FailureResult("", msg), runErr)
		}

		if ctx.Err() != nil {
			err := fmt.Errorf("simulation canceled: %w", ctx.Err())
			return Failed(models.FailureResult(stdout.String(), err.Error()), err)
		}

		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("External simulator timed out", map[string]interface{}{
				"binary":  e.cfg.Binary,
				"timeout": e.cfg.Timeout.String(),
			})
			return TimedOut(e.cfg.Timeout)
		}

		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("%s failed: %v", e.cfg.Binary, runErr)
		}
		return Failed(models.FailureResult(stdout.String(), msg), fmt.Errorf("%s exited: %w", e.cfg.Binary, runErr))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		msg := fmt.Sprintf("%s exited successfully but produced no output file", e.cfg.Binary)
		if stderr.Len() > 0 {
			msg += ": " + strings.TrimSpace(stderr.String())
		}
		return Failed(models.FailureResult(stdout.String(), msg), fmt.Errorf("reading output: %w", err))
	}

	return Success(models.SimulationResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Output: string(data),
	})
}

// isNotFound reports whether the process could not be started because the
// binary does not exist
func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}
