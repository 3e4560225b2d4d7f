package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/engine/enginetest"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

const sampleCSV = "\"[T]\",\"AB\"\n0,0\n1,4\n2,7\n"

func newRequest() models.SimulationRequest {
	return models.SimulationRequest{
		ModelSource:  "%obs: 'AB' |A(x[1]), B(x[1])|",
		TimeLimit:    2.0,
		SamplePoints: 20,
	}
}

// assertWorkDirEmpty fails if any staging directory survived the call
func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read work dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("work dir not cleaned up, found: %v", names)
	}
}

func TestExternalBackend_Success(t *testing.T) {
	workDir := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := enginetest.SimulatorScript(t, "+ Simulation ended\n", sampleCSV, argsFile)

	backend := engine.NewExternalBackend(engine.ExternalConfig{Binary: bin, WorkDir: workDir}, nil)
	out := backend.Execute(context.Background(), newRequest())

	if out.Kind != models.OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (reason: %v, stderr: %q)", out.Kind, out.Reason, out.Result.Stderr)
	}
	if out.Result.Output != sampleCSV {
		t.Errorf("Output = %q, want %q", out.Result.Output, sampleCSV)
	}
	if out.Result.Stdout != "+ Simulation ended\n" {
		t.Errorf("Stdout = %q", out.Result.Stdout)
	}
	if out.Result.Stderr != "" {
		t.Errorf("Stderr = %q, want empty", out.Result.Stderr)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("simulator did not record args: %v", err)
	}
	got := strings.Fields(string(args))
	if len(got) != 8 || got[0] != "-i" || got[2] != "-o" || got[4] != "-l" || got[5] != "2" || got[6] != "-p" || got[7] != "20" {
		t.Errorf("unexpected args: %v", got)
	}
	if filepath.Base(got[1]) != "model.ka" || filepath.Base(got[3]) != "output.csv" {
		t.Errorf("unexpected staged paths: %s %s", got[1], got[3])
	}

	assertWorkDirEmpty(t, workDir)
}

func TestExternalBackend_BuildCommandWithSeed(t *testing.T) {
	backend := engine.NewExternalBackend(engine.ExternalConfig{ExtraArgs: []string{"-mode", "batch"}}, nil)
	seed := int64(42)
	req := newRequest()
	req.Seed = &seed

	args := backend.BuildCommand("/in.ka", "/out.csv", req)
	want := []string{"-i", "/in.ka", "-o", "/out.csv", "-l", "2", "-p", "20", "-seed", "42", "-mode", "batch"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("BuildCommand() = %v, want %v", args, want)
	}
}

func TestExternalBackend_Failures(t *testing.T) {
	tests := []struct {
		name       string
		binary     func(t *testing.T) string
		wantKind   models.OutcomeKind
		wantStderr string
	}{
		{
			name: "binary missing from PATH",
			binary: func(t *testing.T) string {
				return "kasim-definitely-not-installed"
			},
			wantKind:   models.OutcomeUnavailable,
			wantStderr: "not found",
		},
		{
			name: "binary path does not exist",
			binary: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing", "KaSim")
			},
			wantKind:   models.OutcomeUnavailable,
			wantStderr: "not found",
		},
		{
			name: "non-zero exit",
			binary: func(t *testing.T) string {
				return enginetest.Script(t, "KaSim", "echo 'Error: syntax error at line 1' >&2\nexit 2")
			},
			wantKind:   models.OutcomeFailed,
			wantStderr: "syntax error at line 1",
		},
		{
			name: "zero exit without output file",
			binary: func(t *testing.T) string {
				return enginetest.Script(t, "KaSim", "echo done\nexit 0")
			},
			wantKind:   models.OutcomeFailed,
			wantStderr: "produced no output file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workDir := t.TempDir()
			backend := engine.NewExternalBackend(engine.ExternalConfig{Binary: tt.binary(t), WorkDir: workDir}, nil)

			out := backend.Execute(context.Background(), newRequest())
			if out.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v (reason: %v)", out.Kind, tt.wantKind, out.Reason)
			}
			if out.Result.Output != "" {
				t.Errorf("Output = %q, want empty", out.Result.Output)
			}
			if !strings.Contains(out.Result.Stderr, tt.wantStderr) {
				t.Errorf("Stderr = %q, want it to contain %q", out.Result.Stderr, tt.wantStderr)
			}
			assertWorkDirEmpty(t, workDir)
		})
	}
}

func TestExternalBackend_Timeout(t *testing.T) {
	workDir := t.TempDir()
	// The child sleep inherits the pipes, so only a process-group kill lets Wait return promptly
	bin := enginetest.Script(t, "KaSim", "echo starting\nsleep 30 &\nsleep 30\nwait")

	timeout := 200 * time.Millisecond
	backend := engine.NewExternalBackend(engine.ExternalConfig{Binary: bin, WorkDir: workDir, Timeout: timeout}, nil)

	start := time.Now()
	out := backend.Execute(context.Background(), newRequest())
	elapsed := time.Since(start)

	if out.Kind != models.OutcomeTimeout {
		t.Fatalf("Kind = %v, want timeout (reason: %v)", out.Kind, out.Reason)
	}
	if out.Result.Stderr != engine.TimeoutMessage(timeout) {
		t.Errorf("Stderr = %q, want %q", out.Result.Stderr, engine.TimeoutMessage(timeout))
	}
	if out.Result.Stdout != "" || out.Result.Output != "" {
		t.Errorf("timeout must not salvage partial output, got %+v", out.Result)
	}
	if elapsed > 10*time.Second {
		t.Errorf("timeout took %v, process group was not killed", elapsed)
	}
	assertWorkDirEmpty(t, workDir)
}

func TestExternalBackend_Available(t *testing.T) {
	missing := engine.NewExternalBackend(engine.ExternalConfig{Binary: "kasim-definitely-not-installed"}, nil)
	if err := missing.Available(); err == nil {
		t.Error("Available() should fail for a missing binary")
	}

	present := engine.NewExternalBackend(engine.ExternalConfig{Binary: enginetest.Script(t, "KaSim", "exit 0")}, nil)
	if err := present.Available(); err != nil {
		t.Errorf("Available() = %v, want nil", err)
	}
}
