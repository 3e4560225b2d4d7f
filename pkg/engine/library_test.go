package engine_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/engine/enginetest"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

const bindingModel = `
%init: 10 A(x[.])
%init: 10 B(x[.])

%obs: 'A_free' |A(x[.])|
%obs: 'B_free' |B(x[.])|
%obs: 'AB_complex' |A(x[1]), B(x[1])|

A(x[.]), B(x[.]) <-> A(x[1]), B(x[1]) @ 1, 1
`

func TestLibraryBackend_Success(t *testing.T) {
	lib := &enginetest.FakeLibrary{Chatter: "Parsing model...\n"}
	backend := engine.NewLibraryBackend(enginetest.Loader(lib), nil)

	req := models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 2.0, SamplePoints: 20}
	out := backend.Execute(context.Background(), req)

	if out.Kind != models.OutcomeSuccess {
		t.Fatalf("Kind = %v, want success (stderr: %s)", out.Kind, out.Result.Stderr)
	}
	if out.Result.Stdout != "Parsing model...\n" {
		t.Errorf("Stdout = %q, want library chatter", out.Result.Stdout)
	}
	if out.Result.Stderr != "" {
		t.Errorf("Stderr = %q, want empty", out.Result.Stderr)
	}

	lines := strings.Split(strings.TrimSpace(out.Result.Output), "\n")
	if lines[0] != "[T],A_free,B_free,AB_complex" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) < 2 {
		t.Fatalf("expected data rows, got %d lines", len(lines))
	}

	// Every row but the last was sampled before the time limit was reached
	for _, line := range lines[1 : len(lines)-1] {
		ts, err := strconv.ParseFloat(strings.Split(line, ",")[0], 64)
		if err != nil {
			t.Fatalf("bad time value in %q: %v", line, err)
		}
		if ts >= 2.0 {
			t.Errorf("row %q sampled at or after the time limit", line)
		}
	}
}

func TestLibraryBackend_SeedDeterminism(t *testing.T) {
	lib := &enginetest.FakeLibrary{}
	backend := engine.NewLibraryBackend(enginetest.Loader(lib), nil)

	seed := int64(42)
	req := models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 5.0, SamplePoints: 20, Seed: &seed}

	first := backend.Execute(context.Background(), req)
	second := backend.Execute(context.Background(), req)

	if first.Kind != models.OutcomeSuccess || second.Kind != models.OutcomeSuccess {
		t.Fatalf("runs failed: %v / %v", first.Reason, second.Reason)
	}
	if first.Result.Output != second.Result.Output {
		t.Error("same seed produced different output")
	}

	other := int64(43)
	req.Seed = &other
	third := backend.Execute(context.Background(), req)
	if third.Result.Output == first.Result.Output {
		t.Log("different seeds produced identical output (allowed, but unlikely)")
	}
}

func TestLibraryBackend_UnseededRunsUseSeedSource(t *testing.T) {
	lib := &enginetest.FakeLibrary{}
	backend := engine.NewLibraryBackend(enginetest.Loader(lib), nil)

	next := int64(0)
	backend.SetSeedSource(func() int64 {
		next++
		return next
	})

	req := models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 5.0, SamplePoints: 20}
	a := backend.Execute(context.Background(), req)
	b := backend.Execute(context.Background(), req)
	if a.Result.Output == b.Result.Output {
		t.Error("unseeded runs drew the same seed")
	}
}

func TestLibraryBackend_SamplePointsDoNotBoundTheLoop(t *testing.T) {
	// Stepping stops on simulated time only; the sample count is advisory
	lib := &enginetest.FakeLibrary{Rate: 100}
	backend := engine.NewLibraryBackend(enginetest.Loader(lib), nil)

	seed := int64(1)
	req := models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 1.0, SamplePoints: 3, Seed: &seed}
	out := backend.Execute(context.Background(), req)
	if out.Kind != models.OutcomeSuccess {
		t.Fatalf("run failed: %v", out.Reason)
	}

	rows := strings.Count(strings.TrimSpace(out.Result.Output), "\n")
	if rows <= req.SamplePoints {
		t.Errorf("got %d rows; expected the library's own cadence, not %d points", rows, req.SamplePoints)
	}
}

func TestLibraryBackend_Failures(t *testing.T) {
	tests := []struct {
		name       string
		lib        *enginetest.FakeLibrary
		source     string
		wantStdout string
		wantStderr []string
	}{
		{
			name:       "malformed model",
			lib:        &enginetest.FakeLibrary{Chatter: "reading model\n"},
			source:     "This is not valid Kappa code!",
			wantStdout: "reading model\n",
			wantStderr: []string{"Simulation library failed", "syntax error", "stage=parse"},
		},
		{
			name:       "update error",
			lib:        &enginetest.FakeLibrary{FailOnUpdate: 3},
			source:     bindingModel,
			wantStderr: []string{"Simulation library failed", "no applicable rule", "stage=update", "steps=2"},
		},
		{
			name:       "update panic",
			lib:        &enginetest.FakeLibrary{PanicOnUpdate: 2, Chatter: "partial\n"},
			source:     bindingModel,
			wantStdout: "partial\n",
			wantStderr: []string{"Simulation library failed", "panic during update", "corrupted mixture", "goroutine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := engine.NewLibraryBackend(enginetest.Loader(tt.lib), nil)
			out := backend.Execute(context.Background(), models.SimulationRequest{
				ModelSource:  tt.source,
				TimeLimit:    10,
				SamplePoints: 10,
			})

			if out.Kind != models.OutcomeFailed {
				t.Fatalf("Kind = %v, want failed", out.Kind)
			}
			if out.Result.Output != "" {
				t.Errorf("Output = %q, want empty", out.Result.Output)
			}
			if out.Result.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", out.Result.Stdout, tt.wantStdout)
			}
			for _, want := range tt.wantStderr {
				if !strings.Contains(out.Result.Stderr, want) {
					t.Errorf("Stderr missing %q:\n%s", want, out.Result.Stderr)
				}
			}
		})
	}
}

func TestLibraryBackend_DependencyMissing(t *testing.T) {
	backend := engine.NewLibraryBackend(enginetest.MissingLoader(), nil)
	out := backend.Execute(context.Background(), models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 1, SamplePoints: 1})

	if out.Kind != models.OutcomeUnavailable {
		t.Fatalf("Kind = %v, want unavailable", out.Kind)
	}
	if !strings.HasPrefix(out.Result.Stderr, "Failed to load simulation library:") {
		t.Errorf("Stderr = %q", out.Result.Stderr)
	}
	if !strings.Contains(out.Result.Stderr, "Please install") {
		t.Errorf("Stderr should name the remedy: %q", out.Result.Stderr)
	}

	nilLoader := engine.NewLibraryBackend(nil, nil)
	if err := nilLoader.Available(); err == nil {
		t.Error("Available() should fail without a loader")
	}
}

func TestLibraryBackend_CachesSuccessfulLoad(t *testing.T) {
	loads := 0
	lib := &enginetest.FakeLibrary{}
	loader := engine.LoaderFunc(func() (engine.Library, error) {
		loads++
		return lib, nil
	})
	backend := engine.NewLibraryBackend(loader, nil)

	req := models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 0.5, SamplePoints: 5}
	backend.Execute(context.Background(), req)
	backend.Execute(context.Background(), req)

	if loads != 1 {
		t.Errorf("library loaded %d times, want 1", loads)
	}
}

func TestLibraryBackend_Canceled(t *testing.T) {
	backend := engine.NewLibraryBackend(enginetest.Loader(&enginetest.FakeLibrary{}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := backend.Execute(ctx, models.SimulationRequest{ModelSource: bindingModel, TimeLimit: 1000, SamplePoints: 5})
	if out.Kind != models.OutcomeFailed {
		t.Fatalf("Kind = %v, want failed", out.Kind)
	}
	if !strings.Contains(out.Result.Stderr, "canceled") {
		t.Errorf("Stderr = %q", out.Result.Stderr)
	}
}
