// Package enginetest provides fake simulation libraries and simulator
// scripts for tests of packages built on engine.
package enginetest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/psantana5/kappa-rpc/pkg/engine"
)

// ErrSyntax is returned by FakeLibrary for sources without observables
var ErrSyntax = errors.New("syntax error")

var obsPattern = regexp.MustCompile(`%obs:\s*'([^']+)'`)

// FakeLibrary is a stand-in for an in-process Kappa library. It accepts any
// source declaring at least one %obs and produces a random walk per
// observable, drawing all randomness from SystemOptions.Rand.
type FakeLibrary struct {
	// Rate is the mean number of events per unit of simulated time (default 10)
	Rate float64

	// PanicOnUpdate makes the n-th Update panic (0 = never)
	PanicOnUpdate int

	// FailOnUpdate makes the n-th Update return an error (0 = never)
	FailOnUpdate int

	// Chatter is written to the stdout sink when the system is built
	Chatter string

	// Warning is written to the stderr sink when the system is built
	Warning string

	// Calls counts FromSource calls
	Calls atomic.Int64
}

// Name returns the library name
func (l *FakeLibrary) Name() string {
	return "fake"
}

// FromSource parses the observable names out of the source
func (l *FakeLibrary) FromSource(source string, opts engine.SystemOptions) (engine.System, error) {
	l.Calls.Add(1)

	if l.Chatter != "" {
		fmt.Fprint(opts.Stdout, l.Chatter)
	}
	if l.Warning != "" {
		fmt.Fprint(opts.Stderr, l.Warning)
	}

	matches := obsPattern.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("line 1: %w: expected %%init, %%obs or a rule", ErrSyntax)
	}

	columns := []string{"[T]"}
	for _, m := range matches {
		columns = append(columns, m[1])
	}

	rate := l.Rate
	if rate <= 0 {
		rate = 10
	}

	sys := &fakeSystem{lib: l, opts: opts, rate: rate, counts: make([]float64, len(columns)-1)}
	sys.table = &engine.Table{Columns: columns}
	sys.sample()
	return sys, nil
}

type fakeSystem struct {
	lib    *FakeLibrary
	opts   engine.SystemOptions
	rate   float64
	time   float64
	steps  int
	counts []float64
	table  *engine.Table
}

func (s *fakeSystem) Update() error {
	s.steps++
	if s.lib.PanicOnUpdate > 0 && s.steps == s.lib.PanicOnUpdate {
		panic("fake library: corrupted mixture")
	}
	if s.lib.FailOnUpdate > 0 && s.steps == s.lib.FailOnUpdate {
		return fmt.Errorf("event %d: %w", s.steps, errors.New("no applicable rule"))
	}

	s.time += s.opts.Rand.ExpFloat64() / s.rate
	for i := range s.counts {
		if s.opts.Rand.Intn(2) == 0 {
			s.counts[i]++
		} else if s.counts[i] > 0 {
			s.counts[i]--
		}
	}
	s.sample()
	return nil
}

func (s *fakeSystem) sample() {
	row := append([]float64{s.time}, s.counts...)
	s.table.Rows = append(s.table.Rows, row)
}

func (s *fakeSystem) Time() float64 {
	return s.time
}

func (s *fakeSystem) Observables() (*engine.Table, error) {
	return s.table, nil
}

// Loader returns a loader that always yields lib
func Loader(lib engine.Library) engine.Loader {
	return engine.LoaderFunc(func() (engine.Library, error) {
		return lib, nil
	})
}

// MissingLoader returns a loader that always fails, as if nothing were installed
func MissingLoader() engine.Loader {
	return engine.LoaderFunc(func() (engine.Library, error) {
		return nil, errors.New("no library named \"kappybara\"")
	})
}

// Script writes an executable shell script into a fresh temp dir and returns its path
func Script(t testing.TB, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

// SimulatorScript returns a fake KaSim that writes csv to the path after -o
// and echoes stdout. Its arguments are appended to argsFile if non-empty.
func SimulatorScript(t testing.TB, stdout, csv, argsFile string) string {
	t.Helper()
	var b strings.Builder
	if argsFile != "" {
		fmt.Fprintf(&b, "echo \"$@\" >> '%s'\n", argsFile)
	}
	b.WriteString("out=''\n")
	b.WriteString("while [ $# -gt 0 ]; do\n  case \"$1\" in\n    -o) out=\"$2\"; shift;;\n  esac\n  shift\ndone\n")
	if stdout != "" {
		fmt.Fprintf(&b, "printf '%%s' '%s'\n", stdout)
	}
	fmt.Fprintf(&b, "printf '%%s' '%s' > \"$out\"\n", csv)
	return Script(t, "KaSim", b.String())
}
