package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, false)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.WithField("run_id", "abc").Info("Simulation finished", map[string]interface{}{
		"backend": "library",
		"attempt": 2,
	})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message written at INFO level")
	}
	if !strings.Contains(out, "INFO: Simulation finished attempt=2 backend=library run_id=abc") {
		t.Errorf("unexpected line: %q", out)
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, true)
	logger.SetOutput(&buf)

	logger.Warn("Backend unavailable", map[string]interface{}{"backend": "external"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, buf.String())
	}
	if entry.Level != "WARN" || entry.Message != "Backend unavailable" || entry.Fields["backend"] != "external" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	_ = parent.WithField("run_id", "child")
	parent.Info("parent")

	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("parent picked up child field: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"error":   ERROR,
		"verbose": INFO,
		"":        INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, "kapparpc", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 20; i++ {
		logger.Info("Simulation finished", map[string]interface{}{"i": i})
	}
	if err := logger.RotateIfNeeded(1 << 20); err != nil {
		t.Fatalf("RotateIfNeeded under limit: %v", err)
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "kapparpc.log.*")); len(matches) != 0 {
		t.Fatalf("rotated below the size limit: %v", matches)
	}

	if err := logger.RotateIfNeeded(10); err != nil {
		t.Fatalf("RotateIfNeeded: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "kapparpc.log.*"))
	if len(matches) != 1 {
		t.Fatalf("expected one backup, got %v", matches)
	}

	logger.Info("after rotation")
	data, err := os.ReadFile(filepath.Join(dir, "kapparpc.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "after rotation") || strings.Contains(string(data), "i=0") {
		t.Errorf("new log file content: %q", data)
	}
}
