package models

import (
	"encoding/json"
	"time"
)

// Default run parameters, applied when a caller leaves a field unset
const (
	DefaultTimeLimit    = 100.0
	DefaultSamplePoints = 200
)

// SimulationRequest is a single simulation call. It is built per call,
// used once and discarded.
type SimulationRequest struct {
	ModelSource  string  `json:"model_source"`
	TimeLimit    float64 `json:"time_limit"`
	SamplePoints int     `json:"sample_points"`
	Seed         *int64  `json:"seed,omitempty"`
}

// SimulationResult is the normalized response of every simulation call,
// whichever backend ran and however it ended.
type SimulationResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"` // CSV text, empty on failure
}

// Succeeded reports whether the result carries data and no diagnostic
func (r SimulationResult) Succeeded() bool {
	return r.Output != "" && r.Stderr == ""
}

// FailureResult builds a result with no data and the given diagnostic
func FailureResult(stdout, stderr string) SimulationResult {
	return SimulationResult{
		Stdout: stdout,
		Stderr: stderr,
		Output: "",
	}
}

// JSON encodes the result as the JSON object returned by the simulate tool.
// Marshaling three strings cannot fail.
func (r SimulationResult) JSON() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// OutcomeKind tags how a backend attempt ended
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeUnavailable OutcomeKind = "unavailable"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeTimeout     OutcomeKind = "timeout"
	OutcomeInvalid     OutcomeKind = "invalid"
)

// Terminal reports whether an attempt with this outcome ends the call
func (k OutcomeKind) Terminal() bool {
	return k == OutcomeSuccess || k == OutcomeTimeout || k == OutcomeInvalid
}

// RunRecord is the metadata kept about one finished simulation call.
// It never contains the model source or the output itself.
type RunRecord struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Backend      string        `json:"backend"`  // backend that produced the final result
	Outcome      OutcomeKind   `json:"outcome"`  // outcome of that attempt
	Attempts     []string      `json:"attempts"` // backend:outcome, in order
	TimeLimit    float64       `json:"time_limit"`
	SamplePoints int           `json:"sample_points"`
	Seed         *int64        `json:"seed,omitempty"`
	ModelDigest  string        `json:"model_digest"` // sha256 of the model source
	OutputBytes  int           `json:"output_bytes"`
	Error        string        `json:"error,omitempty"` // first line of stderr on failure
}
