package observe

import "time"

// Timing records wall-clock timestamps of one simulation call and of each
// backend attempt inside it. Not safe for concurrent use; one per call.
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
	attempts    []Attempt
}

// Attempt is the wall-clock span of one backend attempt
type Attempt struct {
	Backend   string
	StartedAt time.Time
	Duration  time.Duration
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return &Timing{
		StartedAt: time.Now(),
	}
}

// Begin starts timing a backend attempt. The returned func stops it and
// returns the attempt duration.
func (t *Timing) Begin(backend string) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		d := time.Since(start)
		t.attempts = append(t.attempts, Attempt{Backend: backend, StartedAt: start, Duration: d})
		return d
	}
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = time.Now()
}

// Duration returns execution duration
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Attempts returns the finished attempts in the order they ran
func (t *Timing) Attempts() []Attempt {
	out := make([]Attempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}
