package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo(t *testing.T) {
	errBusy := errors.New("database is locked")

	tests := []struct {
		name      string
		failures  int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "recovers", failures: 2, wantCalls: 3},
		{name: "exhausted", failures: 10, wantCalls: 4, wantErr: true},
		{name: "permanent", failures: 10, permanent: true, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fastConfig(3), func() error {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return Permanent(errBusy)
					}
					return errBusy
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errBusy) {
				t.Errorf("Do() error = %v, want it to wrap the last failure", err)
			}
		})
	}
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(3), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}
