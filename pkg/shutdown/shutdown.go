package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

// Func releases one resource within the shutdown deadline
type Func func(context.Context) error

type entry struct {
	name string
	fn   Func
}

// Manager runs registered shutdown functions in reverse order (LIFO)
type Manager struct {
	mu      sync.Mutex
	entries []entry
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
}

// New creates a manager that gives all functions timeout to complete
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a named shutdown function
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, fn: fn})
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (m *Manager) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
		m.logger.Info("Context done, shutting down")
	}
	m.Shutdown()
}

// Shutdown runs every registered function once. Errors are logged and
// returned together; a failing function does not stop the others.
func (m *Manager) Shutdown() error {
	var errs []error
	m.once.Do(func() {
		m.mu.Lock()
		entries := m.entries
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if err := e.fn(ctx); err != nil {
				m.logger.Error("Shutdown step failed", map[string]interface{}{"step": e.name, "error": err.Error()})
				errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
				continue
			}
			m.logger.Debug("Shutdown step complete", map[string]interface{}{"step": e.name})
		}
		m.logger.Info("Graceful shutdown complete")
	})
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return fmt.Errorf("%d shutdown steps failed: %w", len(errs), errs[0])
}

// StopHTTPServer wraps a server's graceful Shutdown
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource wraps an io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(context.Context) error {
		return closer.Close()
	}
}
