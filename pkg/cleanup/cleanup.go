package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

// Config defines retention policies and the sweep interval
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// WorkDir is scanned for staging directories; empty means os.TempDir()
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
	// Pattern matches staging directory names (filepath.Match syntax)
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	// MaxAge is how long a staging directory may live; it must exceed the
	// simulation timeout so running calls are never swept
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
	// RunRetention prunes run history older than this (0 keeps everything)
	RunRetention time.Duration `mapstructure:"run_retention" yaml:"run_retention"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Pattern:      "kappa-run-*",
		MaxAge:       time.Hour,
		RunRetention: 7 * 24 * time.Hour,
		Interval:     15 * time.Minute,
	}
}

// HistoryPruner deletes run records started before a cutoff
type HistoryPruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Stats tracks cleanup operations
type Stats struct {
	LastSweepTime     time.Time     `json:"last_sweep_time"`
	LastSweepDuration time.Duration `json:"last_sweep_duration"`
	TotalDirsRemoved  int64         `json:"total_dirs_removed"`
	TotalRunsPruned   int64         `json:"total_runs_pruned"`
	Errors            int64         `json:"errors"`
}

// Manager periodically removes staging directories left behind by a
// crashed process and prunes old run history
type Manager struct {
	config  Config
	history HistoryPruner
	logger  *logging.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a cleanup manager. history may be nil.
func NewManager(config Config, history HistoryPruner, logger *logging.Logger) *Manager {
	if config.Pattern == "" {
		config.Pattern = DefaultConfig().Pattern
	}
	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		history: history,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins sweeping in the background. The first sweep runs immediately.
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.logger.Info("Cleanup manager disabled")
		return
	}

	m.logger.Info("Starting cleanup manager", map[string]interface{}{
		"work_dir": m.config.WorkDir,
		"max_age":  m.config.MaxAge.String(),
		"interval": m.config.Interval.String(),
	})

	m.wg.Add(1)
	go m.loop()
}

// Stop stops the background sweeper and waits for it to exit
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Debug("Cleanup manager stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()

	m.SweepNow()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.SweepNow()
		}
	}
}

// SweepNow runs one sweep synchronously and returns the number of
// directories removed
func (m *Manager) SweepNow() int {
	start := m.now()
	removed, errs := m.sweepWorkDir(start)
	pruned := m.pruneHistory(start)

	m.mu.Lock()
	m.stats.LastSweepTime = start
	m.stats.LastSweepDuration = time.Since(start)
	m.stats.TotalDirsRemoved += int64(removed)
	m.stats.TotalRunsPruned += int64(pruned)
	m.stats.Errors += int64(errs)
	m.mu.Unlock()

	if removed > 0 || pruned > 0 {
		m.logger.Info("Cleanup sweep complete", map[string]interface{}{
			"dirs_removed": removed,
			"runs_pruned":  pruned,
		})
	}
	return removed
}

func (m *Manager) sweepWorkDir(now time.Time) (removed, errs int) {
	if m.config.MaxAge <= 0 {
		return 0, 0
	}

	matches, err := filepath.Glob(filepath.Join(m.config.WorkDir, m.config.Pattern))
	if err != nil {
		m.logger.Error("Invalid cleanup pattern", map[string]interface{}{"pattern": m.config.Pattern, "error": err.Error()})
		return 0, 1
	}

	cutoff := now.Add(-m.config.MaxAge)
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("Failed to remove stale staging directory", map[string]interface{}{"path": path, "error": err.Error()})
			errs++
			continue
		}
		removed++
	}
	return removed, errs
}

func (m *Manager) pruneHistory(now time.Time) int {
	if m.history == nil || m.config.RunRetention <= 0 {
		return 0
	}
	n, err := m.history.Prune(m.ctx, now.Add(-m.config.RunRetention))
	if err != nil {
		m.logger.Warn("Failed to prune run history", map[string]interface{}{"error": err.Error()})
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
		return 0
	}
	return n
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
