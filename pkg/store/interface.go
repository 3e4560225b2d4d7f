package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
	"github.com/psantana5/kappa-rpc/pkg/retry"
)

// Store is the run history ledger. It only records what happened; nothing
// in it influences later simulations.
type Store interface {
	Record(ctx context.Context, record models.RunRecord) error
	// List returns the most recent records first, at most limit (0 = all)
	List(ctx context.Context, limit int) ([]models.RunRecord, error)
	Get(ctx context.Context, id string) (models.RunRecord, error)
	// Prune deletes records started before the cutoff
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

var (
	ErrNotFound            = errors.New("run not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Config selects and configures the history backend
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite", "postgres" or "none"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
	Path string `mapstructure:"path" yaml:"path"` // sqlite file

	// Capacity bounds the memory store
	Capacity int `mapstructure:"capacity" yaml:"capacity"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	Retry retry.Config `mapstructure:"retry" yaml:"retry"`
}

// DefaultConfig keeps the last 1000 runs in memory
func DefaultConfig() Config {
	return Config{
		Type:     "memory",
		Capacity: 1000,
		Retry:    retry.DefaultConfig(),
	}
}

// NewStore creates a store based on configuration
func NewStore(ctx context.Context, cfg Config, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	switch cfg.Type {
	case "none", "disabled":
		return NopStore{}, nil
	case "memory", "":
		return NewMemoryStore(cfg.Capacity), nil
	case "sqlite", "sqlite3":
		path := cfg.Path
		if path == "" {
			path = cfg.DSN
		}
		if path == "" {
			path = "kapparpc.db"
		}
		return OpenSQL(ctx, SQLite, path, cfg, logger)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("PostgreSQL DSN is required")
		}
		return OpenSQL(ctx, Postgres, cfg.DSN, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, cfg.Type)
	}
}

// NopStore discards every record
type NopStore struct{}

func (NopStore) Record(context.Context, models.RunRecord) error { return nil }

func (NopStore) List(context.Context, int) ([]models.RunRecord, error) { return nil, nil }

func (NopStore) Get(_ context.Context, id string) (models.RunRecord, error) {
	return models.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (NopStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }

func (NopStore) Close() error { return nil }
