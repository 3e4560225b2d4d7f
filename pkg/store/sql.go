package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/kappa-rpc/pkg/logging"
	"github.com/psantana5/kappa-rpc/pkg/models"
	"github.com/psantana5/kappa-rpc/pkg/retry"
)

// Dialect captures the differences between the supported SQL databases
type Dialect struct {
	Driver    string
	Timestamp string
	// Placeholder returns the n-th (1-based) bind parameter
	Placeholder func(n int) string
}

var (
	SQLite = Dialect{
		Driver:      "sqlite3",
		Timestamp:   "DATETIME",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Driver:      "postgres",
		Timestamp:   "TIMESTAMPTZ",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// SQLStore keeps run history in SQLite or PostgreSQL
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

const runColumns = `id, started_at, duration_ms, backend, outcome, attempts, time_limit,
	sample_points, seed, model_digest, output_bytes, error`

// OpenSQL opens the database, retrying the first ping with backoff (the
// database may still be starting), and creates the schema
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, cfg Config, logger *logging.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if dialect.Driver == SQLite.Driver && !strings.Contains(dsn, "?") {
		// WAL plus a busy timeout lets concurrent requests record without SQLITE_BUSY
		dsn += "?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL"
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.Driver == SQLite.Driver {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
		db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 2))
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	rc := cfg.Retry
	if rc.InitialBackoff == 0 {
		rc = retry.DefaultConfig()
	}
	attempt := 0
	err = retry.Do(ctx, rc, func() error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("Database not ready", map[string]interface{}{"driver": dialect.Driver, "attempt": attempt, "error": err.Error()})
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Run history store opened", map[string]interface{}{"driver": dialect.Driver})
	return s, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at %s NOT NULL,
			duration_ms BIGINT NOT NULL,
			backend TEXT NOT NULL,
			outcome TEXT NOT NULL,
			attempts TEXT NOT NULL,
			time_limit DOUBLE PRECISION NOT NULL,
			sample_points INTEGER NOT NULL,
			seed BIGINT,
			model_digest TEXT NOT NULL,
			output_bytes INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`, s.dialect.Timestamp),
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// bind returns "p1, p2, ..., pn" in the dialect's placeholder syntax
func (s *SQLStore) bind(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// Record inserts one run
func (s *SQLStore) Record(ctx context.Context, r models.RunRecord) error {
	var seed sql.NullInt64
	if r.Seed != nil {
		seed = sql.NullInt64{Int64: *r.Seed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO runs (%s) VALUES (%s)`, runColumns, s.bind(12)),
		r.ID, r.StartedAt.UTC(), r.Duration.Milliseconds(), r.Backend, string(r.Outcome),
		strings.Join(r.Attempts, ","), r.TimeLimit, r.SamplePoints, seed, r.ModelDigest,
		r.OutputBytes, r.Error)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// List returns up to limit runs, most recent first
func (s *SQLStore) List(ctx context.Context, limit int) ([]models.RunRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM runs ORDER BY started_at DESC, id`, runColumns)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT " + s.dialect.Placeholder(1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get finds a run by ID
func (s *SQLStore) Get(ctx context.Context, id string) (models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE id = %s`, runColumns, s.dialect.Placeholder(1)), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Prune deletes runs started before the cutoff
func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < `+s.dialect.Placeholder(1), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (models.RunRecord, error) {
	var (
		r          models.RunRecord
		durationMS int64
		outcome    string
		attempts   string
		seed       sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.StartedAt, &durationMS, &r.Backend, &outcome, &attempts,
		&r.TimeLimit, &r.SamplePoints, &seed, &r.ModelDigest, &r.OutputBytes, &r.Error)
	if err != nil {
		return models.RunRecord{}, err
	}

	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.Outcome = models.OutcomeKind(outcome)
	if attempts != "" {
		r.Attempts = strings.Split(attempts, ",")
	}
	if seed.Valid {
		v := seed.Int64
		r.Seed = &v
	}
	return r, nil
}
