package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// BenchmarkStore wraps a SQLite database holding reference population
// percentiles. Interaction history never lives here; the append-only log is
// the single source of truth for records.
type BenchmarkStore struct {
	db *sql.DB
}

// OpenBenchmarks opens (or creates) the benchmark database in dataDir and
// runs pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests).
func OpenBenchmarks(dataDir string) (*BenchmarkStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "benchmarks.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &BenchmarkStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *BenchmarkStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *BenchmarkStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Upsert creates or replaces the benchmark row for (metric, role).
func (s *BenchmarkStore) Upsert(b Benchmark) (Benchmark, error) {
	if b.Metric == "" || b.Role == "" {
		return Benchmark{}, fmt.Errorf("metric and role are required")
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.UpdatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO benchmarks (id, metric, role, p50, p75, p90, sample_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(metric, role) DO UPDATE SET
			p50 = excluded.p50, p75 = excluded.p75, p90 = excluded.p90,
			sample_size = excluded.sample_size, updated_at = excluded.updated_at`,
		b.ID, b.Metric, b.Role, b.P50, b.P75, b.P90, b.SampleSize,
		b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Benchmark{}, err
	}
	return b, nil
}

// Get returns the benchmark for (metric, role), or ErrNotFound.
func (s *BenchmarkStore) Get(metric, role string) (Benchmark, error) {
	var b Benchmark
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT id, metric, role, p50, p75, p90, sample_size, updated_at
		FROM benchmarks WHERE metric = ? AND role = ?`, metric, role,
	).Scan(&b.ID, &b.Metric, &b.Role, &b.P50, &b.P75, &b.P90, &b.SampleSize, &updatedAt)
	if err == sql.ErrNoRows {
		return Benchmark{}, ErrNotFound
	}
	if err != nil {
		return Benchmark{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Benchmark{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	b.UpdatedAt = t
	return b, nil
}

// List returns all benchmark rows ordered by metric then role.
func (s *BenchmarkStore) List() ([]Benchmark, error) {
	rows, err := s.db.Query(`
		SELECT id, metric, role, p50, p75, p90, sample_size, updated_at
		FROM benchmarks ORDER BY metric, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Benchmark
	for rows.Next() {
		var b Benchmark
		var updatedAt string
		if err := rows.Scan(&b.ID, &b.Metric, &b.Role, &b.P50, &b.P75, &b.P90, &b.SampleSize, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		b.UpdatedAt = t
		results = append(results, b)
	}
	return results, rows.Err()
}
