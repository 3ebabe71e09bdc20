package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schema = `
CREATE TABLE IF NOT EXISTS balance_samples (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	address    TEXT    NOT NULL,
	fetched_at INTEGER NOT NULL,
	satoshis   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_balance_samples_address_time
	ON balance_samples (address, fetched_at);
`

// SQLiteConfig defines SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
	Limit        int
}

// DefaultSQLiteConfig returns settings suited to a single writer with concurrent readers.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
		Limit:        DefaultLimit,
	}
}

// SQLiteStore keeps samples in a SQLite database in WAL mode.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(ctx context.Context, path string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}

	// PRAGMAs go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}

	return &SQLiteStore{db: db, limit: cfg.Limit}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sample Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO balance_samples (address, fetched_at, satoshis) VALUES (?, ?, ?)`,
		sample.Address, sample.At.UnixNano(), sample.Satoshis,
	); err != nil {
		return fmt.Errorf("sqlite: insert sample: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM balance_samples
		WHERE address = ? AND id NOT IN (
			SELECT id FROM balance_samples
			WHERE address = ?
			ORDER BY fetched_at DESC, id DESC
			LIMIT ?
		)`,
		sample.Address, sample.Address, s.limit,
	); err != nil {
		return fmt.Errorf("sqlite: trim samples: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Series(ctx context.Context, address string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, fetched_at, satoshis FROM balance_samples
		WHERE address = ?
		ORDER BY fetched_at ASC, id ASC`, address)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query series: %w", err)
	}
	defer rows.Close()

	out := []Sample{}
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) All(ctx context.Context) (map[string][]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, fetched_at, satoshis FROM balance_samples
		ORDER BY address ASC, fetched_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query all: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Sample)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out[sample.Address] = append(out[sample.Address], sample)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM balance_samples WHERE address = ?`, address); err != nil {
		return fmt.Errorf("sqlite: delete series: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSample(rows *sql.Rows) (Sample, error) {
	var (
		sample Sample
		nanos  int64
	)
	if err := rows.Scan(&sample.Address, &nanos, &sample.Satoshis); err != nil {
		return Sample{}, fmt.Errorf("sqlite: scan sample: %w", err)
	}
	sample.At = time.Unix(0, nanos).UTC()
	return sample, nil
}
