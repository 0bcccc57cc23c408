package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

// SQLiteStore keeps runs in a single SQLite database. Scalar samples that
// are NaN are not stored and read back as NaN.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// one connection, so ":memory:" databases are shared by every query
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps db and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("storage: db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, fmt.Errorf("storage: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			order_mode TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			done INTEGER NOT NULL,
			compartments_json TEXT NOT NULL,
			metrics_json TEXT NOT NULL,
			config_yaml TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS states (
			run_id TEXT NOT NULL REFERENCES runs(id),
			tick INTEGER NOT NULL,
			values_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);
		CREATE TABLE IF NOT EXISTS scalars (
			run_id TEXT NOT NULL REFERENCES runs(id),
			channel TEXT NOT NULL,
			tick INTEGER NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (run_id, channel, tick)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, cfg *config.Config, res *experiment.Result) (string, error) {
	meta, err := newMetadata(cfg, res)
	if err != nil {
		return "", err
	}
	compartments, err := json.Marshal(meta.Compartments)
	if err != nil {
		return "", err
	}
	metrics, err := json.Marshal(meta.Metrics)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, model, order_mode, created_at, seed, ticks, done, compartments_json, metrics_json, config_yaml)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.ID,
		meta.Model,
		meta.Order,
		meta.Timestamp.UnixNano(),
		meta.Seed,
		meta.Ticks,
		meta.Done,
		string(compartments),
		string(metrics),
		meta.Config,
	)
	if err != nil {
		return "", fmt.Errorf("storage: insert run: %w", err)
	}

	stateStmt, err := tx.PrepareContext(ctx, `INSERT INTO states (run_id, tick, values_json) VALUES (?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stateStmt.Close()
	for tick, x := range res.States {
		values, err := json.Marshal([]float64(x))
		if err != nil {
			return "", fmt.Errorf("storage: tick %d: %w", tick, err)
		}
		if _, err := stateStmt.ExecContext(ctx, meta.ID, tick, string(values)); err != nil {
			return "", fmt.Errorf("storage: insert tick %d: %w", tick, err)
		}
	}

	scalarStmt, err := tx.PrepareContext(ctx, `INSERT INTO scalars (run_id, channel, tick, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer scalarStmt.Close()
	for name, col := range res.Scalars {
		for tick, v := range col {
			if math.IsNaN(v) {
				continue
			}
			if _, err := scalarStmt.ExecContext(ctx, meta.ID, name, tick, v); err != nil {
				return "", fmt.Errorf("storage: insert %s at tick %d: %w", name, tick, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return meta.ID, nil
}

const runColumns = `id, model, order_mode, created_at, seed, ticks, done, compartments_json, metrics_json, config_yaml`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunMetadata, error) {
	var (
		meta         RunMetadata
		created      int64
		compartments string
		metrics      string
	)
	if err := row.Scan(
		&meta.ID,
		&meta.Model,
		&meta.Order,
		&created,
		&meta.Seed,
		&meta.Ticks,
		&meta.Done,
		&compartments,
		&metrics,
		&meta.Config,
	); err != nil {
		return nil, err
	}
	meta.Timestamp = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(compartments), &meta.Compartments); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &meta.Metrics); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]RunMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunMetadata, 0)
	for rows.Next() {
		meta, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*RunMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	meta, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return meta, err
}

func (s *SQLiteStore) LoadStates(ctx context.Context, id string) (*Series, error) {
	meta, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	series := &Series{
		Compartments: meta.Compartments,
		Scalars:      map[string][]float64{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT values_json FROM states WHERE run_id = ? ORDER BY tick ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var x []float64
		if err := json.Unmarshal([]byte(raw), &x); err != nil {
			return nil, err
		}
		series.States = append(series.States, x)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx, `SELECT channel, tick, value FROM scalars WHERE run_id = ? ORDER BY channel, tick`, id)
	if err != nil {
		return nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var (
			name string
			tick int
			v    float64
		)
		if err := srows.Scan(&name, &tick, &v); err != nil {
			return nil, err
		}
		col, ok := series.Scalars[name]
		if !ok {
			col = make([]float64, len(series.States))
			for i := range col {
				col[i] = math.NaN()
			}
		}
		if tick < len(col) {
			col[tick] = v
		}
		series.Scalars[name] = col
	}
	return series, srows.Err()
}
