// Package ledger records the checkpoints of coupled runs in a SQL database,
// either SQLite or Postgres.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/phil-mansfield/linkage"
)

const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	run_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	time_years DOUBLE PRECISION NOT NULL,
	transitions INTEGER NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
)`

// Entry is one row of the checkpoints table.
type Entry struct {
	RunID       string
	Index       int
	TimeYears   float64
	Transitions int
	RecordedAt  time.Time
}

// Ledger is a linkage.Observer that writes one row per checkpoint.
type Ledger struct {
	RunID string
	// Timeout bounds each insert made through Checkpoint.
	Timeout time.Duration

	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database and creates the checkpoints table. driver
// is "sqlite" or "pgx".
func Open(ctx context.Context, driver, dsn, runID string) (*Ledger, error) {
	if driver != "sqlite" && driver != "pgx" {
		return nil, fmt.Errorf("Unrecognized ledger driver '%s'.", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s ledger: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Ledger{
		RunID: runID, Timeout: 30 * time.Second,
		db: db, driver: driver, now: time.Now,
	}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// rebind rewrites '?' placeholders as '$n' for Postgres.
func (l *Ledger) rebind(query string) string {
	if l.driver != "pgx" {
		return query
	}
	b := &strings.Builder{}
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Record inserts ev. Recording the same index twice is an error.
func (l *Ledger) Record(ctx context.Context, ev linkage.CheckpointEvent) error {
	q := l.rebind(`INSERT INTO checkpoints
		(run_id, idx, time_years, transitions, recorded_at)
		VALUES (?, ?, ?, ?, ?)`)
	at := l.now().UTC().Format(time.RFC3339Nano)
	if _, err := l.db.ExecContext(
		ctx, q, l.RunID, ev.Index, ev.TimeYears, ev.Transitions, at,
	); err != nil {
		return fmt.Errorf("record checkpoint %d: %w", ev.Index, err)
	}
	return nil
}

// Entries returns the run's rows in index order.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	q := l.rebind(`SELECT run_id, idx, time_years, transitions, recorded_at
		FROM checkpoints WHERE run_id = ? ORDER BY idx`)
	rows, err := l.db.QueryContext(ctx, q, l.RunID)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.RunID, &e.Index, &e.TimeYears, &e.Transitions, &at); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", e.Index, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) Step(linkage.StepEvent) {}

func (l *Ledger) Checkpoint(ev linkage.CheckpointEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.Timeout)
	defer cancel()
	return l.Record(ctx, ev)
}
