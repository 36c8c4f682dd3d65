package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazz-dev/linkprobe/internal/prober"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  TEXT    NOT NULL,
    finished_at TEXT    NOT NULL DEFAULT '',
    total       INTEGER NOT NULL,
    active      INTEGER NOT NULL DEFAULT 0,
    inactive    INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    cancelled   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         INTEGER NOT NULL REFERENCES runs(id),
    url            TEXT    NOT NULL,
    final_url      TEXT    NOT NULL,
    active         INTEGER NOT NULL CHECK(active IN (0, 1)),
    status_code    INTEGER NOT NULL,
    error          TEXT    NOT NULL DEFAULT '',
    response_ms    INTEGER NOT NULL,
    content_length INTEGER NOT NULL,
    attempts       INTEGER NOT NULL,
    checked_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_url ON outcomes(url);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_url_checked ON outcomes(url, checked_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
    url     TEXT PRIMARY KEY,
    sent_at TEXT NOT NULL
);
`

// timeLayout is RFC3339 with a fixed-width fraction, so stored timestamps
// sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Outcome is a stored probe outcome.
type Outcome struct {
	ID            int64     `json:"id"`
	RunID         int64     `json:"run_id"`
	URL           string    `json:"url"`
	FinalURL      string    `json:"final_url"`
	Active        bool      `json:"active"`
	StatusCode    int       `json:"status_code"`
	Error         string    `json:"error"`
	ResponseMs    int64     `json:"response_ms"`
	ContentLength int64     `json:"content_length"`
	Attempts      int       `json:"attempts"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Run is a stored batch run.
type Run struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Total      int        `json:"total"`
	Active     int        `json:"active"`
	Inactive   int        `json:"inactive"`
	Failed     int        `json:"failed"`
	Cancelled  int        `json:"cancelled"`
}

// RunCounts are the final tallies of a run.
type RunCounts struct {
	Active    int
	Inactive  int
	Failed    int
	Cancelled int
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// CreateRun records the start of a batch and returns its id.
func (d *DB) CreateRun(ctx context.Context, startedAt time.Time, total int) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, total) VALUES (?, ?)`,
		startedAt.UTC().Format(timeLayout), total,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// FinishRun stores the final tallies of run id.
func (d *DB) FinishRun(ctx context.Context, id int64, finishedAt time.Time, c RunCounts) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, active = ?, inactive = ?, failed = ?, cancelled = ? WHERE id = ?`,
		finishedAt.UTC().Format(timeLayout), c.Active, c.Inactive, c.Failed, c.Cancelled, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %d: no such run", id)
	}
	return nil
}

// InsertOutcome persists one outcome of run runID.
func (d *DB) InsertOutcome(ctx context.Context, runID int64, o prober.Outcome) error {
	active := 0
	if o.Active {
		active = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, url, final_url, active, status_code, error, response_ms, content_length, attempts, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		o.URL,
		o.FinalURL,
		active,
		o.StatusCode,
		o.Error,
		o.ResponseTime.Milliseconds(),
		o.ContentLength,
		o.Attempts,
		o.CheckedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting outcome for %q: %w", o.URL, err)
	}
	return nil
}

const outcomeColumns = `id, run_id, url, final_url, active, status_code, error, response_ms, content_length, attempts, checked_at`

// LatestOutcome returns the most recent outcome for url, or nil if none.
func (d *DB) LatestOutcome(ctx context.Context, url string) (*Outcome, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE url = ? ORDER BY checked_at DESC, id DESC LIMIT 1`,
		url,
	)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest outcome for %q: %w", url, err)
	}
	return o, nil
}

// URLHistory returns paginated outcomes for url plus the total count.
func (d *DB) URLHistory(ctx context.Context, url string, limit, offset int) ([]Outcome, int, error) {
	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE url = ?`, url,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting outcomes for %q: %w", url, err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE url = ? ORDER BY checked_at DESC, id DESC LIMIT ? OFFSET ?`,
		url, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying history for %q: %w", url, err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, 0, err
	}
	return outcomes, total, nil
}

// AllLatest returns the most recent outcome for each URL, ordered by URL.
func (d *DB) AllLatest(ctx context.Context) ([]Outcome, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE id IN (
			SELECT MAX(id) FROM outcomes GROUP BY url
		)
		ORDER BY url
	`)
	if err != nil {
		return nil, fmt.Errorf("querying all latest: %w", err)
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

// Runs returns the most recent runs, newest first.
func (d *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, total, active, inactive, failed, cancelled FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Total, &r.Active, &r.Inactive, &r.Failed, &r.Cancelled); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finishedAt != "" {
			t, err := parseTime(finishedAt)
			if err != nil {
				return nil, err
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}
	return runs, nil
}

// UptimePercent returns the percentage of active outcomes among the last N
// outcomes for url.
func (d *DB) UptimePercent(ctx context.Context, url string, last int) (float64, error) {
	var total int
	var upCount sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(active)
		FROM (
			SELECT active FROM outcomes WHERE url = ? ORDER BY checked_at DESC, id DESC LIMIT ?
		)
	`, url, last).Scan(&total, &upCount)
	if err != nil {
		return 0, fmt.Errorf("calculating uptime for %q: %w", url, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(upCount.Int64) / float64(total) * 100, nil
}

// LastAlert returns when an alert was last sent for url. ok is false when
// none was ever sent.
func (d *DB) LastAlert(ctx context.Context, url string) (time.Time, bool, error) {
	var sentAt string
	err := d.db.QueryRowContext(ctx, `SELECT sent_at FROM alerts WHERE url = ?`, url).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last alert: %w", err)
	}
	t, err := parseTime(sentAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// RecordAlert stores at as the last alert time for url.
func (d *DB) RecordAlert(ctx context.Context, url string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO alerts (url, sent_at) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET sent_at = excluded.sent_at`,
		url, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (*Outcome, error) {
	var o Outcome
	var active int
	var checkedAt string
	err := row.Scan(&o.ID, &o.RunID, &o.URL, &o.FinalURL, &active, &o.StatusCode, &o.Error,
		&o.ResponseMs, &o.ContentLength, &o.Attempts, &checkedAt)
	if err != nil {
		return nil, err
	}
	o.Active = active == 1
	if o.CheckedAt, err = parseTime(checkedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var outcomes []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outcome row: %w", err)
		}
		outcomes = append(outcomes, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcome rows: %w", err)
	}
	return outcomes, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
