package pluginmanager

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CrashLog persists a durable, queryable history of plugin load/unload
// failures, beyond the in-memory Metrics counters on Entry — those reset on
// process restart; this survives it. Grounded on the pack's
// modernc.org/sqlite usage pattern (pure-Go driver, WAL pragmas baked into
// the DSN) applied to a single narrow table instead of a full schema.
type CrashLog struct {
	db *sql.DB
}

// OpenCrashLog opens (creating if necessary) the sqlite-backed crash ledger
// at path and ensures its schema exists.
func OpenCrashLog(path string) (*CrashLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create crash log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open crash log: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS plugin_crashes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plugin_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_plugin_crashes_name ON plugin_crashes(plugin_name);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create crash log schema: %w", err)
	}

	return &CrashLog{db: db}, nil
}

func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "busy_timeout=5000")
	v.Add("_pragma", "synchronous=NORMAL")
	return path + "?" + v.Encode()
}

// Record appends one crash entry for name.
func (c *CrashLog) Record(ctx context.Context, name, kind, message string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO plugin_crashes (plugin_name, kind, message, occurred_at) VALUES (?, ?, ?, ?)`,
		name, kind, message, time.Now().Unix())
	return err
}

// CrashRecord is one row of a plugin's recorded crash history.
type CrashRecord struct {
	Kind       string
	Message    string
	OccurredAt time.Time
}

// History returns name's recorded crashes, most recent first.
func (c *CrashLog) History(ctx context.Context, name string) ([]CrashRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT kind, message, occurred_at FROM plugin_crashes WHERE plugin_name = ? ORDER BY occurred_at DESC, id DESC`,
		name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CrashRecord
	for rows.Next() {
		var rec CrashRecord
		var ts int64
		if err := rows.Scan(&rec.Kind, &rec.Message, &ts); err != nil {
			return nil, err
		}
		rec.OccurredAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (c *CrashLog) Close() error { return c.db.Close() }
