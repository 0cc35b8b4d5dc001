package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID    int64                  `json:"event_id"`
	Timestamp  time.Time              `json:"ts"`
	Level      string                 `json:"level"`
	Event      string                 `json:"event"`
	Message    *string                `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	InstanceID string                 `json:"instance_id"`
	JobID      *string                `json:"job_id,omitempty"`
}

// CheckRunRow is the stored outcome of one model-check job.
type CheckRunRow struct {
	JobID            string    `json:"job_id"`
	InstanceID       string    `json:"instance_id"`
	Status           string    `json:"status"`
	Finding          string    `json:"finding,omitempty"`
	StateID          string    `json:"state_id,omitempty"`
	Message          string    `json:"message,omitempty"`
	StatesFound      int       `json:"states_found"`
	StatesProcessed  int       `json:"states_processed"`
	TransitionsFound int       `json:"transitions_found"`
	Steps            int       `json:"steps"`
	ElapsedMillis    int64     `json:"elapsed_ms"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Options are the connection settings. Empty fields fall back to the
// PG* environment variables and then to defaults.
type Options struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
	SSLMode  string
}

// Client manages the Postgres connection for event and check-run storage.
type Client struct {
	db         *sql.DB
	instanceID string
}

// New connects and creates the tables if needed.
// Returns an error if connection fails (caller should handle gracefully).
func New(instanceID string, opts Options) (*Client, error) {
	host := pick(opts.Host, "PGHOST", "127.0.0.1")
	port := pick(opts.Port, "PGPORT", "5432")
	user := pick(opts.User, "PGUSER", "statespace")
	dbname := pick(opts.Database, "PGDATABASE", "statespace")
	sslmode := pick(opts.SSLMode, "PGSSLMODE", "disable")
	password := opts.Password
	if password == "" {
		password = os.Getenv("PGPASSWORD")
	}

	var connStr string
	if password != "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode)
	} else {
		connStr = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
			host, port, user, dbname, sslmode)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:         db,
		instanceID: instanceID,
	}

	if err := client.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func pick(val, env, defaultVal string) string {
	if val != "" {
		return val
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id    BIGSERIAL PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL,
			level       TEXT NOT NULL,
			event       TEXT NOT NULL,
			msg         TEXT,
			fields      JSONB,
			instance_id TEXT NOT NULL,
			job_id      TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_instance_id ON events(instance_id);

		CREATE TABLE IF NOT EXISTS check_runs (
			job_id            TEXT PRIMARY KEY,
			instance_id       TEXT NOT NULL,
			status            TEXT NOT NULL,
			finding           TEXT,
			state_id          TEXT,
			message           TEXT,
			states_found      INTEGER NOT NULL,
			states_processed  INTEGER NOT NULL,
			transitions_found INTEGER NOT NULL,
			steps             INTEGER NOT NULL,
			elapsed_ms        BIGINT NOT NULL,
			finished_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_check_runs_finished ON check_runs(finished_at DESC);
	`
	_, err := c.db.Exec(query)
	return err
}

// Append inserts an event into the database.
// Returns error if insert fails.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, jobID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, instance_id, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, nullable(msg), fieldsJSON, c.instanceID, nullable(jobID))
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Query returns the last N events from the database in descending order by timestamp.
func (c *Client) Query(limit int) ([]EventRow, error) {
	limit = clampLimit(limit)

	query := `
		SELECT event_id, ts, level, event, msg, fields, instance_id, job_id
		FROM events
		WHERE instance_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, jobID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.InstanceID, &jobID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if jobID.Valid {
			e.JobID = &jobID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// AppendCheckRun stores the outcome of a finished job. Storing the same
// job twice keeps the latest outcome.
func (c *Client) AppendCheckRun(ctx context.Context, r CheckRunRow) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO check_runs (job_id, instance_id, status, finding, state_id, message,
			states_found, states_processed, transitions_found, steps, elapsed_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			finding = EXCLUDED.finding,
			state_id = EXCLUDED.state_id,
			message = EXCLUDED.message,
			states_found = EXCLUDED.states_found,
			states_processed = EXCLUDED.states_processed,
			transitions_found = EXCLUDED.transitions_found,
			steps = EXCLUDED.steps,
			elapsed_ms = EXCLUDED.elapsed_ms,
			finished_at = EXCLUDED.finished_at
	`
	_, err := c.db.ExecContext(ctx, query, r.JobID, c.instanceID, r.Status,
		nullable(r.Finding), nullable(r.StateID), nullable(r.Message),
		r.StatesFound, r.StatesProcessed, r.TransitionsFound, r.Steps, r.ElapsedMillis, r.FinishedAt)
	return err
}

// QueryCheckRuns returns the latest check runs of this instance, newest first.
func (c *Client) QueryCheckRuns(ctx context.Context, limit int) ([]CheckRunRow, error) {
	limit = clampLimit(limit)

	query := `
		SELECT job_id, instance_id, status, finding, state_id, message,
			states_found, states_processed, transitions_found, steps, elapsed_ms, finished_at
		FROM check_runs
		WHERE instance_id = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CheckRunRow
	for rows.Next() {
		var r CheckRunRow
		var finding, stateID, msg sql.NullString
		if err := rows.Scan(&r.JobID, &r.InstanceID, &r.Status, &finding, &stateID, &msg,
			&r.StatesFound, &r.StatesProcessed, &r.TransitionsFound, &r.Steps, &r.ElapsedMillis, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Finding = finding.String
		r.StateID = stateID.String
		r.Message = msg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
