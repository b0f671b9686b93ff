package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

const schema = `
CREATE TABLE IF NOT EXISTS vitals (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	sim_time     REAL    NOT NULL,
	recorded_at  INTEGER NOT NULL,
	vitals_json  TEXT    NOT NULL,
	invalid_json TEXT    NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS alarm_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	parameter   TEXT    NOT NULL,
	level       TEXT    NOT NULL,
	active      INTEGER NOT NULL,
	value       REAL    NOT NULL,
	recorded_at INTEGER NOT NULL,
	priority    INTEGER NOT NULL,
	message     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS alarm_events_parameter ON alarm_events (parameter);
`

// SQLiteStore persists vitals frames and alarm events to a SQLite file. It
// implements sim.Sink and alarm.Listener so it can be attached to a live run.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create trace tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVitals(ctx context.Context, db execer, rec VitalsRecord) error {
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode vitals: %w", err)
	}
	invalid := []byte("{}")
	if len(rec.Invalid) > 0 {
		if invalid, err = json.Marshal(rec.Invalid); err != nil {
			return fmt.Errorf("encode invalid flags: %w", err)
		}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO vitals (sim_time, recorded_at, vitals_json, invalid_json) VALUES (?, ?, ?, ?)`,
		rec.SimTime, toMillis(rec.Timestamp), string(values), string(invalid))
	if err != nil {
		return fmt.Errorf("insert vitals: %w", err)
	}
	return nil
}

func insertAlarm(ctx context.Context, db execer, rec AlarmRecord) error {
	active := 0
	if rec.Active {
		active = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO alarm_events (id, parameter, level, active, value, recorded_at, priority, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Parameter, string(rec.Level), active, rec.Value, toMillis(rec.Timestamp), int(rec.Priority), rec.Message)
	if err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}
	return nil
}

// SaveVitals inserts one vitals frame.
func (s *SQLiteStore) SaveVitals(ctx context.Context, rec VitalsRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return insertVitals(ctx, s.db, rec)
}

// SaveAlarm inserts one alarm event. Event IDs are unique.
func (s *SQLiteStore) SaveAlarm(ctx context.Context, rec AlarmRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return insertAlarm(ctx, s.db, rec)
}

// SaveTrace writes every record of an in-memory trace in one transaction.
func (s *SQLiteStore) SaveTrace(ctx context.Context, st *SimulationTrace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trace tx: %w", err)
	}
	for _, f := range st.Frames() {
		if err := insertVitals(ctx, tx, f); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, a := range st.Alarms() {
		if err := insertAlarm(ctx, tx, a); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trace tx: %w", err)
	}
	return nil
}

// LoadVitals returns every stored frame in insertion order.
func (s *SQLiteStore) LoadVitals(ctx context.Context) ([]VitalsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sim_time, recorded_at, vitals_json, invalid_json FROM vitals ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select vitals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []VitalsRecord
	for rows.Next() {
		var (
			rec             VitalsRecord
			at              int64
			values, invalid string
		)
		if err := rows.Scan(&rec.SimTime, &at, &values, &invalid); err != nil {
			return nil, fmt.Errorf("scan vitals: %w", err)
		}
		rec.Timestamp = fromMillis(at)
		if err := json.Unmarshal([]byte(values), &rec.Values); err != nil {
			return nil, fmt.Errorf("decode vitals: %w", err)
		}
		if invalid != "{}" {
			if err := json.Unmarshal([]byte(invalid), &rec.Invalid); err != nil {
				return nil, fmt.Errorf("decode invalid flags: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadAlarms returns stored alarm events oldest first, optionally restricted to
// one parameter. An empty parameter returns all.
func (s *SQLiteStore) LoadAlarms(ctx context.Context, parameter string) ([]AlarmRecord, error) {
	query := `SELECT id, parameter, level, active, value, recorded_at, priority, message FROM alarm_events`
	var args []any
	if parameter != "" {
		query += ` WHERE parameter = ?`
		args = append(args, parameter)
	}
	query += ` ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select alarm events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []AlarmRecord
	for rows.Next() {
		var (
			rec      AlarmRecord
			level    string
			active   int
			at       int64
			priority int
		)
		if err := rows.Scan(&rec.ID, &rec.Parameter, &level, &active, &rec.Value, &at, &priority, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan alarm event: %w", err)
		}
		rec.Level = alarm.Level(level)
		rec.Active = active != 0
		rec.Timestamp = fromMillis(at)
		rec.Priority = alarm.Priority(priority)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PublishVitals implements sim.Sink.
func (s *SQLiteStore) PublishVitals(v sim.Vitals) error {
	return s.SaveVitals(context.Background(), vitalsRecord(v))
}

// PublishAlarm implements alarm.Listener.
func (s *SQLiteStore) PublishAlarm(ev alarm.Event) error {
	return s.SaveAlarm(context.Background(), alarmRecord(ev))
}
