// Package journal keeps a sqlite record of connection lifecycle events,
// driver log lines, and sampled frame summaries, one session per process
// run. It subscribes to a tracking.Connection like any other listener.
package journal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/motionframe/internal/tracking"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultFrameSampleEvery is how many released frames pass between samples.
const DefaultFrameSampleEvery = 600

// Entry is one journalled event.
type Entry struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	Kind       string    `json:"kind"`
	Severity   string    `json:"severity,omitempty"`
	FrameID    int64     `json:"frame_id"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FrameSample is a summary of one released frame.
type FrameSample struct {
	FrameID   int64 `json:"frame_id"`
	Timestamp int64 `json:"timestamp_us"`
	Hands     int   `json:"hands"`
	Images    int   `json:"images"`
	RawImages int   `json:"raw_images"`
	HasQuad   bool  `json:"has_quad"`
}

// Journal is a tracking.Listener that writes to sqlite. Write failures are
// logged and counted; they never reach the dispatch loop.
type Journal struct {
	tracking.BaseListener

	db      *sql.DB
	session string

	// FrameSampleEvery controls frame sampling; zero disables it.
	FrameSampleEvery uint64

	frames atomic.Uint64
	failed atomic.Uint64
}

// Open opens or creates the journal at path, migrates it to the latest
// schema, and starts a new session labelled with source.
func Open(path, source string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps sqlite from reporting the database as locked.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, session: uuid.NewString(), FrameSampleEvery: DefaultFrameSampleEvery}
	if _, err := db.Exec(`INSERT INTO sessions (session_id, source) VALUES (?, ?)`, j.session, source); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	log.Printf("[journal] session %s started at %s", j.session, path)
	return j, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close db as well.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Session returns the id of the session this journal writes to.
func (j *Journal) Session() string { return j.session }

// Errors returns how many writes have failed.
func (j *Journal) Errors() uint64 { return j.failed.Load() }

// Record appends an event to the current session.
func (j *Journal) Record(kind, severity string, frameID int64, message string) error {
	_, err := j.db.Exec(
		`INSERT INTO events (session_id, kind, severity, frame_id, message) VALUES (?, ?, ?, ?, ?)`,
		j.session, kind, severity, frameID, message,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}

// RecordFrame stores a frame summary. Re-recording a frame id replaces it.
func (j *Journal) RecordFrame(f tracking.Frame) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO frame_samples (session_id, frame_id, timestamp_us, hands, images, raw_images, has_quad)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.session, f.ID, f.Timestamp, len(f.Hands), len(f.Images), len(f.RawImages), f.TrackedQuad.IsValid,
	)
	if err != nil {
		return fmt.Errorf("record frame %d: %w", f.ID, err)
	}
	return nil
}

// Recent returns up to n events from the current session, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT event_id, session_id, kind, severity, frame_id, message, CAST(strftime('%s', recorded_at) AS INTEGER)
		 FROM events WHERE session_id = ? ORDER BY event_id DESC LIMIT ?`,
		j.session, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var unix int64
		if err := rows.Scan(&e.ID, &e.Session, &e.Kind, &e.Severity, &e.FrameID, &e.Message, &unix); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(unix, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Samples returns up to n frame samples from the current session, newest
// first.
func (j *Journal) Samples(n int) ([]FrameSample, error) {
	rows, err := j.db.Query(
		`SELECT frame_id, timestamp_us, hands, images, raw_images, has_quad
		 FROM frame_samples WHERE session_id = ? ORDER BY frame_id DESC LIMIT ?`,
		j.session, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameSample
	for rows.Next() {
		var s FrameSample
		if err := rows.Scan(&s.FrameID, &s.Timestamp, &s.Hands, &s.Images, &s.RawImages, &s.HasQuad); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close ends the session and closes the database.
func (j *Journal) Close() error {
	_, err := j.db.Exec(`UPDATE sessions SET ended_at = CURRENT_TIMESTAMP WHERE session_id = ?`, j.session)
	if cerr := j.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (j *Journal) record(kind, severity string, frameID int64, message string) {
	if err := j.Record(kind, severity, frameID, message); err != nil {
		j.failed.Add(1)
		log.Printf("[journal] %v", err)
	}
}

// OnConnect implements tracking.Listener.
func (j *Journal) OnConnect() { j.record("connect", "", -1, "") }

// OnDisconnect implements tracking.Listener.
func (j *Journal) OnDisconnect() { j.record("disconnect", "", -1, "") }

// OnDevice implements tracking.Listener.
func (j *Journal) OnDevice(d tracking.DeviceInfo) {
	j.record("device", "", -1, fmt.Sprintf("id=%d serial=%s product=%s", d.ID, d.SerialNumber, d.Product))
}

// OnDeviceLost implements tracking.Listener.
func (j *Journal) OnDeviceLost(d tracking.DeviceInfo) {
	j.record("device_lost", "", -1, fmt.Sprintf("id=%d serial=%s", d.ID, d.SerialNumber))
}

// OnDeviceFailure implements tracking.Listener.
func (j *Journal) OnDeviceFailure(e tracking.DeviceFailureEvent) {
	j.record("device_failure", tracking.SeverityCritical.String(), -1, fmt.Sprintf("status=%d path=%s", e.Status, e.Path))
}

// OnLog implements tracking.Listener.
func (j *Journal) OnLog(e tracking.LogEvent) {
	j.record("log", e.Severity.String(), -1, e.Message)
}

// OnPolicyChange implements tracking.Listener.
func (j *Journal) OnPolicyChange(p tracking.Policy) {
	j.record("policy", "", -1, p.String())
}

// OnDistortionChange implements tracking.Listener.
func (j *Journal) OnDistortionChange(d tracking.DistortionChange) {
	j.record("distortion", "", -1, fmt.Sprintf("%s version=%d", d.Perspective, d.Version))
}

// OnFatal implements tracking.Listener.
func (j *Journal) OnFatal(err error) {
	j.record("fatal", tracking.SeverityCritical.String(), -1, err.Error())
}

// OnFrame implements tracking.Listener. Every FrameSampleEvery-th frame is
// sampled, starting with the first.
func (j *Journal) OnFrame(f tracking.Frame) {
	every := j.FrameSampleEvery
	if every == 0 {
		return
	}
	if (j.frames.Add(1)-1)%every != 0 {
		return
	}
	if err := j.RecordFrame(f); err != nil {
		j.failed.Add(1)
		log.Printf("[journal] %v", err)
	}
}
