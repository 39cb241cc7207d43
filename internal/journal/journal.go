// Package journal persists engine events and small pieces of system state in
// SQLite.
//
// Two tables back it (see migrations/):
//
//   - device_events: append-only history of quarantines, releases, replays,
//     detected overrides and verification mismatches
//   - system_kv: JSON values by key (quarantine notice counters, last human
//     detection per device, queue high-water marks)
//
// The journal is advisory. The engine logs and ignores journal failures.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event kinds.
const (
	KindQuarantined = "quarantined"
	KindReleased    = "released"
	KindReplayed    = "replayed"
	KindOverride    = "override"
	KindMismatch    = "mismatch"
)

// Well-known system_kv keys.
const (
	KeyQuarantineNotices = "quarantine_notifications"
	KeyLastHumanDetected = "last_human_detected"
	KeyQueueHighWater    = "queue_high_water"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Domain errors for the journal package.
var (
	// ErrInvalidEvent is returned when an event lacks a device ID or kind.
	ErrInvalidEvent = errors.New("journal: event requires device id and kind")

	// ErrKeyNotFound is returned by Get for an unknown key.
	ErrKeyNotFound = errors.New("journal: key not found")
)

// Event is one journal entry.
type Event struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteRepository implements the journal on an open SQLite connection.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository.
//
// Parameters:
//   - db: Open SQLite connection with the arbiter schema applied
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record appends an event.
func (r *SQLiteRepository) Record(ctx context.Context, e Event) error {
	if e.DeviceID == "" || e.Kind == "" {
		return ErrInvalidEvent
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO device_events (device_id, kind, detail) VALUES (?, ?, ?)",
		e.DeviceID,
		e.Kind,
		e.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// History returns recent events, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device to filter on; empty returns events for every device
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Event: Events ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) History(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `SELECT id, device_id, kind, detail, created_at
		 FROM device_events`
	args := []any{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Kind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = ts
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the given duration and returns the number removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting device events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Put stores value as JSON under key, replacing any previous value.
func (r *SQLiteRepository) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", key, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO system_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     value = excluded.value,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		key,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// Get decodes the JSON value stored under key into dst.
// Returns ErrKeyNotFound when the key is absent.
func (r *SQLiteRepository) Get(ctx context.Context, key string, dst any) error {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM system_kv WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("loading %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshalling %s: %w", key, err)
	}
	return nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
