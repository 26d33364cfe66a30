// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Sessions, stored events, activity and routes with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/switchboard/internal/notify"
)

// SQLiteStore implements the Store interface using SQLite.
// Notifications are delivered in-process.
type SQLiteStore struct {
	db     *sql.DB
	bus    *notify.Broadcaster
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		bus:    notify.New(logger),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			mode INTEGER,
			last_message_ref TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS stored_events (
			event_key TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			stored_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_stored_events_user
			ON stored_events(user_id, namespace);

		CREATE TABLE IF NOT EXISTS activity_log (
			activity_id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			phone_number TEXT NOT NULL,
			origin TEXT NOT NULL,
			register_id TEXT NOT NULL,
			destination_systems TEXT NOT NULL,

			CHECK (origin IN ('INCOMING', 'OUTGOING'))
		);

		CREATE INDEX IF NOT EXISTS idx_activity_phone_ts
			ON activity_log(phone_number, ts);

		CREATE TABLE IF NOT EXISTS routes (
			mode INTEGER NOT NULL,
			position INTEGER NOT NULL,
			system_id TEXT NOT NULL,
			PRIMARY KEY (mode, position)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// System implements Store.
func (s *SQLiteStore) System() string { return "SQLITE" }

// Close closes the database connection and every notification subscriber.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	s.bus.Close()
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// GetMode returns the user's mode, ok=false when it was never set.
func (s *SQLiteStore) GetMode(ctx context.Context, user string) (int, bool, error) {
	var mode sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM sessions WHERE user_id = ?`, user).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("get mode", err)
	}
	if !mode.Valid {
		return 0, false, nil
	}
	return int(mode.Int64), true, nil
}

// SetMode stores the user's mode.
func (s *SQLiteStore) SetMode(ctx context.Context, user string, mode int) error {
	query := `
		INSERT INTO sessions (user_id, mode, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode = excluded.mode,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, user, mode, nowString()); err != nil {
		return storeErr("set mode", err)
	}
	return nil
}

// GetLastMessageRef returns the id of the user's last inbound message.
func (s *SQLiteStore) GetLastMessageRef(ctx context.Context, user string) (string, bool, error) {
	var ref sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_message_ref FROM sessions WHERE user_id = ?`, user).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get last message", err)
	}
	if !ref.Valid || ref.String == "" {
		return "", false, nil
	}
	return ref.String, true, nil
}

// SetLastMessageRef stores the id of the user's last inbound message.
func (s *SQLiteStore) SetLastMessageRef(ctx context.Context, user, ref string) error {
	query := `
		INSERT INTO sessions (user_id, last_message_ref, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_message_ref = excluded.last_message_ref,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, user, ref, nowString()); err != nil {
		return storeErr("set last message", err)
	}
	return nil
}

// StoreEvent stores raw under its namespaced key, replacing any previous value.
func (s *SQLiteStore) StoreEvent(ctx context.Context, namespace, user, id string, raw []byte) (string, error) {
	key := EventKey(namespace, user, id)
	query := `
		INSERT INTO stored_events (event_key, namespace, user_id, event_id, payload, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, namespace, user, id, raw, nowString()); err != nil {
		return "", storeErr("store event", err)
	}
	return key, nil
}

// GetStoredEvent returns the stored bytes or ErrNotFound.
func (s *SQLiteStore) GetStoredEvent(ctx context.Context, namespace, user, id string) ([]byte, error) {
	key := EventKey(namespace, user, id)
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM stored_events WHERE event_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, storeErr("get stored event", err)
	}
	return raw, nil
}

// AppendActivity inserts a record and returns its generated id.
func (s *SQLiteStore) AppendActivity(ctx context.Context, r *ActivityRecord) (string, error) {
	prepareRecord(r)
	id := uuid.New().String()

	systems := r.DestinationSystems
	if systems == nil {
		systems = []string{}
	}
	systemsJSON, err := json.Marshal(systems)
	if err != nil {
		return "", fmt.Errorf("marshaling destination systems: %w", err)
	}

	query := `
		INSERT INTO activity_log (activity_id, ts, phone_number, origin, register_id, destination_systems)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		r.Timestamp.UnixMilli(),
		r.PhoneNumber,
		string(r.Origin),
		r.RegisterID,
		string(systemsJSON),
	)
	if err != nil {
		return "", storeErr("append activity", err)
	}

	r.ID = id
	s.logger.Debug("appended activity",
		"id", id,
		"user", r.PhoneNumber,
		"origin", r.Origin,
	)
	return id, nil
}

const activityQuery = `
	SELECT activity_id, ts, phone_number, origin, register_id, destination_systems
	FROM activity_log
	WHERE (? = '' OR phone_number = ?)
	  AND (? = '' OR origin = ?)
	  AND (? IS NULL OR ts >= ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListActivity returns records matching the filter, newest first.
func (s *SQLiteStore) ListActivity(ctx context.Context, f ActivityFilter) ([]ActivityRecord, error) {
	var since *int64
	if f.Since != nil {
		ms := f.Since.UnixMilli()
		since = &ms
	}

	rows, err := s.db.QueryContext(ctx, activityQuery,
		f.PhoneNumber, f.PhoneNumber,
		string(f.Origin), string(f.Origin),
		since, since,
		normalizeActivityLimit(f.Limit),
	)
	if err != nil {
		return nil, storeErr("list activity", err)
	}
	defer func() { _ = rows.Close() }()

	records := []ActivityRecord{}
	for rows.Next() {
		var r ActivityRecord
		var ts int64
		var origin, systemsJSON string
		if err := rows.Scan(&r.ID, &ts, &r.PhoneNumber, &origin, &r.RegisterID, &systemsJSON); err != nil {
			return nil, storeErr("scanning activity", err)
		}
		r.Timestamp = time.UnixMilli(ts).UTC()
		r.Origin = Origin(origin)
		if err := json.Unmarshal([]byte(systemsJSON), &r.DestinationSystems); err != nil {
			return nil, storeErr("decoding destination systems", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating activity", err)
	}
	return records, nil
}

// GetDestinations returns the ordered systems routed for mode.
func (s *SQLiteStore) GetDestinations(ctx context.Context, mode int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT system_id FROM routes WHERE mode = ? ORDER BY position`, mode)
	if err != nil {
		return nil, storeErr("get destinations", err)
	}
	defer func() { _ = rows.Close() }()

	systems := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scanning destination", err)
		}
		systems = append(systems, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating destinations", err)
	}
	return systems, nil
}

// SetDestinations replaces the systems routed for mode.
func (s *SQLiteStore) SetDestinations(ctx context.Context, mode int, systems []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("set destinations", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes WHERE mode = ?`, mode); err != nil {
		return storeErr("clearing destinations", err)
	}
	for i, id := range systems {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (mode, position, system_id) VALUES (?, ?, ?)`, mode, i, id); err != nil {
			return storeErr("inserting destination", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("committing destinations", err)
	}
	return nil
}

// Publish delivers payload to in-process subscribers.
func (s *SQLiteStore) Publish(ctx context.Context, topic string, payload []byte) error {
	n := s.bus.Publish(topic, payload)
	s.logger.Debug("published notification", "topic", topic, "subscribers", n)
	return nil
}

// Subscribe registers an in-process subscriber until ctx is cancelled.
func (s *SQLiteStore) Subscribe(ctx context.Context, pattern string) (<-chan notify.Message, error) {
	ch, _ := s.bus.Subscribe(ctx, pattern)
	return ch, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}
