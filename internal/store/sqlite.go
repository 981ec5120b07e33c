// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session and message audit persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is RFC3339 with fixed-width fractional seconds. Timestamps are
// stored as TEXT and compared lexicographically, so the width must not vary.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL,
			source            TEXT NOT NULL,
			subject           TEXT,
			transport         TEXT,
			remote_addr       TEXT,
			connected_at      TEXT NOT NULL,
			disconnected_at   TEXT,
			disconnect_reason TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_session_id
			ON sessions(session_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_connected
			ON sessions(connected_at DESC);

		CREATE TABLE IF NOT EXISTS message_log (
			id          TEXT PRIMARY KEY,
			message_id  TEXT NOT NULL,
			session_id  TEXT NOT NULL,
			type        TEXT NOT NULL,
			source      TEXT NOT NULL,
			success     INTEGER NOT NULL,
			handler     TEXT,
			error_code  TEXT,
			duration_us INTEGER NOT NULL,
			ts          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_message_log_ts
			ON message_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_message_log_session
			ON message_log(session_id, ts);
		CREATE INDEX IF NOT EXISTS idx_message_log_type
			ON message_log(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			table:  "sessions",
			check:  `SELECT 1 FROM pragma_table_info('sessions') WHERE name = 'remote_addr'`,
			apply:  `ALTER TABLE sessions ADD COLUMN remote_addr TEXT`,
			column: "remote_addr",
		},
		{
			table:  "message_log",
			check:  `SELECT 1 FROM pragma_table_info('message_log') WHERE name = 'error_code'`,
			apply:  `ALTER TABLE message_log ADD COLUMN error_code TEXT`,
			column: "error_code",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// SessionOpened records the start of a session. Generates the row ID and
// ConnectedAt if not set.
func (s *SQLiteStore) SessionOpened(ctx context.Context, rec *SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sessions (id, session_id, source, subject, transport, remote_addr, connected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Source,
		rec.Subject,
		rec.Transport,
		rec.RemoteAddr,
		rec.ConnectedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting session record: %w", err)
	}

	s.logger.Debug("recorded session open", "session_id", rec.SessionID, "source", rec.Source)
	return nil
}

// SessionAuthenticated records the subject granted to an open session.
func (s *SQLiteStore) SessionAuthenticated(ctx context.Context, sessionID, subject string) error {
	query := `
		UPDATE sessions
		SET subject = ?
		WHERE session_id = ? AND disconnected_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, subject, sessionID)
	if err != nil {
		return fmt.Errorf("recording session subject: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking subject update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SessionClosed marks the most recent open record for sessionID as closed.
// Session IDs restart from one when the host restarts, so only the open row
// is touched.
func (s *SQLiteStore) SessionClosed(ctx context.Context, sessionID, reason string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query := `
		UPDATE sessions
		SET disconnected_at = ?, disconnect_reason = ?
		WHERE id = (
			SELECT id FROM sessions
			WHERE session_id = ? AND disconnected_at IS NULL
			ORDER BY connected_at DESC
			LIMIT 1
		)
	`
	res, err := s.db.ExecContext(ctx, query, at.UTC().Format(timeLayout), reason, sessionID)
	if err != nil {
		return fmt.Errorf("closing session record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking close result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	s.logger.Debug("recorded session close", "session_id", sessionID, "reason", reason)
	return nil
}

// GetSession returns the session record with the given row ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	query := `
		SELECT id, session_id, source, subject, transport, remote_addr, connected_at, disconnected_at, disconnect_reason
		FROM sessions
		WHERE id = ?
	`
	rec, err := scanSessionRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSessions returns session records, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]SessionRecord, error) {
	query := `
		SELECT id, session_id, source, subject, transport, remote_addr, connected_at, disconnected_at, disconnect_reason
		FROM sessions
		WHERE (? = 0 OR disconnected_at IS NULL)
		ORDER BY connected_at DESC
		LIMIT ?
	`
	activeOnly := 0
	if filter.ActiveOnly {
		activeOnly = 1
	}

	rows, err := s.db.QueryContext(ctx, query, activeOnly, normalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	if records == nil {
		records = []SessionRecord{}
	}
	return records, nil
}

// LogMessage appends one routed message to the audit trail. Generates the
// row ID and At if not set.
func (s *SQLiteStore) LogMessage(ctx context.Context, rec *MessageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	success := 0
	if rec.Success {
		success = 1
	}

	query := `
		INSERT INTO message_log (id, message_id, session_id, type, source, success, handler, error_code, duration_us, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.MessageID,
		rec.SessionID,
		rec.Type,
		rec.Source,
		success,
		rec.Handler,
		rec.ErrorCode,
		rec.Duration.Microseconds(),
		rec.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message record: %w", err)
	}
	return nil
}

const messageLogQuery = `
	SELECT id, message_id, session_id, type, source, success, handler, error_code, duration_us, ts
	FROM message_log
	WHERE (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR type = ?)
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR success = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListMessages returns audit records matching the filter, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]MessageRecord, error) {
	var sinceStr *string
	if filter.Since != nil {
		v := filter.Since.UTC().Format(timeLayout)
		sinceStr = &v
	}
	var successInt *int
	if filter.Success != nil {
		v := 0
		if *filter.Success {
			v = 1
		}
		successInt = &v
	}

	rows, err := s.db.QueryContext(ctx, messageLogQuery,
		filter.SessionID, filter.SessionID,
		filter.Type, filter.Type,
		sinceStr, sinceStr,
		successInt, successInt,
		normalizeLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying message log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []MessageRecord
	for rows.Next() {
		rec, err := scanMessageRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message records: %w", err)
	}

	if records == nil {
		records = []MessageRecord{}
	}
	return records, nil
}

// Totals reports how many sessions and messages have been recorded.
func (s *SQLiteStore) Totals(ctx context.Context) (int64, int64, error) {
	var sessions, messages int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, fmt.Errorf("counting sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_log`).Scan(&messages); err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}
	return sessions, messages, nil
}

// Prune deletes message records older than cutoff and session records that
// both started and ended before cutoff. Open sessions are never pruned.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffStr := cutoff.UTC().Format(timeLayout)

	res, err := s.db.ExecContext(ctx, `DELETE FROM message_log WHERE ts < ?`, cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("pruning message log: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking prune result: %w", err)
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE disconnected_at IS NOT NULL AND disconnected_at < ?`, cutoffStr)
	if err != nil {
		return pruned, fmt.Errorf("pruning sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pruned, fmt.Errorf("checking prune result: %w", err)
	}
	pruned += n

	if pruned > 0 {
		s.logger.Info("pruned audit records", "count", pruned, "cutoff", cutoffStr)
	}
	return pruned, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanSessionRecord scans a row into a SessionRecord.
func scanSessionRecord(scanner interface{ Scan(dest ...any) error }) (*SessionRecord, error) {
	var rec SessionRecord
	var subject, transport, remoteAddr, reason sql.NullString
	var connectedStr string
	var disconnectedStr sql.NullString

	if err := scanner.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Source,
		&subject,
		&transport,
		&remoteAddr,
		&connectedStr,
		&disconnectedStr,
		&reason,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session record: %w", err)
	}

	rec.Subject = subject.String
	rec.Transport = transport.String
	rec.RemoteAddr = remoteAddr.String
	rec.DisconnectReason = reason.String

	var err error
	rec.ConnectedAt, err = time.Parse(time.RFC3339Nano, connectedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connected_at: %w", err)
	}
	if disconnectedStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, disconnectedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing disconnected_at: %w", err)
		}
		rec.DisconnectedAt = &t
	}
	return &rec, nil
}

// scanMessageRecord scans a row into a MessageRecord.
func scanMessageRecord(scanner interface{ Scan(dest ...any) error }) (MessageRecord, error) {
	var rec MessageRecord
	var handler, errorCode sql.NullString
	var success int
	var durationUS int64
	var tsStr string

	if err := scanner.Scan(
		&rec.ID,
		&rec.MessageID,
		&rec.SessionID,
		&rec.Type,
		&rec.Source,
		&success,
		&handler,
		&errorCode,
		&durationUS,
		&tsStr,
	); err != nil {
		return rec, fmt.Errorf("scanning message record: %w", err)
	}

	rec.Success = success != 0
	rec.Handler = handler.String
	rec.ErrorCode = errorCode.String
	rec.Duration = time.Duration(durationUS) * time.Microsecond

	var err error
	rec.At, err = time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return rec, fmt.Errorf("parsing ts: %w", err)
	}
	return rec, nil
}
