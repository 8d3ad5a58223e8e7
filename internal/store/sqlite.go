// Package store provides SQLite persistence for chat sessions and captured leads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
	"github.com/digitalforce/flexi/backend/internal/service/session"
)

var (
	_ session.Store = (*SQLiteStore)(nil)
	_ lead.Store    = (*SQLiteStore)(nil)
)

// SQLiteStore implements session.Store and lead.Store on one SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// sessionMu serializes read-modify-write of turn lists to avoid SQLITE_BUSY.
	sessionMu sync.Mutex
	now       func() time.Time
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc applies _pragma parameters on every new pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		turns_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS leads (
		lead_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		session_id TEXT,
		captured_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_leads_captured ON leads(captured_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads the session record for sessionID.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (chat.SessionRecord, error) {
	return s.getSession(ctx, s.db, sessionID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getSession(ctx context.Context, q queryer, sessionID string) (chat.SessionRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT turns_json, updated_at FROM chat_sessions WHERE session_id = ?`, sessionID)

	var turnsJSON string
	var updatedAt int64
	err := row.Scan(&turnsJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.SessionRecord{}, session.ErrSessionNotFound
	}
	if err != nil {
		return chat.SessionRecord{}, fmt.Errorf("scan session row: %w", err)
	}

	var turns []chat.Turn
	if err := json.Unmarshal([]byte(turnsJSON), &turns); err != nil {
		return chat.SessionRecord{}, fmt.Errorf("decode session turns: %w", err)
	}

	return chat.SessionRecord{
		ID:        sessionID,
		Turns:     turns,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

// Append adds turn to the stored record, keeping at most chat.MaxTurns turns.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn chat.Turn) (chat.SessionRecord, error) {
	if sessionID == "" {
		return chat.SessionRecord{}, session.ErrSessionIDRequired
	}

	now := s.now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.SessionRecord{}, fmt.Errorf("begin session tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	record, err := s.getSession(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return chat.SessionRecord{}, err
	}

	record.ID = sessionID
	record.Turns = chat.AppendTurn(record.Turns, turn)
	record.UpdatedAt = now

	turnsJSON, err := json.Marshal(record.Turns)
	if err != nil {
		return chat.SessionRecord{}, fmt.Errorf("encode session turns: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, turns_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			turns_json = excluded.turns_json,
			updated_at = excluded.updated_at`,
		sessionID, string(turnsJSON), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return chat.SessionRecord{}, fmt.Errorf("upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return chat.SessionRecord{}, fmt.Errorf("commit session tx: %w", err)
	}
	return record, nil
}

// PruneSessions deletes sessions idle since before cutoff.
func (s *SQLiteStore) PruneSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// SaveLead inserts l.
func (s *SQLiteStore) SaveLead(ctx context.Context, l lead.Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (lead_id, name, email, session_id, captured_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Email, nullString(l.SessionID), l.CapturedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// ListLeads returns up to limit leads, newest first. A non-positive limit returns all.
func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]lead.Lead, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT lead_id, name, email, session_id, captured_at
		FROM leads ORDER BY captured_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []lead.Lead
	for rows.Next() {
		var l lead.Lead
		var sessionID sql.NullString
		var capturedAt int64
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &sessionID, &capturedAt); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		l.SessionID = sessionID.String
		l.CapturedAt = time.UnixMilli(capturedAt).UTC()
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
