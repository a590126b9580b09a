package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/chris/wikichat/internal/conversation"
)

// sqliteTime matches datetime('now').
const sqliteTime = "2006-01-02 15:04:05"

const titleLength = 60

type Session struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Dialect   string `json:"dialect"`
	Source    string `json:"source"`
	Title     string `json:"title,omitempty"`
	Turns     int    `json:"turns"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// UpdatedTime parses UpdatedAt. A malformed value yields the zero time.
func (s Session) UpdatedTime() time.Time {
	t, _ := time.ParseInLocation(sqliteTime, s.UpdatedAt, time.UTC)
	return t
}

// CreateSession stores a new session together with its system turn at seq 0.
func (d *DB) CreateSession(s Session, system conversation.Turn) error {
	if s.Source == "" {
		s.Source = "cli"
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO sessions (id, model, dialect, source) VALUES (?, ?, ?, ?)",
		s.ID, s.Model, s.Dialect, s.Source,
	); err != nil {
		return fmt.Errorf("creating session %s: %w", s.ID, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO turns (session_id, seq, role, content, call_id) VALUES (?, 0, ?, ?, ?)",
		s.ID, system.Role, system.Content, system.CallID,
	); err != nil {
		return fmt.Errorf("storing system turn: %w", err)
	}
	return tx.Commit()
}

// GetSession returns a session by ID, or nil if it does not exist.
func (d *DB) GetSession(id string) (*Session, error) {
	sessions, err := d.scanSessions(sessionSelect+" WHERE s.id = ? GROUP BY s.id", id)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// ListSessions returns the most recently active sessions first.
func (d *DB) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return d.scanSessions(sessionSelect+" GROUP BY s.id ORDER BY s.updated_at DESC, s.created_at DESC LIMIT ?", limit)
}

// RecordTurn appends one turn to a session's transcript. The first user
// turn becomes the session title.
func (d *DB) RecordTurn(sessionID string, seq int, t conversation.Turn) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("recording turn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO turns (session_id, seq, role, content, call_id) VALUES (?, ?, ?, ?, ?)",
		sessionID, seq, t.Role, t.Content, t.CallID,
	); err != nil {
		return fmt.Errorf("recording turn %d of %s: %w", seq, sessionID, err)
	}

	title := ""
	if t.Role == conversation.RoleUser && t.CallID == 0 {
		title = truncateTitle(t.Content)
	}
	res, err := tx.Exec(
		`UPDATE sessions SET
			title = CASE WHEN title = '' THEN ? ELSE title END,
			updated_at = datetime('now')
		 WHERE id = ?`,
		title, sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return tx.Commit()
}

// LoadTurns returns a session's transcript in order.
func (d *DB) LoadTurns(sessionID string) ([]conversation.Turn, error) {
	rows, err := d.conn.Query(
		"SELECT role, content, call_id FROM turns WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()
	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CallID); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// PruneSessions deletes sessions idle since before the cutoff, with their
// turns and channel bindings.
func (d *DB) PruneSessions(before time.Time) (int64, error) {
	res, err := d.conn.Exec("DELETE FROM sessions WHERE updated_at < ?", before.UTC().Format(sqliteTime))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return res.RowsAffected()
}

// Recorder binds RecordTurn to one session.
func (d *DB) Recorder(sessionID string) conversation.Recorder {
	return &sessionRecorder{db: d, sessionID: sessionID}
}

type sessionRecorder struct {
	db        *DB
	sessionID string
}

func (r *sessionRecorder) RecordTurn(seq int, t conversation.Turn) error {
	return r.db.RecordTurn(r.sessionID, seq, t)
}

const sessionSelect = `SELECT s.id, s.model, s.dialect, s.source, s.title, COUNT(t.seq), s.created_at, s.updated_at
	FROM sessions s LEFT JOIN turns t ON t.session_id = s.id`

func (d *DB) scanSessions(query string, args ...any) ([]Session, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Model, &s.Dialect, &s.Source, &s.Title, &s.Turns, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func truncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= titleLength {
		return s
	}
	return string(r[:titleLength]) + "..."
}

// ChannelSession returns the session bound to a chat channel, or "".
func (d *DB) ChannelSession(channelID string) (string, error) {
	var id string
	err := d.conn.QueryRow("SELECT session_id FROM channels WHERE channel_id = ?", channelID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting channel session: %w", err)
	}
	return id, nil
}

// SetChannelSession binds a chat channel to a session.
func (d *DB) SetChannelSession(channelID, sessionID string) error {
	_, err := d.conn.Exec(
		"INSERT INTO channels (channel_id, session_id) VALUES (?, ?) ON CONFLICT(channel_id) DO UPDATE SET session_id = ?, updated_at = datetime('now')",
		channelID, sessionID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("setting channel session: %w", err)
	}
	return nil
}
