package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WizardState is the persisted subset of the wizard controller. Candidate
// scripts are deliberately absent: after a restart they are fetched again.
type WizardState struct {
	SessionID      string
	SelectedScript string
	Voice          string
	Mode           string
	LastAction     string
	UpdatedAt      time.Time
}

// RecentSession is a session created from this machine.
type RecentSession struct {
	SessionID string
	Idea      string
	CreatedAt time.Time
}

type Repository interface {
	LoadWizardState(ctx context.Context) (*WizardState, error)
	SaveWizardState(ctx context.Context, state *WizardState) error
	ClearWizardState(ctx context.Context) error

	RecordSession(ctx context.Context, sessionID, idea string) error
	ListRecentSessions(ctx context.Context, limit int) ([]*RecentSession, error)
	RecentIdeas(ctx context.Context) (map[string]string, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// sortableTime keeps a fixed width so text ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadWizardState returns nil, nil when nothing was saved.
func (r *SQLiteRepository) LoadWizardState(ctx context.Context) (*WizardState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, selected_script, voice, mode, last_action, updated_at
		FROM wizard_state WHERE id = 1
	`)

	var s WizardState
	var sessionID, selected, voice, mode sql.NullString
	var updatedAt string
	err := row.Scan(&sessionID, &selected, &voice, &mode, &s.LastAction, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wizard state: %w", err)
	}

	s.SessionID = sessionID.String
	s.SelectedScript = selected.String
	s.Voice = voice.String
	s.Mode = mode.String
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) SaveWizardState(ctx context.Context, s *WizardState) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	lastAction := s.LastAction
	if lastAction == "" {
		lastAction = "none"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wizard_state (id, session_id, selected_script, voice, mode, last_action, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			selected_script = excluded.selected_script,
			voice = excluded.voice,
			mode = excluded.mode,
			last_action = excluded.last_action,
			updated_at = excluded.updated_at
	`, nullString(s.SessionID), nullString(s.SelectedScript), nullString(s.Voice), nullString(s.Mode),
		lastAction, s.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save wizard state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ClearWizardState(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM wizard_state WHERE id = 1")
	return err
}

func (r *SQLiteRepository) RecordSession(ctx context.Context, sessionID, idea string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recent_sessions (session_id, idea, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET idea = excluded.idea
	`, sessionID, idea, time.Now().UTC().Format(sortableTime))
	return err
}

func (r *SQLiteRepository) ListRecentSessions(ctx context.Context, limit int) ([]*RecentSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, idea, created_at FROM recent_sessions
		ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RecentSession
	for rows.Next() {
		var s RecentSession
		var createdAt string
		if err := rows.Scan(&s.SessionID, &s.Idea, &createdAt); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(sortableTime, createdAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// RecentIdeas maps session id to idea for every recorded session.
func (r *SQLiteRepository) RecentIdeas(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT session_id, idea FROM recent_sessions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, idea string
		if err := rows.Scan(&id, &idea); err != nil {
			return nil, err
		}
		out[id] = idea
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// EnsureClientID returns the per-installation client id, creating it on
// first use.
func EnsureClientID(ctx context.Context, repo Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, "client_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	id := uuid.NewString()
	if err := repo.SetConfig(ctx, "client_id", id); err != nil {
		return "", err
	}
	return id, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
