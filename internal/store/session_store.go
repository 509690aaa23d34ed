package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/platescan/internal/domain"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoImage            = errors.New("no image selected")
	ErrAnalysisInProgress = errors.New("analysis already in progress")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `id, preview_key, mime_type, image_bytes, result, error_message, error_kind,
	is_loading, seq, created_at, updated_at`

// SessionStore keeps per-browser UI state. Timestamps are unix milliseconds.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Create(ctx context.Context) (*domain.Session, error) {
	id := uuid.NewString()
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
	`, id, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns nil, nil when the session does not exist.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q querier, id string) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		sess      domain.Session
		result    sql.NullString
		loading   int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&sess.ID, &sess.PreviewKey, &sess.MimeType, &sess.ImageBytes, &result,
		&sess.Error, &sess.ErrorKind, &loading, &sess.Seq, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		var r domain.AnalysisResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode stored result: %w", err)
		}
		sess.Result = &r
	}
	sess.IsLoading = loading != 0
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// Touch refreshes the idle timer of a session.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	return s.exec(ctx, "touch session", `
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, s.now().UnixMilli(), id)
}

// SetImage records a newly selected image, clears any result or error, stops
// waiting on an in-flight analysis and returns the preview key it replaced.
func (s *SessionStore) SetImage(ctx context.Context, id, previewKey, mimeType string, size int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSession(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrSessionNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET preview_key = ?, mime_type = ?, image_bytes = ?, result = NULL,
			error_message = '', error_kind = '', is_loading = 0, seq = seq + 1, updated_at = ?
		WHERE id = ?
	`, previewKey, mimeType, size, s.now().UnixMilli(), id)
	if err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit image selection: %w", err)
	}
	return sess.PreviewKey, nil
}

// SetError shows an error without an analysis, e.g. a rejected upload. Any
// in-flight analysis is superseded.
func (s *SessionStore) SetError(ctx context.Context, id, kind, message string) error {
	return s.exec(ctx, "set error", `
		UPDATE sessions
		SET result = NULL, error_message = ?, error_kind = ?, is_loading = 0, seq = seq + 1, updated_at = ?
		WHERE id = ?
	`, message, kind, s.now().UnixMilli(), id)
}

// BeginAnalysis moves the session into the loading state and returns it with
// the sequence token the analysis must present on completion.
func (s *SessionStore) BeginAnalysis(ctx context.Context, id string) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case sess == nil:
		return nil, ErrSessionNotFound
	case !sess.HasImage():
		return nil, ErrNoImage
	case sess.IsLoading:
		return nil, ErrAnalysisInProgress
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET result = NULL, error_message = '', error_kind = '', is_loading = 1, seq = seq + 1, updated_at = ?
		WHERE id = ?
	`, s.now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to begin analysis: %w", err)
	}

	updated, err := getSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit analysis start: %w", err)
	}
	return updated, nil
}

// CompleteAnalysis stores result if seq is still current. It reports whether
// the result was applied.
func (s *SessionStore) CompleteAnalysis(ctx context.Context, id string, seq int64, result *domain.AnalysisResult) (bool, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to encode result: %w", err)
	}
	return s.finish(ctx, "complete analysis", `
		UPDATE sessions
		SET result = ?, error_message = '', error_kind = '', is_loading = 0, updated_at = ?
		WHERE id = ? AND seq = ? AND is_loading = 1
	`, string(encoded), s.now().UnixMilli(), id, seq)
}

// FailAnalysis stores a user-facing failure if seq is still current. It
// reports whether the failure was applied.
func (s *SessionStore) FailAnalysis(ctx context.Context, id string, seq int64, kind, message string) (bool, error) {
	return s.finish(ctx, "fail analysis", `
		UPDATE sessions
		SET result = NULL, error_message = ?, error_kind = ?, is_loading = 0, updated_at = ?
		WHERE id = ? AND seq = ? AND is_loading = 1
	`, message, kind, s.now().UnixMilli(), id, seq)
}

func (s *SessionStore) finish(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListIdleSince returns sessions not updated since cutoff, oldest first.
func (s *SessionStore) ListIdleSince(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	return s.list(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE updated_at < ? ORDER BY updated_at ASC`, cutoff.UnixMilli())
}

func (s *SessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	return s.list(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at ASC`)
}

func (s *SessionStore) list(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteIdle deletes the session only if it has not been updated since
// cutoff. It reports whether a row was removed, so a session touched after it
// was listed as idle survives.
func (s *SessionStore) DeleteIdle(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	return s.finish(ctx, "delete idle session", `
		DELETE FROM sessions WHERE id = ? AND updated_at < ?
	`, id, cutoff.UnixMilli())
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, "delete session", `DELETE FROM sessions WHERE id = ?`, id)
}

// exec runs a single-row update and maps zero affected rows to ErrSessionNotFound.
func (s *SessionStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
