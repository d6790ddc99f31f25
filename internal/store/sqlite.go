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
	"sync"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to prevent SQLITE_BUSY
	retry   shared.RetryPolicy
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRetryPolicy sets the SQLITE_BUSY retry policy used by delete and
// replace operations.
func WithRetryPolicy(p shared.RetryPolicy) Option {
	return func(s *SQLiteStore) { s.retry = p }
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions take the write lock
	// up front so upserts never deadlock on lock promotion.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		video_json TEXT,
		interactions_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		learner_name TEXT NOT NULL,
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

	CREATE TABLE IF NOT EXISTS session_attempts (
		session_id TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		answered INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		time_spent_ms INTEGER NOT NULL DEFAULT 0,
		shown_at INTEGER,
		answered_at INTEGER,
		PRIMARY KEY (session_id, interaction_id)
	);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const projectColumns = `project_id, name, video_json, interactions_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var videoJSON sql.NullString
	var interactionsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(&p.ID, &p.Name, &videoJSON, &interactionsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if videoJSON.Valid {
		var v domain.Video
		if err := json.Unmarshal([]byte(videoJSON.String), &v); err != nil {
			return nil, fmt.Errorf("decode video for %s: %w", p.ID, err)
		}
		p.Video = &v
	}
	if err := json.Unmarshal([]byte(interactionsJSON), &p.Interactions); err != nil {
		return nil, fmt.Errorf("decode interactions for %s: %w", p.ID, err)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

// ListProjects returns every project, most recently updated first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC, project_id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close project rows", "error", closeErr)
		}
	}()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// GetProject retrieves a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

// UpsertProject creates or replaces a project. created_at is kept from the
// first insert.
func (s *SQLiteStore) UpsertProject(ctx context.Context, project *domain.Project) error {
	query := `
	INSERT INTO projects (project_id, name, video_json, interactions_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		name = excluded.name,
		video_json = excluded.video_json,
		interactions_json = excluded.interactions_json,
		updated_at = excluded.updated_at`

	var videoJSON any
	if project.Video != nil {
		b, err := json.Marshal(project.Video)
		if err != nil {
			return fmt.Errorf("encode video: %w", err)
		}
		videoJSON = string(b)
	}
	interactions := project.Interactions
	if interactions == nil {
		interactions = []domain.Interaction{}
	}
	interactionsJSON, err := json.Marshal(interactions)
	if err != nil {
		return fmt.Errorf("encode interactions: %w", err)
	}

	now := time.Now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, query,
		project.ID, project.Name, videoJSON, string(interactionsJSON),
		project.CreatedAt.UnixMilli(), project.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// DeleteProject removes a project, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteProject(ctx context.Context, projectID string) error {
	err := shared.RetryOnConflict(ctx, s.retry, "delete project", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete project %s: %w", projectID, err)
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, project_id, project_name, learner_name, started_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.ProjectID, session.ProjectName, session.LearnerName,
		session.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, project_id, project_name, learner_name, started_at`

const attemptColumns = `session_id, interaction_id, attempt_count, skipped, answered, correct,
	time_spent_ms, shown_at, answered_at`

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var startedAt int64
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.ProjectName, &sess.LearnerName, &startedAt); err != nil {
		return nil, err
	}
	sess.StartedAt = time.UnixMilli(startedAt)
	return &sess, nil
}

func scanAttempt(row rowScanner) (string, domain.Attempt, error) {
	var sessionID string
	var a domain.Attempt
	var timeSpent int64
	var shownAt, answeredAt sql.NullInt64

	err := row.Scan(
		&sessionID, &a.InteractionID, &a.Attempts, &a.Skipped, &a.Answered, &a.Correct,
		&timeSpent, &shownAt, &answeredAt,
	)
	if err != nil {
		return "", domain.Attempt{}, err
	}
	a.TimeSpent = time.Duration(timeSpent) * time.Millisecond
	if shownAt.Valid {
		a.ShownAt = time.UnixMilli(shownAt.Int64)
	}
	if answeredAt.Valid {
		ts := time.UnixMilli(answeredAt.Int64)
		a.AnsweredAt = &ts
	}
	return sessionID, a, nil
}

// GetSession retrieves a session and its attempts.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	byID, err := s.queryAttempts(ctx, `WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Attempts = byID[sessionID]
	return sess, nil
}

// ListSessions returns every session with attempts, oldest first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	byID, err := s.queryAttempts(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		sess.Attempts = byID[sess.ID]
	}
	return sessions, nil
}

// queryAttempts loads attempts grouped by session id, each group in
// discovery (insertion) order.
func (s *SQLiteStore) queryAttempts(ctx context.Context, where string, args ...any) (map[string][]domain.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM session_attempts `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	byID := make(map[string][]domain.Attempt)
	for rows.Next() {
		sessionID, a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		byID[sessionID] = append(byID[sessionID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return byID, nil
}

// UpsertAttempt folds delta into the stored attempt in one transaction.
func (s *SQLiteStore) UpsertAttempt(ctx context.Context, sessionID, interactionID string, delta domain.Delta, at time.Time) (*domain.Attempt, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin attempt tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back attempt tx", "session_id", sessionID, "error", rbErr)
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	query := `
	INSERT INTO session_attempts (
		session_id, interaction_id, attempt_count, skipped, answered, correct,
		time_spent_ms, shown_at, answered_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, interaction_id) DO UPDATE SET
		attempt_count = session_attempts.attempt_count + excluded.attempt_count,
		skipped = MAX(session_attempts.skipped, excluded.skipped),
		answered = MAX(session_attempts.answered, excluded.answered),
		correct = MAX(session_attempts.correct, excluded.correct),
		time_spent_ms = session_attempts.time_spent_ms + excluded.time_spent_ms,
		shown_at = COALESCE(session_attempts.shown_at, excluded.shown_at),
		answered_at = COALESCE(session_attempts.answered_at, excluded.answered_at)`

	var shownAt, answeredAt any
	if !delta.ShownAt.IsZero() {
		shownAt = delta.ShownAt.UnixMilli()
	}
	if delta.Answered {
		answeredAt = at.UnixMilli()
	}

	_, err = tx.ExecContext(ctx, query,
		sessionID, interactionID, delta.Attempts, delta.Skipped, delta.Answered, delta.Correct,
		delta.TimeSpent.Milliseconds(), shownAt, answeredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert attempt: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM session_attempts WHERE session_id = ? AND interaction_id = ?`,
		sessionID, interactionID)
	_, attempt, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("read back attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attempt: %w", err)
	}
	return &attempt, nil
}

// ReplaceSession overwrites a session and all of its attempts.
func (s *SQLiteStore) ReplaceSession(ctx context.Context, session *domain.Session) error {
	err := shared.RetryOnConflict(ctx, s.retry, "replace session", func() error {
		return s.replaceSessionOnce(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("replace session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLiteStore) replaceSessionOnce(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back replace tx", "session_id", session.ID, "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_attempts WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO sessions (session_id, project_id, project_name, learner_name, started_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		project_id = excluded.project_id,
		project_name = excluded.project_name,
		learner_name = excluded.learner_name,
		started_at = excluded.started_at`,
		session.ID, session.ProjectID, session.ProjectName, session.LearnerName,
		session.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO session_attempts (
		session_id, interaction_id, attempt_count, skipped, answered, correct,
		time_spent_ms, shown_at, answered_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attempt insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close attempt statement", "error", closeErr)
		}
	}()

	for _, a := range session.Attempts {
		var shownAt, answeredAt any
		if !a.ShownAt.IsZero() {
			shownAt = a.ShownAt.UnixMilli()
		}
		if a.AnsweredAt != nil {
			answeredAt = a.AnsweredAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx,
			session.ID, a.InteractionID, a.Attempts, a.Skipped, a.Answered, a.Correct,
			a.TimeSpent.Milliseconds(), shownAt, answeredAt,
		); err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.InteractionID, err)
		}
	}

	return tx.Commit()
}

// DeleteSession removes a session and its attempts, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	err := shared.RetryOnConflict(ctx, s.retry, "delete session", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_attempts WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
