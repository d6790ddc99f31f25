// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
)

// Repository persists projects, learner sessions and their attempt records.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// ListProjects returns every project, most recently updated first.
	ListProjects(ctx context.Context) ([]*domain.Project, error)

	// GetProject retrieves a project with its interaction catalog.
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)

	// UpsertProject creates or replaces a project.
	UpsertProject(ctx context.Context, project *domain.Project) error

	// DeleteProject removes a project. Sessions recorded against it are kept.
	DeleteProject(ctx context.Context, projectID string) error

	// CreateSession inserts a new session with no attempts.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session and its attempts in discovery order.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns every session with attempts, oldest first.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// UpsertAttempt folds delta into the attempt record for interactionID
	// within a single transaction and returns the stored result. It returns
	// domain.ErrNotFound when the session does not exist.
	UpsertAttempt(ctx context.Context, sessionID, interactionID string, delta domain.Delta, at time.Time) (*domain.Attempt, error)

	// ReplaceSession writes session and its attempts, discarding any
	// existing rows for the same session id.
	ReplaceSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session and its attempts.
	DeleteSession(ctx context.Context, sessionID string) error
}
