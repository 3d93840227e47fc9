// Package repository is the durable store for sessions, messages, and
// attachment rows in a single embedded relational database.
package repository

import (
	"context"
	"errors"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrSessionNotFound is returned when an operation references a session
// that does not exist.
var ErrSessionNotFound = errors.New("repository: session not found")

// ListSessionsOptions configures list_sessions pagination and filtering.
type ListSessionsOptions struct {
	Limit  int
	Offset int
	Search string
}

// Store is the repository's operation surface. Every method is a single
// transaction; appends to a given session are serialized by the
// implementation.
type Store interface {
	// AppendMessage assigns msg a new id within session_id, persists it,
	// and bumps the session's updated_at. If the session has no title yet
	// and msg is the first user message, a truncated auto-title is set.
	// Creates the session row first if it doesn't already exist.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) (*models.Message, error)

	// ListMessages returns every message for sessionID in id order.
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)

	// ListSessions returns saved sessions whose title or first user message
	// matches opts.Search (case-insensitive substring), ordered by
	// coalesce(updated_at, created_at) desc, paginated by Limit/Offset.
	ListSessions(ctx context.Context, opts ListSessionsOptions) ([]*models.SessionSummary, error)

	// GetSession fetches a single session row, or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// SetTitle replaces a session's title and title_source.
	SetTitle(ctx context.Context, sessionID string, title string, source models.TitleSource) error

	// DeleteSession removes the session and its messages, and detaches its
	// attachment rows for later reaping (blob deletion is deferred to the
	// attachment service's background reaper).
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases the underlying database handle.
	Close() error
}
