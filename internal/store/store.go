// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/quangdm/shopchat/internal/domain"
)

// SessionStats summarizes the persisted session population.
type SessionStats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// SessionStore defines the durable per-session memory consumed by the
// gateway and the orchestrator.
//
// AddMessage and MergeContext for a given session id are atomic with
// respect to subsequent reads of that same id.
type SessionStore interface {
	// AddMessage appends a message to the session's history. Safe under
	// concurrent append for the same session id.
	AddMessage(ctx context.Context, sessionID string, msg domain.Message) error

	// ConversationHistory returns the most recent messages for a session,
	// oldest first, capped at limit.
	ConversationHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// Context returns the session's current merged context map.
	Context(ctx context.Context, sessionID string) (map[string]any, error)

	// MergeContext applies an additive shallow merge: a key is only ever
	// replaced by a newer value for the same key, never implicitly cleared.
	MergeContext(ctx context.Context, sessionID string, partial map[string]any) error

	// SaveProfile replaces the session's user profile wholesale.
	SaveProfile(ctx context.Context, sessionID string, profile *domain.UserProfile) error

	// Profile returns the session's profile, or nil if none was saved.
	Profile(ctx context.Context, sessionID string) (*domain.UserProfile, error)

	// HasSession reports whether a session record exists.
	HasSession(ctx context.Context, sessionID string) (bool, error)

	// ClearConversation empties the session's history and context while
	// keeping the session id valid for further chat.
	ClearConversation(ctx context.Context, sessionID string) error

	// RemoveSession deletes the session's history, context, and profile.
	RemoveSession(ctx context.Context, sessionID string) error

	// Stats returns aggregate counts over all persisted sessions.
	Stats(ctx context.Context) (*SessionStats, error)

	// CleanupExpiredSessions removes sessions idle longer than ttl and
	// returns the number of sessions removed.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close closes the store handle.
	Close() error
}
