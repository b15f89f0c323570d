package domain

import (
	"context"
	"time"
)

// RateLimitSessionRepository persists per-IP rate-limit sessions. All writes
// are upserts keyed by IP address; the session cache is the only caller.
type RateLimitSessionRepository interface {
	GetByIP(ctx context.Context, ip string) (*RateLimitSession, error)
	Upsert(ctx context.Context, session *RateLimitSession) error
	// ListActiveSince returns sessions with last_call >= since, newest first,
	// capped at limit. Used to warm the cache at startup.
	ListActiveSince(ctx context.Context, since time.Time, limit int64) ([]*RateLimitSession, error)
}

// SecurityFlagRepository stores the audit trail.
type SecurityFlagRepository interface {
	Insert(ctx context.Context, flag *SecurityFlag) error
	GetByID(ctx context.Context, id string) (*SecurityFlag, error)
	List(ctx context.Context, filter SecurityFlagFilter) ([]*SecurityFlag, error)
	// MarkResolved sets the resolution fields on an unresolved flag and
	// reports whether anything changed. An already resolved or missing flag
	// matches nothing and returns false.
	MarkResolved(ctx context.Context, id, resolvedBy, notes string, at time.Time) (bool, error)
	// PurgeResolvedBefore deletes resolved flags older than cutoff and
	// returns the number removed. Unresolved flags are never deleted.
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionTokenRepository stores opaque bearer tokens.
type SessionTokenRepository interface {
	Store(ctx context.Context, token *SessionToken) error
	GetByIdentifier(ctx context.Context, identifier string) (*SessionToken, error)
	Delete(ctx context.Context, identifier string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// UserRepository is read-mostly from this core's perspective: credential
// verification, guest-key fallback, and the design-update cooldown stamp.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByGuestKey(ctx context.Context, guestKey string) (*User, error)
	TouchDesignUpdate(ctx context.Context, id string, at time.Time) error
}

// ForumRepository covers QuartzForums accounts and messages.
type ForumRepository interface {
	CreateAccount(ctx context.Context, account *ForumAccount) error
	GetAccount(ctx context.Context, implKey, displayName string) (*ForumAccount, error)
	GetAccountByID(ctx context.Context, id string) (*ForumAccount, error)
	TouchLastMessage(ctx context.Context, accountID string, at time.Time) error
	InsertMessage(ctx context.Context, msg *ForumMessage) error
	ListMessages(ctx context.Context, implKey string, limit, skip int64) ([]*ForumMessage, error)
}
