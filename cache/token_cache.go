package cache

import (
	"context"
	"time"
)

// TokenEntry is a cached view of a validated session token, keeping the hot
// validation path off the database.
type TokenEntry struct {
	Identifier     string    `redis:"identifier"`
	UserID         string    `redis:"userId"`
	ExpirationDate time.Time `redis:"expirationDate"`
}

// TokenCache is the cache tier consulted by token validation before the
// store. Implementations: in-memory ttlcache and Redis.
type TokenCache interface {
	Set(ctx context.Context, entry *TokenEntry) error
	Get(ctx context.Context, identifier string) (*TokenEntry, error)
	Delete(ctx context.Context, identifier string) error
	// DeleteAllForUser drops every cached token belonging to a user, called
	// on revocation so stale entries cannot outlive the store delete.
	DeleteAllForUser(ctx context.Context, userID string) error
	Close() error
}
