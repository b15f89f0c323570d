package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenCache implements TokenCache using ttlcache. Entries expire on
// their own at the token expiration date; revocation deletes them eagerly.
type MemoryTokenCache struct {
	cache *ttlcache.Cache[string, *TokenEntry]

	mu     sync.Mutex
	byUser map[string]map[string]struct{}
}

// NewMemoryTokenCache creates an in-memory token cache with automatic
// expiry cleanup.
func NewMemoryTokenCache() *MemoryTokenCache {
	c := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *TokenEntry](),
	)

	m := &MemoryTokenCache{
		cache:  c,
		byUser: make(map[string]map[string]struct{}),
	}

	c.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *TokenEntry]) {
		m.forget(item.Value().UserID, item.Key())
	})

	go c.Start()

	return m
}

func (m *MemoryTokenCache) Set(_ context.Context, entry *TokenEntry) error {
	ttl := time.Until(entry.ExpirationDate)
	if ttl <= 0 {
		return nil
	}
	m.cache.Set(entry.Identifier, entry, ttl)

	m.mu.Lock()
	ids, ok := m.byUser[entry.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[entry.UserID] = ids
	}
	ids[entry.Identifier] = struct{}{}
	m.mu.Unlock()

	return nil
}

func (m *MemoryTokenCache) Get(_ context.Context, identifier string) (*TokenEntry, error) {
	item := m.cache.Get(identifier)
	if item == nil {
		return nil, fmt.Errorf("token %q not in cache", identifier)
	}
	return item.Value(), nil
}

func (m *MemoryTokenCache) Delete(_ context.Context, identifier string) error {
	if item := m.cache.Get(identifier); item != nil {
		m.forget(item.Value().UserID, identifier)
	}
	m.cache.Delete(identifier)
	return nil
}

func (m *MemoryTokenCache) DeleteAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	ids := m.byUser[userID]
	delete(m.byUser, userID)
	identifiers := make([]string, 0, len(ids))
	for id := range ids {
		identifiers = append(identifiers, id)
	}
	m.mu.Unlock()

	for _, id := range identifiers {
		m.cache.Delete(id)
	}
	return nil
}

// Close stops the background expiry goroutine.
func (m *MemoryTokenCache) Close() error {
	m.cache.Stop()
	return nil
}

func (m *MemoryTokenCache) forget(userID, identifier string) {
	m.mu.Lock()
	if ids, ok := m.byUser[userID]; ok {
		delete(ids, identifier)
		if len(ids) == 0 {
			delete(m.byUser, userID)
		}
	}
	m.mu.Unlock()
}

var _ TokenCache = (*MemoryTokenCache)(nil)
