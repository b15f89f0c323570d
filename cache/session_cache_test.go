package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// fakeSessionStore is an in-memory stand-in for the Mongo repository with
// injectable failures.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.RateLimitSession
	failIPs  map[string]bool
	failAll  bool
	upserts  int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*domain.RateLimitSession),
		failIPs:  make(map[string]bool),
	}
}

func (f *fakeSessionStore) GetByIP(_ context.Context, ip string) (*domain.RateLimitSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	s, ok := f.sessions[ip]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (f *fakeSessionStore) Upsert(_ context.Context, session *domain.RateLimitSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failAll || f.failIPs[session.IPAddress] {
		return errors.New("store unavailable")
	}
	f.sessions[session.IPAddress] = session.Clone()
	return nil
}

func (f *fakeSessionStore) ListActiveSince(_ context.Context, since time.Time, limit int64) ([]*domain.RateLimitSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store unavailable")
	}
	var out []*domain.RateLimitSession
	for _, s := range f.sessions {
		if !s.LastCall.Before(since) && int64(len(out)) < limit {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (f *fakeSessionStore) stored(ip string) *domain.RateLimitSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[ip]; ok {
		return s.Clone()
	}
	return nil
}

func newTestCache(store *fakeSessionStore) *SessionCache {
	return NewSessionCache(store, SessionCacheConfig{})
}

func sessionAt(ip string, lastCall time.Time) *domain.RateLimitSession {
	return &domain.RateLimitSession{
		IPAddress: ip,
		Calls:     1,
		FirstCall: lastCall,
		LastCall:  lastCall,
	}
}

func TestSessionCacheGetMissesThenHydrates(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	ctx := context.Background()

	_, ok := c.Get(ctx, "1.2.3.4")
	assert.False(t, ok)

	store.sessions["1.2.3.4"] = sessionAt("1.2.3.4", time.Now())
	got, ok := c.Get(ctx, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4", got.IPAddress)

	// Now served from memory even if the store record disappears.
	delete(store.sessions, "1.2.3.4")
	_, ok = c.Get(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func TestSessionCacheStoreFailureFailsOpen(t *testing.T) {
	store := newFakeSessionStore()
	store.failAll = true
	c := newTestCache(store)

	_, ok := c.Get(context.Background(), "1.2.3.4")
	assert.False(t, ok, "a store outage must look like a fresh IP, not block traffic")
}

func TestSessionCacheFlushWritesDirtyOnly(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	ctx := context.Background()

	c.Put("1.1.1.1", sessionAt("1.1.1.1", time.Now()))
	c.Put("2.2.2.2", sessionAt("2.2.2.2", time.Now()))
	require.Equal(t, 2, c.DirtyCount())

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, c.DirtyCount())
	assert.NotNil(t, store.stored("1.1.1.1"))
	assert.NotNil(t, store.stored("2.2.2.2"))

	upserts := store.upserts
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, upserts, store.upserts, "clean entries must not be re-flushed")
}

func TestSessionCacheFlushPartialFailureKeepsFailedDirty(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	ctx := context.Background()

	c.Put("1.1.1.1", sessionAt("1.1.1.1", time.Now()))
	c.Put("2.2.2.2", sessionAt("2.2.2.2", time.Now()))
	store.failIPs["2.2.2.2"] = true

	err := c.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, c.DirtyCount(), "only the failed IP stays dirty")
	assert.NotNil(t, store.stored("1.1.1.1"))
	assert.Nil(t, store.stored("2.2.2.2"))

	// Next cycle succeeds and the update is not lost.
	store.failIPs["2.2.2.2"] = false
	require.NoError(t, c.Flush(ctx))
	assert.NotNil(t, store.stored("2.2.2.2"))
}

func TestSessionCachePutAndFlushBypassesBatch(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	ctx := context.Background()

	now := time.Now().UTC()
	s := sessionAt("9.9.9.9", now)
	s.RateLimitedAt = &now
	require.NoError(t, c.PutAndFlush(ctx, "9.9.9.9", s))

	stored := store.stored("9.9.9.9")
	require.NotNil(t, stored, "blacklist must be visible to a cache-cold reader immediately")
	assert.True(t, stored.Blacklisted())
	assert.Equal(t, 0, c.DirtyCount())
}

func TestSessionCachePutAndFlushFailureStaysDirty(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)

	store.failIPs["9.9.9.9"] = true
	now := time.Now().UTC()
	s := sessionAt("9.9.9.9", now)
	s.RateLimitedAt = &now

	require.Error(t, c.PutAndFlush(context.Background(), "9.9.9.9", s))
	assert.Equal(t, 1, c.DirtyCount(), "a failed fast-path write must be retried by the next cycle")
}

func TestSessionCacheSweepEvictsIdleOnly(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	ctx := context.Background()

	now := time.Now().UTC()
	c.now = func() time.Time { return now }

	stale := now.Add(-2 * time.Hour)
	recentCreation := now.Add(-3 * time.Hour)

	idle := sessionAt("1.1.1.1", stale)

	blacklisted := sessionAt("2.2.2.2", stale)
	blAt := stale
	blacklisted.RateLimitedAt = &blAt

	creator := sessionAt("3.3.3.3", recentCreation)
	created := now.Add(-2 * time.Hour)
	creator.LastAccountCreation = &created

	fresh := sessionAt("4.4.4.4", now.Add(-time.Minute))

	for _, s := range []*domain.RateLimitSession{idle, blacklisted, creator, fresh} {
		c.Put(s.IPAddress, s)
	}
	require.NoError(t, c.Flush(ctx))

	c.Sweep()

	_, ok := c.entries["1.1.1.1"]
	assert.False(t, ok, "idle non-blacklisted entry should be evicted")
	_, ok = c.entries["2.2.2.2"]
	assert.True(t, ok, "blacklisted entry must survive the sweep")
	_, ok = c.entries["3.3.3.3"]
	assert.True(t, ok, "recent account creator must survive the sweep")
	_, ok = c.entries["4.4.4.4"]
	assert.True(t, ok, "active entry must survive the sweep")
}

func TestSessionCacheSweepKeepsDirtyEntries(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)

	now := time.Now().UTC()
	c.now = func() time.Time { return now }

	c.Put("1.1.1.1", sessionAt("1.1.1.1", now.Add(-2*time.Hour)))
	c.Sweep()

	_, ok := c.entries["1.1.1.1"]
	assert.True(t, ok, "an unflushed entry must never be evicted")
}

func TestSessionCacheWarmPreloads(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Now().UTC()
	store.sessions["1.1.1.1"] = sessionAt("1.1.1.1", now.Add(-10*time.Minute))
	store.sessions["2.2.2.2"] = sessionAt("2.2.2.2", now.Add(-3*time.Hour))

	c := newTestCache(store)
	c.Warm(context.Background())

	assert.Equal(t, 1, c.Len(), "only sessions active within the eviction age are warmed")
	_, ok := c.entries["1.1.1.1"]
	assert.True(t, ok)
}

func TestSessionCacheShutdownFlushes(t *testing.T) {
	store := newFakeSessionStore()
	c := newTestCache(store)
	c.Start()

	c.Put("1.1.1.1", sessionAt("1.1.1.1", time.Now()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.NotNil(t, store.stored("1.1.1.1"), "shutdown must run a final flush")
}
