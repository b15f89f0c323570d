// Package cache holds the in-memory tiers in front of MongoDB: the
// write-behind rate-limit session cache and the token validation cache.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// SessionCacheConfig tunes the write-behind behaviour. Zero values fall back
// to the production defaults.
type SessionCacheConfig struct {
	SyncInterval      time.Duration // flush cycle, default 30s
	SweepInterval     time.Duration // eviction sweep cycle, default 5m
	EvictionAge       time.Duration // idle age before eviction, default 1h
	CreationExemptAge time.Duration // account-creation eviction exemption, default 24h
	WarmLimit         int64         // max sessions preloaded at startup, default 10000
}

func (c *SessionCacheConfig) applyDefaults() {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.EvictionAge <= 0 {
		c.EvictionAge = time.Hour
	}
	if c.CreationExemptAge <= 0 {
		c.CreationExemptAge = 24 * time.Hour
	}
	if c.WarmLimit <= 0 {
		c.WarmLimit = 10000
	}
}

// SessionCache is the authoritative in-memory view of rate-limit sessions,
// write-behind to the persistent store. Reads hit memory first and lazily
// hydrate from the store; writes land in memory and are flushed in batches by
// the sync timer, except the blacklist fast path which flushes synchronously.
//
// The cache is constructed explicitly and lifecycle managed: Start launches
// the background timers, Shutdown stops them and runs one final flush.
type SessionCache struct {
	store domain.RateLimitSessionRepository
	cfg   SessionCacheConfig

	mu      sync.RWMutex
	entries map[string]*domain.RateLimitSession
	dirty   map[string]struct{}

	now func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSessionCache builds a stopped cache over the given store.
func NewSessionCache(store domain.RateLimitSessionRepository, cfg SessionCacheConfig) *SessionCache {
	cfg.applyDefaults()
	return &SessionCache{
		store:   store,
		cfg:     cfg,
		entries: make(map[string]*domain.RateLimitSession),
		dirty:   make(map[string]struct{}),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Get returns the session for an IP. On a memory miss it consults the store
// and populates the cache. A store failure is treated as a miss so traffic
// keeps flowing when the database is down.
func (c *SessionCache) Get(ctx context.Context, ip string) (*domain.RateLimitSession, bool) {
	c.mu.RLock()
	entry, ok := c.entries[ip]
	c.mu.RUnlock()
	if ok {
		return entry.Clone(), true
	}

	stored, err := c.store.GetByIP(ctx, ip)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Warn().Err(err).Str("ip", ip).Msg("Session store read failed, treating IP as new")
		}
		return nil, false
	}

	c.mu.Lock()
	// Another request may have populated or mutated the entry meanwhile;
	// in-memory state wins over what we just read.
	if current, ok := c.entries[ip]; ok {
		entry = current
	} else {
		c.entries[ip] = stored
		entry = stored
	}
	cloned := entry.Clone()
	c.mu.Unlock()

	return cloned, true
}

// Put overwrites the in-memory entry and marks the IP dirty for the next
// flush cycle.
func (c *SessionCache) Put(ip string, session *domain.RateLimitSession) {
	cp := session.Clone()
	c.mu.Lock()
	c.entries[ip] = cp
	c.dirty[ip] = struct{}{}
	c.mu.Unlock()
}

// PutAndFlush overwrites the entry and persists it synchronously, bypassing
// the batch cycle. Used when an IP first crosses into the blacklist. If the
// store write fails the entry stays dirty so the next cycle retries it.
func (c *SessionCache) PutAndFlush(ctx context.Context, ip string, session *domain.RateLimitSession) error {
	cp := session.Clone()
	c.mu.Lock()
	c.entries[ip] = cp
	c.mu.Unlock()

	if err := c.store.Upsert(ctx, cp.Clone()); err != nil {
		c.mu.Lock()
		c.dirty[ip] = struct{}{}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	delete(c.dirty, ip)
	c.mu.Unlock()
	return nil
}

// Flush upserts every dirty entry. Entries that fail to write are re-marked
// dirty; entries that succeed are not retried. Updates arriving while the
// flush is in flight re-dirty their IP and survive to the next cycle.
func (c *SessionCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := make(map[string]*domain.RateLimitSession, len(c.dirty))
	for ip := range c.dirty {
		if entry, ok := c.entries[ip]; ok {
			batch[ip] = entry.Clone()
		}
	}
	c.dirty = make(map[string]struct{})
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var failed []string
	for ip, entry := range batch {
		if err := c.store.Upsert(ctx, entry); err != nil {
			failed = append(failed, ip)
		}
	}

	if len(failed) > 0 {
		c.mu.Lock()
		for _, ip := range failed {
			c.dirty[ip] = struct{}{}
		}
		c.mu.Unlock()
		log.Warn().Int("failed", len(failed)).Int("total", len(batch)).
			Msg("Session flush partially failed, re-queued for next cycle")
		return errors.New("session flush partially failed")
	}

	log.Debug().Int("count", len(batch)).Msg("Flushed dirty rate limit sessions")
	return nil
}

// Warm preloads sessions active within the eviction age, bounded by
// WarmLimit. A failure here is logged and tolerated; the cache hydrates
// lazily either way.
func (c *SessionCache) Warm(ctx context.Context) {
	since := c.now().Add(-c.cfg.EvictionAge)
	sessions, err := c.store.ListActiveSince(ctx, since, c.cfg.WarmLimit)
	if err != nil {
		log.Warn().Err(err).Msg("Session cache warm-up failed, starting cold")
		return
	}

	c.mu.Lock()
	for _, s := range sessions {
		if _, ok := c.entries[s.IPAddress]; !ok {
			c.entries[s.IPAddress] = s
		}
	}
	c.mu.Unlock()

	log.Info().Int("count", len(sessions)).Msg("Session cache warmed")
}

// Start launches the flush and eviction timers.
func (c *SessionCache) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.syncLoop()
		go c.sweepLoop()
	})
}

// Shutdown stops the timers and performs one final synchronous flush.
func (c *SessionCache) Shutdown(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = c.Flush(ctx)
	})
	return err
}

func (c *SessionCache) syncLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// A failed flush must not kill the timer; failed IPs stay dirty.
			if err := c.Flush(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Periodic session flush failed")
			}
		case <-c.done:
			return
		}
	}
}

func (c *SessionCache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep evicts entries idle longer than the eviction age. Blacklisted
// entries, entries with a recent account creation, and entries still awaiting
// a flush are kept.
func (c *SessionCache) Sweep() {
	now := c.now()
	evicted := 0

	c.mu.Lock()
	for ip, entry := range c.entries {
		if now.Sub(entry.LastCall) < c.cfg.EvictionAge {
			continue
		}
		if entry.Blacklisted() {
			continue
		}
		if entry.LastAccountCreation != nil && now.Sub(*entry.LastAccountCreation) < c.cfg.CreationExemptAge {
			continue
		}
		if _, isDirty := c.dirty[ip]; isDirty {
			continue
		}
		delete(c.entries, ip)
		evicted++
	}
	c.mu.Unlock()

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Msg("Evicted idle rate limit sessions")
	}
}

// Len reports the number of in-memory entries.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DirtyCount reports how many IPs are awaiting a flush.
func (c *SessionCache) DirtyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty)
}
