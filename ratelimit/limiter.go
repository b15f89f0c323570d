// Package ratelimit implements the per-IP sliding-window limiter with
// escalating penalties, plus the simpler cooldown limiters for account
// creation and per-user actions.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/metrics"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
)

var (
	// ErrThrottled means the soft limit was exceeded; the caller should
	// answer 429 and the client can retry after the window resets.
	ErrThrottled = errors.New("rate limited, try again later")

	// ErrBlacklisted means the hard limit was exceeded; the IP is rejected
	// unconditionally until the stored session's TTL expires.
	ErrBlacklisted = errors.New("severely rate limited, try again in 24 hours")
)

// Config holds the limiter thresholds.
type Config struct {
	RateLimitPerMinute      int           // soft threshold
	BlacklistLimitPerMinute int           // hard threshold
	ResetWindow             time.Duration // sliding window size
	FlagSuppression         time.Duration // minimum gap between flags per IP
}

func (c *Config) applyDefaults() {
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 100
	}
	if c.BlacklistLimitPerMinute <= 0 {
		c.BlacklistLimitPerMinute = 300
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = time.Minute
	}
	if c.FlagSuppression <= 0 {
		c.FlagSuppression = 10 * time.Minute
	}
}

// Limiter decides allow/throttle/blacklist per inbound request. All state
// lives in the session cache; the limiter itself is stateless.
type Limiter struct {
	cache   *cache.SessionCache
	emitter *securityflag.Emitter
	cfg     Config
	now     func() time.Time
}

// NewLimiter builds a limiter over the given cache and flag emitter.
func NewLimiter(sessionCache *cache.SessionCache, emitter *securityflag.Emitter, cfg Config) *Limiter {
	cfg.applyDefaults()
	return &Limiter{
		cache:   sessionCache,
		emitter: emitter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Check evaluates one request from the given IP. A nil return means the
// request is allowed; ErrThrottled and ErrBlacklisted mean it must be
// rejected with 429 and the error's message.
func (l *Limiter) Check(ctx context.Context, ip string) error {
	now := l.now().UTC()

	session, ok := l.cache.Get(ctx, ip)
	if !ok {
		session = &domain.RateLimitSession{
			IPAddress: ip,
			Calls:     1,
			FirstCall: now,
			LastCall:  now,
		}
		l.cache.Put(ip, session)
		metrics.RequestsAllowedTotal.Inc()
		return nil
	}

	// Blacklist is sticky: no counter updates, no window resets, only the
	// store-side TTL lifts it.
	if session.Blacklisted() {
		session.LastCall = now
		l.cache.Put(ip, session)
		metrics.RequestsBlacklistedTotal.Inc()
		return ErrBlacklisted
	}

	// True elapsed duration, never minute-of-hour subtraction: the window
	// must behave the same across hour boundaries.
	if now.Sub(session.FirstCall) > l.cfg.ResetWindow {
		session.Calls = 1
		session.FirstCall = now
		session.LastCall = now
		l.cache.Put(ip, session)
		metrics.RequestsAllowedTotal.Inc()
		return nil
	}

	if session.Calls >= l.cfg.RateLimitPerMinute {
		if session.Calls >= l.cfg.BlacklistLimitPerMinute {
			session.RateLimitedAt = &now
			session.LastCall = now
			// Persist immediately so a cache-cold reader sees the
			// blacklist without waiting for the batch cycle.
			if err := l.cache.PutAndFlush(ctx, ip, session); err != nil {
				log.Warn().Err(err).Str("ip", ip).Msg("Blacklist fast-path flush failed, queued for retry")
			}
			log.Warn().Str("ip", ip).Int("calls", session.Calls).Msg("IP blacklisted")
			metrics.RequestsBlacklistedTotal.Inc()
			return ErrBlacklisted
		}

		crossing := session.Calls == l.cfg.RateLimitPerMinute
		session.Calls++
		session.LastCall = now
		if crossing && l.shouldFlag(session, now) {
			session.FlaggedAt = &now
			l.emitter.Record(securityflag.Event{
				IPAddress:   ip,
				RiskLevel:   domain.RiskNotice,
				Description: "IP exceeded the request rate limit",
				FileName:    "ratelimit",
				AdditionalData: map[string]any{
					"calls":     session.Calls,
					"firstCall": session.FirstCall,
				},
			})
		}
		l.cache.Put(ip, session)
		metrics.RequestsThrottledTotal.Inc()
		return ErrThrottled
	}

	session.Calls++
	session.LastCall = now
	l.cache.Put(ip, session)
	metrics.RequestsAllowedTotal.Inc()
	return nil
}

// shouldFlag suppresses repeat flags for the same IP inside the suppression
// window.
func (l *Limiter) shouldFlag(session *domain.RateLimitSession, now time.Time) bool {
	return session.FlaggedAt == nil || now.Sub(*session.FlaggedAt) >= l.cfg.FlagSuppression
}
