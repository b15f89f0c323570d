package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

var (
	// ErrCreationCooldown means this IP already created an account within
	// the cooldown period.
	ErrCreationCooldown = errors.New("account creation limit reached, try again tomorrow")

	// ErrActionCooldown means the user performed this action too recently.
	ErrActionCooldown = errors.New("slow down, try again in a minute")
)

// CheckCooldown is the single-flag rule shared by all action limiters:
// reject when the last action timestamp is within the cooldown, else allow.
// A nil last timestamp always allows.
func CheckCooldown(last *time.Time, cooldown time.Duration, now time.Time) error {
	if last != nil && now.Sub(*last) < cooldown {
		return ErrActionCooldown
	}
	return nil
}

// CreationLimiter enforces the per-IP account creation cooldown using the
// same rate-limit session records and cache-then-store read path as the
// windowed limiter.
type CreationLimiter struct {
	cache    *cache.SessionCache
	cooldown time.Duration
	now      func() time.Time
}

// NewCreationLimiter builds the limiter. Cooldown <= 0 defaults to 24h.
func NewCreationLimiter(sessionCache *cache.SessionCache, cooldown time.Duration) *CreationLimiter {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &CreationLimiter{
		cache:    sessionCache,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Check rejects when the IP created an account within the cooldown.
func (l *CreationLimiter) Check(ctx context.Context, ip string) error {
	session, ok := l.cache.Get(ctx, ip)
	if !ok {
		return nil
	}
	if err := CheckCooldown(session.LastAccountCreation, l.cooldown, l.now().UTC()); err != nil {
		return ErrCreationCooldown
	}
	return nil
}

// RecordCreation stamps a successful account creation for the IP. The stamp
// also exempts the session from cache eviction for the cooldown period.
func (l *CreationLimiter) RecordCreation(ctx context.Context, ip string) {
	now := l.now().UTC()
	session, ok := l.cache.Get(ctx, ip)
	if !ok {
		session = &domain.RateLimitSession{
			IPAddress: ip,
			Calls:     1,
			FirstCall: now,
			LastCall:  now,
		}
	}
	session.LastAccountCreation = &now
	session.LastCall = now
	l.cache.Put(ip, session)
}
