package domain

import "time"

// RateLimitSession is the per-IP counter record used by the rate limiter.
// It is distinct from a user login session: its key is the client IP and it
// exists only to track request volume within the current window.
type RateLimitSession struct {
	IPAddress           string     `bson:"_id"                             json:"ipAddress"`
	Calls               int        `bson:"calls"                           json:"calls"`
	FirstCall           time.Time  `bson:"first_call"                      json:"firstCall"`
	LastCall            time.Time  `bson:"last_call"                       json:"lastCall"`
	RateLimitedAt       *time.Time `bson:"rate_limited_at,omitempty"       json:"rateLimitedAt,omitempty"`
	LastAccountCreation *time.Time `bson:"last_account_creation,omitempty" json:"lastAccountCreation,omitempty"`
	// FlaggedAt records when a rate-limit security flag was last emitted for
	// this IP, so repeat flags inside the suppression window are skipped.
	FlaggedAt *time.Time `bson:"flagged_at,omitempty" json:"flaggedAt,omitempty"`
}

// Blacklisted reports whether the IP has crossed the hard limit. The flag is
// sticky in-process; only the TTL index on rate_limited_at clears it.
func (s *RateLimitSession) Blacklisted() bool {
	return s.RateLimitedAt != nil
}

// Clone returns a deep copy so callers never hold a live reference into the
// session cache across a blocking store operation.
func (s *RateLimitSession) Clone() *RateLimitSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.RateLimitedAt = copyTime(s.RateLimitedAt)
	cp.LastAccountCreation = copyTime(s.LastAccountCreation)
	cp.FlaggedAt = copyTime(s.FlaggedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
