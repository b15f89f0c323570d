package domain

import "time"

// SessionToken is the opaque bearer credential issued at login. A user has at
// most one live token: issuing a new one deletes all prior tokens first.
type SessionToken struct {
	Identifier     string    `bson:"_id"             json:"identifier"`
	UserID         string    `bson:"user_id"         json:"userId"`
	ExpirationDate time.Time `bson:"expiration_date" json:"expirationDate"`
	CreatedAt      time.Time `bson:"created_at"      json:"createdAt"`
}

// Expired reports whether the token is past its expiration date.
func (t *SessionToken) Expired(now time.Time) bool {
	return now.After(t.ExpirationDate)
}
