package domain

import "time"

// Authority levels, lowest to highest.
const (
	AuthorityGuest = 0
	AuthorityUser  = 1
	AuthorityAdmin = 2
)

// User is a site account. Guest accounts carry a fixed GuestKey and
// authenticate with it directly instead of an issued session token.
type User struct {
	ID           string    `bson:"_id,omitempty"        json:"id"`
	Username     string    `bson:"username"             json:"username"`
	PasswordHash string    `bson:"password_hash"        json:"-"`
	Authority    int       `bson:"authority"            json:"authority"`
	GuestKey     string    `bson:"guest_key,omitempty"  json:"-"`
	CreatedAt    time.Time `bson:"created_at"           json:"createdAt"`
	UpdatedAt    time.Time `bson:"updated_at,omitempty" json:"updatedAt,omitempty"`
	// LastDesignUpdate drives the 60s cooldown on profile/design changes.
	LastDesignUpdate *time.Time `bson:"last_design_update,omitempty" json:"lastDesignUpdate,omitempty"`
}
