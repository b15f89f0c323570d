package domain

import "time"

// ForumAccount is a QuartzForums identity, scoped to a tenant by
// ImplementationKey. One site user may have one forum account per tenant.
type ForumAccount struct {
	ID                string     `bson:"_id,omitempty"      json:"id"`
	ImplementationKey string     `bson:"implementation_key" json:"implementationKey"`
	DisplayName       string     `bson:"display_name"       json:"displayName"`
	PasswordHash      string     `bson:"password_hash"      json:"-"`
	CreatedByIP       string     `bson:"created_by_ip,omitempty" json:"-"`
	CreatedAt         time.Time  `bson:"created_at"         json:"createdAt"`
	LastMessageAt     *time.Time `bson:"last_message_at,omitempty" json:"lastMessageAt,omitempty"`
}

// ForumMessage is a single post in a tenant's forum.
type ForumMessage struct {
	ID                string    `bson:"_id,omitempty"      json:"id"`
	ImplementationKey string    `bson:"implementation_key" json:"implementationKey"`
	AccountID         string    `bson:"account_id"         json:"accountId"`
	DisplayName       string    `bson:"display_name"       json:"displayName"`
	Content           string    `bson:"content"            json:"content"`
	PostedAt          time.Time `bson:"posted_at"          json:"postedAt"`
}
