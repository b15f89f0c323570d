package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// blacklistTTL is how long a blacklisted session document lives in the store
// after rate_limited_at is set. Expiry of this document is the only way an IP
// leaves the blacklist.
const blacklistTTL = 24 * time.Hour

// RateLimitSessionRepository implements domain.RateLimitSessionRepository
// over the sessions collection.
type RateLimitSessionRepository struct {
	coll *mongo.Collection
}

// NewRateLimitSessionRepository creates the repository and ensures its
// indexes, including the TTL index that auto-expires blacklisted sessions.
func NewRateLimitSessionRepository(ctx context.Context, db *mongo.Database) (*RateLimitSessionRepository, error) {
	repo := &RateLimitSessionRepository{
		coll: db.Collection(SessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "last_call", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "rate_limited_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(blacklistTTL.Seconds())).SetSparse(true),
		},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist)")
	}

	return repo, nil
}

// GetByIP returns the session for an IP, or domain.ErrSessionNotFound.
func (r *RateLimitSessionRepository) GetByIP(ctx context.Context, ip string) (*domain.RateLimitSession, error) {
	var session domain.RateLimitSession
	err := r.coll.FindOne(ctx, bson.M{"_id": ip}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		log.Error().Err(err).Str("ip", ip).Msg("Error reading rate limit session from MongoDB")
		return nil, err
	}
	return &session, nil
}

// Upsert writes the full session document keyed by IP address.
func (r *RateLimitSessionRepository) Upsert(ctx context.Context, session *domain.RateLimitSession) error {
	filter := bson.M{"_id": session.IPAddress}
	set := bson.M{
		"calls":      session.Calls,
		"first_call": session.FirstCall,
		"last_call":  session.LastCall,
	}
	unset := bson.M{}
	setOrUnset := func(field string, t *time.Time) {
		if t != nil {
			set[field] = *t
		} else {
			unset[field] = ""
		}
	}
	// Absent optional timestamps are unset rather than written as null, so
	// the sparse TTL index on rate_limited_at only sees real dates.
	setOrUnset("rate_limited_at", session.RateLimitedAt)
	setOrUnset("last_account_creation", session.LastAccountCreation)
	setOrUnset("flagged_at", session.FlaggedAt)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("ip", session.IPAddress).Msg("Error upserting rate limit session")
	}
	return err
}

// ListActiveSince returns up to limit sessions seen since the cutoff, most
// recently active first.
func (r *RateLimitSessionRepository) ListActiveSince(ctx context.Context, since time.Time, limit int64) ([]*domain.RateLimitSession, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_call", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.coll.Find(ctx, bson.M{"last_call": bson.M{"$gte": since}}, opts)
	if err != nil {
		log.Error().Err(err).Msg("Error listing active rate limit sessions")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*domain.RateLimitSession
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

var _ domain.RateLimitSessionRepository = (*RateLimitSessionRepository)(nil)
