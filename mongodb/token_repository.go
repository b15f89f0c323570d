package mongodb

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// SessionTokenRepository implements domain.SessionTokenRepository over the
// sessionTokens collection.
type SessionTokenRepository struct {
	coll *mongo.Collection
}

// NewSessionTokenRepository creates the repository and ensures its indexes.
func NewSessionTokenRepository(ctx context.Context, db *mongo.Database) (*SessionTokenRepository, error) {
	repo := &SessionTokenRepository{
		coll: db.Collection(SessionTokensCollection),
	}

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessionTokens collection (might already exist)")
	}

	return repo, nil
}

func (r *SessionTokenRepository) Store(ctx context.Context, token *domain.SessionToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("userID", token.UserID).Msg("Error storing session token")
	}
	return err
}

func (r *SessionTokenRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.SessionToken, error) {
	var token domain.SessionToken
	err := r.coll.FindOne(ctx, bson.M{"_id": identifier}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *SessionTokenRepository) Delete(ctx context.Context, identifier string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": identifier})
	return err
}

func (r *SessionTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error deleting session tokens for user")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.SessionTokenRepository = (*SessionTokenRepository)(nil)
