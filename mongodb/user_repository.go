package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// UserRepository implements domain.UserRepository over the users collection.
type UserRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates the repository and ensures its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		coll: db.Collection(UsersCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys:    bson.D{{Key: "guest_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for users collection (might already exist)")
	}

	return repo, nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateUser
		}
		log.Error().Err(err).Str("username", user.Username).Msg("Error creating user")
		return err
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepository) GetByGuestKey(ctx context.Context, guestKey string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"guest_key": guestKey})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var user domain.User
	err := r.coll.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) TouchDesignUpdate(ctx context.Context, id string, at time.Time) error {
	result, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_design_update": at, "updated_at": at}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)
