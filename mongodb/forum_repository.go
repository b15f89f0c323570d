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

// ForumRepository implements domain.ForumRepository over the QuartzForums
// collections.
type ForumRepository struct {
	accounts *mongo.Collection
	messages *mongo.Collection
}

// NewForumRepository creates the repository and ensures its indexes. Display
// names are unique per tenant, not globally.
func NewForumRepository(ctx context.Context, db *mongo.Database) (*ForumRepository, error) {
	repo := &ForumRepository{
		accounts: db.Collection(ForumAccountsCollection),
		messages: db.Collection(ForumMessagesCollection),
	}

	accountIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "implementation_key", Value: 1},
				{Key: "display_name", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := repo.accounts.Indexes().CreateMany(ctx, accountIndexes, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for forumAccounts collection (might already exist)")
	}

	messageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "implementation_key", Value: 1},
				{Key: "posted_at", Value: -1},
			},
		},
	}
	if _, err := repo.messages.Indexes().CreateMany(ctx, messageIndexes, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for forumMessages collection (might already exist)")
	}

	return repo, nil
}

func (r *ForumRepository) CreateAccount(ctx context.Context, account *domain.ForumAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	_, err := r.accounts.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateAccount
		}
		log.Error().Err(err).
			Str("implementationKey", account.ImplementationKey).
			Str("displayName", account.DisplayName).
			Msg("Error creating forum account")
		return err
	}
	return nil
}

func (r *ForumRepository) GetAccount(ctx context.Context, implKey, displayName string) (*domain.ForumAccount, error) {
	var account domain.ForumAccount
	err := r.accounts.FindOne(ctx, bson.M{
		"implementation_key": implKey,
		"display_name":       displayName,
	}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *ForumRepository) GetAccountByID(ctx context.Context, id string) (*domain.ForumAccount, error) {
	var account domain.ForumAccount
	err := r.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *ForumRepository) TouchLastMessage(ctx context.Context, accountID string, at time.Time) error {
	result, err := r.accounts.UpdateOne(ctx,
		bson.M{"_id": accountID},
		bson.M{"$set": bson.M{"last_message_at": at}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *ForumRepository) InsertMessage(ctx context.Context, msg *domain.ForumMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.PostedAt.IsZero() {
		msg.PostedAt = time.Now().UTC()
	}
	_, err := r.messages.InsertOne(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("accountID", msg.AccountID).Msg("Error inserting forum message")
	}
	return err
}

func (r *ForumRepository) ListMessages(ctx context.Context, implKey string, limit, skip int64) ([]*domain.ForumMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "posted_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if skip > 0 {
		opts.SetSkip(skip)
	}

	cursor, err := r.messages.Find(ctx, bson.M{"implementation_key": implKey}, opts)
	if err != nil {
		log.Error().Err(err).Str("implementationKey", implKey).Msg("Error listing forum messages")
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*domain.ForumMessage
	if err = cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

var _ domain.ForumRepository = (*ForumRepository)(nil)
