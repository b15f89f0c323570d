package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// SecurityFlagRepository implements domain.SecurityFlagRepository over the
// securityFlags collection.
type SecurityFlagRepository struct {
	coll *mongo.Collection
}

// NewSecurityFlagRepository creates the repository and ensures its indexes.
func NewSecurityFlagRepository(ctx context.Context, db *mongo.Database) (*SecurityFlagRepository, error) {
	repo := &SecurityFlagRepository{
		coll: db.Collection(SecurityFlagsCollection),
	}

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "date_time", Value: -1}}},
		{Keys: bson.D{{Key: "ip_address", Value: 1}}},
		{Keys: bson.D{{Key: "risk_level", Value: 1}}},
		{Keys: bson.D{{Key: "resolved", Value: 1}}},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels, options.CreateIndexes()); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for securityFlags collection (might already exist)")
	}

	return repo, nil
}

// Insert stores a new flag. ID and DateTime are filled in when missing, and
// the derived search columns are written so the free-text filters have a
// string target to regex over.
func (r *SecurityFlagRepository) Insert(ctx context.Context, flag *domain.SecurityFlag) error {
	if flag.ID == "" {
		flag.ID = uuid.NewString()
	}
	if flag.DateTime.IsZero() {
		flag.DateTime = time.Now().UTC()
	}
	flag.DateText = flag.DateTime.Format(time.RFC3339)
	flag.AdditionalDataText = serializeAdditionalData(flag.AdditionalData)
	_, err := r.coll.InsertOne(ctx, flag)
	if err != nil {
		log.Error().Err(err).Str("ip", flag.IPAddress).Msg("Error inserting security flag")
	}
	return err
}

// GetByID returns a flag or domain.ErrFlagNotFound.
func (r *SecurityFlagRepository) GetByID(ctx context.Context, id string) (*domain.SecurityFlag, error) {
	var flag domain.SecurityFlag
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&flag)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrFlagNotFound
		}
		return nil, err
	}
	return &flag, nil
}

// List returns flags matching the filter, newest first, paginated via
// limit/skip.
func (r *SecurityFlagRepository) List(ctx context.Context, filter domain.SecurityFlagFilter) ([]*domain.SecurityFlag, error) {
	mongoFilter := buildFlagFilter(filter)

	opts := options.Find().SetSort(bson.D{{Key: "date_time", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}
	if filter.Skip > 0 {
		opts.SetSkip(filter.Skip)
	}

	cursor, err := r.coll.Find(ctx, mongoFilter, opts)
	if err != nil {
		log.Error().Err(err).Msg("Error listing security flags")
		return nil, err
	}
	defer cursor.Close(ctx)

	var flags []*domain.SecurityFlag
	if err = cursor.All(ctx, &flags); err != nil {
		return nil, err
	}
	return flags, nil
}

func buildFlagFilter(filter domain.SecurityFlagFilter) bson.M {
	mongoFilter := bson.M{}

	switch {
	case filter.RiskLevel > 0:
		mongoFilter["risk_level"] = filter.RiskLevel
	case filter.MinRiskLevel > 0:
		mongoFilter["risk_level"] = bson.M{"$gte": filter.MinRiskLevel}
	}
	if filter.IPAddress != "" {
		mongoFilter["ip_address"] = bson.M{"$regex": filter.IPAddress, "$options": "i"}
	}
	if filter.Resolved != nil {
		mongoFilter["resolved"] = *filter.Resolved
	}
	if !filter.FromDate.IsZero() || !filter.ToDate.IsZero() {
		dateFilter := bson.M{}
		if !filter.FromDate.IsZero() {
			dateFilter["$gte"] = filter.FromDate
		}
		if !filter.ToDate.IsZero() {
			dateFilter["$lte"] = filter.ToDate
		}
		mongoFilter["date_time"] = dateFilter
	}
	if filter.Description != "" {
		mongoFilter["description"] = bson.M{"$regex": filter.Description, "$options": "i"}
	}
	if filter.FileName != "" {
		mongoFilter["file_name"] = bson.M{"$regex": filter.FileName, "$options": "i"}
	}
	if filter.AdditionalData != "" {
		mongoFilter["additional_data_text"] = bson.M{"$regex": filter.AdditionalData, "$options": "i"}
	}
	if filter.DateText != "" {
		mongoFilter["date_text"] = bson.M{"$regex": filter.DateText, "$options": "i"}
	}
	if filter.UserIdentity != "" {
		identity := bson.M{"$regex": filter.UserIdentity, "$options": "i"}
		mongoFilter["$or"] = bson.A{
			bson.M{"user_id": identity},
			bson.M{"quartz_user_id": identity},
		}
	}

	return mongoFilter
}

// MarkResolved sets the resolution fields on an unresolved flag. The
// resolved:false filter makes the transition atomic: an already resolved or
// missing flag matches nothing and the stored record is left untouched.
func (r *SecurityFlagRepository) MarkResolved(ctx context.Context, id, resolvedBy, notes string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "resolved": false}
	update := bson.M{"$set": bson.M{
		"resolved":       true,
		"resolved_by":    resolvedBy,
		"resolved_at":    at,
		"resolved_notes": notes,
	}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("flagID", id).Msg("Error resolving security flag")
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// PurgeResolvedBefore deletes resolved flags older than the cutoff.
func (r *SecurityFlagRepository) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{
		"resolved":  true,
		"date_time": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Error().Err(err).Msg("Error purging resolved security flags")
		return 0, err
	}
	return result.DeletedCount, nil
}

// serializeAdditionalData renders the structured payload as one searchable
// string. JSON keeps key/value adjacency so "username" matches entries that
// carry a username.
func serializeAdditionalData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

var _ domain.SecurityFlagRepository = (*SecurityFlagRepository)(nil)
