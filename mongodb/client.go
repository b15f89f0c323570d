package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

// Connect establishes the MongoDB client and verifies the connection with a
// ping. The caller owns the returned client and must Disconnect it on
// shutdown.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	log.Info().Str("uri", uri).Msg("Connecting to MongoDB")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info().Msg("MongoDB connection established")
	return client, nil
}

// Ping checks the connection with a short timeout, for health endpoints.
func Ping(ctx context.Context, client *mongo.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx, readpref.Primary())
}

// Close disconnects the client, logging rather than returning any error
// since it only runs during shutdown.
func Close(ctx context.Context, client *mongo.Client) {
	if client == nil {
		return
	}
	log.Info().Msg("Closing MongoDB connection")
	if err := client.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}
}
