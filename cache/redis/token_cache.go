// Package redis provides a Redis-backed token cache for deployments where
// several processes should share validation state. Rate-limit sessions stay
// in-process either way; only token validation benefits from sharing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
)

// TokenCache implements cache.TokenCache on Redis.
type TokenCache struct {
	client *redis.Client
	prefix string
}

// NewTokenCache creates a Redis token cache. The prefix namespaces keys so
// several applications can share one Redis instance.
func NewTokenCache(client *redis.Client, prefix string) *TokenCache {
	return &TokenCache{
		client: client,
		prefix: prefix,
	}
}

func (r *TokenCache) tokenKey(identifier string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, identifier)
}

func (r *TokenCache) userKey(userID string) string {
	return fmt.Sprintf("%s:user-tokens:%s", r.prefix, userID)
}

func (r *TokenCache) Set(ctx context.Context, entry *cache.TokenEntry) error {
	ttl := time.Until(entry.ExpirationDate)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal token entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.tokenKey(entry.Identifier), payload, ttl)
	pipe.SAdd(ctx, r.userKey(entry.UserID), entry.Identifier)
	pipe.Expire(ctx, r.userKey(entry.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache token in Redis: %w", err)
	}
	return nil
}

func (r *TokenCache) Get(ctx context.Context, identifier string) (*cache.TokenEntry, error) {
	payload, err := r.client.Get(ctx, r.tokenKey(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("token %q not in cache", identifier)
		}
		return nil, fmt.Errorf("failed to read token from Redis: %w", err)
	}

	var entry cache.TokenEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token entry: %w", err)
	}
	return &entry, nil
}

func (r *TokenCache) Delete(ctx context.Context, identifier string) error {
	entry, err := r.Get(ctx, identifier)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.tokenKey(identifier))
	if err == nil {
		pipe.SRem(ctx, r.userKey(entry.UserID), identifier)
	}
	_, execErr := pipe.Exec(ctx)
	return execErr
}

func (r *TokenCache) DeleteAllForUser(ctx context.Context, userID string) error {
	identifiers, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list user tokens in Redis: %w", err)
	}

	pipe := r.client.TxPipeline()
	for _, id := range identifiers {
		pipe.Del(ctx, r.tokenKey(id))
	}
	pipe.Del(ctx, r.userKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *TokenCache) Close() error {
	return r.client.Close()
}

var _ cache.TokenCache = (*TokenCache)(nil)
