package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// GuestKeyPrefix marks identifiers that belong to guest accounts. A guest
// key authenticates against the user record directly, without a token
// document.
const GuestKeyPrefix = "guest_"

// TokenService issues, validates, and revokes opaque session tokens. A user
// holds at most one live token: issuing deletes all prior tokens first.
type TokenService struct {
	repo       domain.SessionTokenRepository
	userRepo   domain.UserRepository
	tokenCache cache.TokenCache
	expiration time.Duration
	now        func() time.Time

	// Per-user issue serialization, so two concurrent logins cannot leave
	// two live tokens behind.
	issueLocks sync.Map // userID -> *sync.Mutex
}

// NewTokenService builds a token service. Expiration <= 0 defaults to 24h.
func NewTokenService(
	repo domain.SessionTokenRepository,
	userRepo domain.UserRepository,
	tokenCache cache.TokenCache,
	expiration time.Duration,
) *TokenService {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenService{
		repo:       repo,
		userRepo:   userRepo,
		tokenCache: tokenCache,
		expiration: expiration,
		now:        time.Now,
	}
}

// Issue revokes every existing token for the user and creates a fresh one.
func (s *TokenService) Issue(ctx context.Context, userID string) (*domain.SessionToken, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.revokeAllLocked(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := &domain.SessionToken{
		Identifier:     uuid.NewString(),
		UserID:         userID,
		ExpirationDate: now.Add(s.expiration),
		CreatedAt:      now,
	}
	if err := s.repo.Store(ctx, token); err != nil {
		return nil, err
	}

	if err := s.tokenCache.Set(ctx, &cache.TokenEntry{
		Identifier:     token.Identifier,
		UserID:         token.UserID,
		ExpirationDate: token.ExpirationDate,
	}); err != nil {
		// Cache population is an optimization; validation falls back to
		// the store.
		log.Warn().Err(err).Msg("Failed to cache issued session token")
	}

	return token, nil
}

// Validate resolves an identifier to the owning user ID. Expired tokens are
// deleted lazily here rather than by a background sweep. Identifiers with
// the guest prefix resolve against the user record directly.
func (s *TokenService) Validate(ctx context.Context, identifier string) (string, error) {
	if identifier == "" {
		return "", domain.ErrTokenNotFound
	}

	if entry, err := s.tokenCache.Get(ctx, identifier); err == nil {
		if s.now().UTC().After(entry.ExpirationDate) {
			s.expire(ctx, identifier)
			return "", domain.ErrTokenExpired
		}
		return entry.UserID, nil
	}

	token, err := s.repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if err == domain.ErrTokenNotFound && strings.HasPrefix(identifier, GuestKeyPrefix) {
			return s.validateGuest(ctx, identifier)
		}
		return "", err
	}

	if token.Expired(s.now().UTC()) {
		s.expire(ctx, identifier)
		return "", domain.ErrTokenExpired
	}

	if err := s.tokenCache.Set(ctx, &cache.TokenEntry{
		Identifier:     token.Identifier,
		UserID:         token.UserID,
		ExpirationDate: token.ExpirationDate,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to cache validated session token")
	}

	return token.UserID, nil
}

func (s *TokenService) validateGuest(ctx context.Context, identifier string) (string, error) {
	user, err := s.userRepo.GetByGuestKey(ctx, identifier)
	if err != nil {
		if err == domain.ErrUserNotFound {
			return "", domain.ErrTokenNotFound
		}
		return "", err
	}
	return user.ID, nil
}

// Revoke deletes a single token, for explicit logout.
func (s *TokenService) Revoke(ctx context.Context, identifier string) error {
	if err := s.repo.Delete(ctx, identifier); err != nil {
		return err
	}
	if err := s.tokenCache.Delete(ctx, identifier); err != nil {
		log.Warn().Err(err).Msg("Failed to drop revoked token from cache")
	}
	return nil
}

// RevokeAll deletes every token for a user, e.g. on password change or
// account deletion.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.revokeAllLocked(ctx, userID)
}

func (s *TokenService) revokeAllLocked(ctx context.Context, userID string) error {
	if _, err := s.repo.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.tokenCache.DeleteAllForUser(ctx, userID); err != nil {
		log.Warn().Err(err).Str("userID", userID).Msg("Failed to drop user tokens from cache")
	}
	return nil
}

func (s *TokenService) expire(ctx context.Context, identifier string) {
	if err := s.repo.Delete(ctx, identifier); err != nil {
		log.Warn().Err(err).Msg("Failed to delete expired session token")
	}
	if err := s.tokenCache.Delete(ctx, identifier); err != nil {
		log.Warn().Err(err).Msg("Failed to drop expired token from cache")
	}
}

func (s *TokenService) lockFor(userID string) *sync.Mutex {
	actual, _ := s.issueLocks.LoadOrStore(userID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
