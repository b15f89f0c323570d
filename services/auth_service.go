// Package services contains the business logic over the repositories: the
// authenticator, the session token service, and QuartzForums.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/auth"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/metrics"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService orchestrates the credential verifier and the token service to
// produce an authenticated identity, emitting security flags on failures.
type AuthService struct {
	users    domain.UserRepository
	tokens   *TokenService
	hasher   auth.PasswordHasher
	emitter  *securityflag.Emitter
	creation *ratelimit.CreationLimiter

	designCooldown time.Duration
	now            func() time.Time
}

// NewAuthService builds the authenticator. DesignCooldown <= 0 defaults to
// 60s.
func NewAuthService(
	users domain.UserRepository,
	tokens *TokenService,
	hasher auth.PasswordHasher,
	emitter *securityflag.Emitter,
	creation *ratelimit.CreationLimiter,
	designCooldown time.Duration,
) *AuthService {
	if designCooldown <= 0 {
		designCooldown = time.Minute
	}
	return &AuthService{
		users:          users,
		tokens:         tokens,
		hasher:         hasher,
		emitter:        emitter,
		creation:       creation,
		designCooldown: designCooldown,
		now:            time.Now,
	}
}

// Login verifies credentials and issues a fresh session token. Failed
// attempts are flagged at risk level 2; the flag write can never fail the
// login path itself.
func (s *AuthService) Login(ctx context.Context, username, password string, r *http.Request) (*domain.User, *domain.SessionToken, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.flagFailedLogin(username, r)
			metrics.LoginFailureTotal.Inc()
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		s.flagFailedLogin(username, r)
		metrics.LoginFailureTotal.Inc()
		return nil, nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	metrics.LoginSuccessTotal.Inc()
	log.Info().Str("userID", user.ID).Msg("User logged in")
	return user, token, nil
}

// Register creates a site account, gated by the per-IP creation cooldown.
// A cooldown violation is itself flagged, since scripted account farming is
// what the cooldown exists to catch.
func (s *AuthService) Register(ctx context.Context, username, password, ip string, r *http.Request) (*domain.User, error) {
	if err := s.creation.Check(ctx, ip); err != nil {
		s.emitter.Record(securityflag.Event{
			IPAddress:   ip,
			RiskLevel:   domain.RiskLow,
			Description: "Account creation attempted during cooldown",
			FileName:    "auth_service",
			Request:     r,
		})
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: hash,
		Authority:    domain.AuthorityUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.creation.RecordCreation(ctx, ip)
	log.Info().Str("userID", user.ID).Msg("User registered")
	return user, nil
}

// Logout revokes the presented token.
func (s *AuthService) Logout(ctx context.Context, identifier string) error {
	return s.tokens.Revoke(ctx, identifier)
}

// GetUser loads the full user record for an authenticated user ID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateDesign applies the 60s per-user cooldown to profile/design changes
// and stamps the new timestamp on success.
func (s *AuthService) UpdateDesign(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := ratelimit.CheckCooldown(user.LastDesignUpdate, s.designCooldown, now); err != nil {
		return err
	}
	return s.users.TouchDesignUpdate(ctx, userID, now)
}

func (s *AuthService) flagFailedLogin(username string, r *http.Request) {
	s.emitter.Record(securityflag.Event{
		RiskLevel:   domain.RiskLow,
		Description: "Failed login attempt",
		FileName:    "auth_service",
		Request:     r,
		AdditionalData: map[string]any{
			"username": username,
		},
	})
}
