package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/auth"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
)

var ErrEmptyMessage = errors.New("message content is empty")

// ForumService runs QuartzForums: multi-tenant forum accounts and messages.
// Tenants are distinguished by implementation key; account creation shares
// the site-wide per-IP cooldown and message posting has its own per-account
// cooldown.
type ForumService struct {
	repo     domain.ForumRepository
	hasher   auth.PasswordHasher
	emitter  *securityflag.Emitter
	creation *ratelimit.CreationLimiter

	messageCooldown time.Duration
	now             func() time.Time
}

// NewForumService builds the forum service. MessageCooldown <= 0 defaults
// to 60s.
func NewForumService(
	repo domain.ForumRepository,
	hasher auth.PasswordHasher,
	emitter *securityflag.Emitter,
	creation *ratelimit.CreationLimiter,
	messageCooldown time.Duration,
) *ForumService {
	if messageCooldown <= 0 {
		messageCooldown = time.Minute
	}
	return &ForumService{
		repo:            repo,
		hasher:          hasher,
		emitter:         emitter,
		creation:        creation,
		messageCooldown: messageCooldown,
		now:             time.Now,
	}
}

// CreateAccount registers a forum identity for a tenant, gated by the per-IP
// creation cooldown.
func (s *ForumService) CreateAccount(ctx context.Context, implKey, displayName, password, ip string) (*domain.ForumAccount, error) {
	if err := s.creation.Check(ctx, ip); err != nil {
		s.emitter.Record(securityflag.Event{
			IPAddress:   ip,
			RiskLevel:   domain.RiskLow,
			Description: "Forum account creation attempted during cooldown",
			FileName:    "forum_service",
			ImplKey:     implKey,
		})
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	account := &domain.ForumAccount{
		ImplementationKey: implKey,
		DisplayName:       displayName,
		PasswordHash:      hash,
		CreatedByIP:       ip,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.creation.RecordCreation(ctx, ip)
	log.Info().Str("accountID", account.ID).Str("implementationKey", implKey).Msg("Forum account created")
	return account, nil
}

// VerifyAccount authenticates a forum account within its tenant.
func (s *ForumService) VerifyAccount(ctx context.Context, implKey, displayName, password string) (*domain.ForumAccount, error) {
	account, err := s.repo.GetAccount(ctx, implKey, displayName)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.hasher.Verify(account.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// PostMessage appends a message to the account's tenant forum, enforcing the
// per-account posting cooldown.
func (s *ForumService) PostMessage(ctx context.Context, accountID, content string) (*domain.ForumMessage, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}

	account, err := s.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := ratelimit.CheckCooldown(account.LastMessageAt, s.messageCooldown, now); err != nil {
		return nil, err
	}

	msg := &domain.ForumMessage{
		ImplementationKey: account.ImplementationKey,
		AccountID:         account.ID,
		DisplayName:       account.DisplayName,
		Content:           content,
		PostedAt:          now,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastMessage(ctx, account.ID, now); err != nil {
		log.Warn().Err(err).Str("accountID", account.ID).Msg("Failed to stamp last message time")
	}
	return msg, nil
}

// ListMessages returns a tenant's messages, newest first.
func (s *ForumService) ListMessages(ctx context.Context, implKey string, limit, skip int64) ([]*domain.ForumMessage, error) {
	return s.repo.ListMessages(ctx, implKey, limit, skip)
}
