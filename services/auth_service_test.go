package services

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/cache"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/auth"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.RateLimitSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.RateLimitSession)}
}

func (f *fakeSessionStore) GetByIP(_ context.Context, ip string) (*domain.RateLimitSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[ip]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (f *fakeSessionStore) Upsert(_ context.Context, session *domain.RateLimitSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.IPAddress] = session.Clone()
	return nil
}

func (f *fakeSessionStore) ListActiveSince(_ context.Context, _ time.Time, _ int64) ([]*domain.RateLimitSession, error) {
	return nil, nil
}

type fakeFlagRepo struct {
	mu    sync.Mutex
	flags []*domain.SecurityFlag
}

func (f *fakeFlagRepo) Insert(_ context.Context, flag *domain.SecurityFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = append(f.flags, flag)
	return nil
}

func (f *fakeFlagRepo) GetByID(context.Context, string) (*domain.SecurityFlag, error) {
	return nil, domain.ErrFlagNotFound
}

func (f *fakeFlagRepo) List(context.Context, domain.SecurityFlagFilter) ([]*domain.SecurityFlag, error) {
	return nil, nil
}

func (f *fakeFlagRepo) MarkResolved(context.Context, string, string, string, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeFlagRepo) PurgeResolvedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeFlagRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flags)
}

type authHarness struct {
	svc     *AuthService
	users   *fakeUserRepo
	flags   *fakeFlagRepo
	emitter *securityflag.Emitter
	hasher  auth.PasswordHasher
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()
	users := newFakeUserRepo()
	flags := &fakeFlagRepo{}
	emitter := securityflag.NewEmitter(flags)
	t.Cleanup(emitter.Shutdown)

	tokenCache := cache.NewMemoryTokenCache()
	t.Cleanup(func() { _ = tokenCache.Close() })
	tokens := NewTokenService(newFakeTokenRepo(), users, tokenCache, time.Hour)

	sessionCache := cache.NewSessionCache(newFakeSessionStore(), cache.SessionCacheConfig{})
	creation := ratelimit.NewCreationLimiter(sessionCache, 24*time.Hour)

	hasher := auth.NewBcryptPasswordHasher(4)
	svc := NewAuthService(users, tokens, hasher, emitter, creation, time.Minute)

	return &authHarness{svc: svc, users: users, flags: flags, emitter: emitter, hasher: hasher}
}

func (h *authHarness) addUser(t *testing.T, username, password string) *domain.User {
	t.Helper()
	hash, err := h.hasher.Hash(password)
	require.NoError(t, err)
	user := &domain.User{Username: username, PasswordHash: hash, Authority: domain.AuthorityUser}
	require.NoError(t, h.users.Create(context.Background(), user))
	return user
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	h := newAuthHarness(t)
	h.addUser(t, "martijn", "hunter2")

	user, token, err := h.svc.Login(context.Background(), "martijn", "hunter2", nil)
	require.NoError(t, err)
	assert.Equal(t, "martijn", user.Username)
	assert.NotEmpty(t, token.Identifier)

	h.emitter.Drain()
	assert.Equal(t, 0, h.flags.count())
}

func TestAuthServiceLoginWrongPasswordFlags(t *testing.T) {
	h := newAuthHarness(t)
	h.addUser(t, "martijn", "hunter2")

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:9999"

	_, _, err := h.svc.Login(context.Background(), "martijn", "wrong", req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	h.emitter.Drain()
	require.Equal(t, 1, h.flags.count())
	assert.Equal(t, domain.RiskLow, h.flags.flags[0].RiskLevel)
	assert.Equal(t, "203.0.113.7", h.flags.flags[0].IPAddress)
}

func TestAuthServiceLoginUnknownUserFlags(t *testing.T) {
	h := newAuthHarness(t)

	_, _, err := h.svc.Login(context.Background(), "ghost", "pw", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	h.emitter.Drain()
	assert.Equal(t, 1, h.flags.count())
}

func TestAuthServiceRegisterAppliesCreationCooldown(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "first", "pw123456", "1.2.3.4", nil)
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, "second", "pw123456", "1.2.3.4", nil)
	assert.ErrorIs(t, err, ratelimit.ErrCreationCooldown)

	h.emitter.Drain()
	assert.Equal(t, 1, h.flags.count(), "cooldown violation should be flagged")

	// A different IP is unaffected.
	_, err = h.svc.Register(ctx, "third", "pw123456", "5.6.7.8", nil)
	assert.NoError(t, err)
}

func TestAuthServiceLoginIssuesFreshTokenEachTime(t *testing.T) {
	h := newAuthHarness(t)
	h.addUser(t, "martijn", "hunter2")
	ctx := context.Background()

	_, first, err := h.svc.Login(ctx, "martijn", "hunter2", nil)
	require.NoError(t, err)
	_, second, err := h.svc.Login(ctx, "martijn", "hunter2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Identifier, second.Identifier)
}

func TestAuthServiceUpdateDesignCooldown(t *testing.T) {
	h := newAuthHarness(t)
	user := h.addUser(t, "martijn", "hunter2")
	ctx := context.Background()

	require.NoError(t, h.svc.UpdateDesign(ctx, user.ID))
	assert.ErrorIs(t, h.svc.UpdateDesign(ctx, user.ID), ratelimit.ErrActionCooldown)

	// Past the cooldown the update goes through again.
	h.svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.NoError(t, h.svc.UpdateDesign(ctx, user.ID))
}
