package securityflag

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

type fakeFlagRepo struct {
	mu    sync.Mutex
	flags []*domain.SecurityFlag
	fail  bool
}

func (f *fakeFlagRepo) Insert(_ context.Context, flag *domain.SecurityFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store unavailable")
	}
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

func (f *fakeFlagRepo) all() []*domain.SecurityFlag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.SecurityFlag(nil), f.flags...)
}

func TestEmitterRecordsFlag(t *testing.T) {
	repo := &fakeFlagRepo{}
	e := NewEmitter(repo)
	defer e.Shutdown()

	e.Record(Event{
		IPAddress:   "1.2.3.4",
		RiskLevel:   domain.RiskNotice,
		Description: "something happened",
		FileName:    "emitter_test",
	})
	e.Drain()

	flags := repo.all()
	require.Len(t, flags, 1)
	assert.Equal(t, "1.2.3.4", flags[0].IPAddress)
	assert.Equal(t, domain.RiskNotice, flags[0].RiskLevel)
	assert.False(t, flags[0].Resolved)
	assert.False(t, flags[0].DateTime.IsZero())
}

func TestEmitterClampsRiskLevel(t *testing.T) {
	repo := &fakeFlagRepo{}
	e := NewEmitter(repo)
	defer e.Shutdown()

	e.Record(Event{IPAddress: "1.1.1.1", RiskLevel: 0})
	e.Record(Event{IPAddress: "2.2.2.2", RiskLevel: 99})
	e.Drain()

	flags := repo.all()
	require.Len(t, flags, 2)
	for _, f := range flags {
		assert.GreaterOrEqual(t, f.RiskLevel, domain.RiskInfo)
		assert.LessOrEqual(t, f.RiskLevel, domain.RiskCritical)
	}
}

func TestEmitterSwallowsStoreFailures(t *testing.T) {
	repo := &fakeFlagRepo{fail: true}
	e := NewEmitter(repo)
	defer e.Shutdown()

	// Must not panic, block, or surface the failure to the caller.
	e.Record(Event{IPAddress: "1.2.3.4", RiskLevel: domain.RiskHigh})
	e.Drain()

	assert.Empty(t, repo.all())
}

func TestEmitterDerivesIPAndRequestMetadata(t *testing.T) {
	repo := &fakeFlagRepo{}
	e := NewEmitter(repo)
	defer e.Shutdown()

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("X-Access-Key", "key-value")
	req.Header.Set("User-Agent", "test-agent")

	e.Record(Event{RiskLevel: domain.RiskLow, Description: "failed login", Request: req})
	e.Drain()

	flags := repo.all()
	require.Len(t, flags, 1)
	flag := flags[0]

	assert.Equal(t, "203.0.113.7", flag.IPAddress, "public proxy-header IP wins over transport address")
	assert.Equal(t, "POST", flag.Method)
	assert.Equal(t, "/auth/login", flag.URL)
	assert.Equal(t, "[REDACTED]", flag.Headers["Authorization"])
	assert.Equal(t, "[REDACTED]", flag.Headers["Cookie"])
	assert.Equal(t, "[REDACTED]", flag.Headers["X-Access-Key"])
	assert.Equal(t, "test-agent", flag.Headers["User-Agent"])
}

// blockingFlagRepo parks the worker inside Insert until release is closed, so
// tests can fill the queue deterministically.
type blockingFlagRepo struct {
	fakeFlagRepo
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFlagRepo) Insert(ctx context.Context, flag *domain.SecurityFlag) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeFlagRepo.Insert(ctx, flag)
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	repo := &blockingFlagRepo{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	e := newEmitter(repo, 1)
	defer e.Shutdown()

	// First flag occupies the worker; wait until it is inside Insert so the
	// queue is known to be empty again.
	e.Record(Event{IPAddress: "1.1.1.1", RiskLevel: domain.RiskInfo, Description: "first"})
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first flag")
	}

	// Second flag fills the single queue slot; the third has nowhere to go.
	e.Record(Event{IPAddress: "2.2.2.2", RiskLevel: domain.RiskInfo, Description: "second"})
	e.Record(Event{IPAddress: "3.3.3.3", RiskLevel: domain.RiskInfo, Description: "third"})

	close(repo.release)
	e.Drain()

	flags := repo.all()
	require.Len(t, flags, 2)
	for _, f := range flags {
		assert.NotEqual(t, "third", f.Description)
	}
}

func TestEmitterRecordAfterShutdown(t *testing.T) {
	repo := &fakeFlagRepo{}
	e := NewEmitter(repo)
	e.Shutdown()

	// Must drop silently rather than panic on the stopped queue.
	e.Record(Event{IPAddress: "1.2.3.4", RiskLevel: domain.RiskHigh, Description: "late"})
	e.Drain()

	assert.Empty(t, repo.all())
}

func TestEmitterUnknownIPFallback(t *testing.T) {
	repo := &fakeFlagRepo{}
	e := NewEmitter(repo)
	defer e.Shutdown()

	e.Record(Event{RiskLevel: domain.RiskInfo, Description: "no request context"})
	e.Drain()

	flags := repo.all()
	require.Len(t, flags, 1)
	assert.Equal(t, "unknown", flags[0].IPAddress)
}
