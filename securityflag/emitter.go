// Package securityflag records risk-scored audit events. Writes are
// dispatched to a background worker and are best-effort: a failed audit write
// is logged and swallowed so it can never break the request that raised it.
package securityflag

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/metrics"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/requestip"
)

// Header values that must never reach the audit trail.
var redactedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"x-access-key":  {},
}

const redactedPlaceholder = "[REDACTED]"

// Event describes a security-relevant occurrence to record. IPAddress may be
// left empty when Request is set; the emitter derives it.
type Event struct {
	IPAddress      string
	RiskLevel      int
	Description    string
	FileName       string
	UserID         string
	QuartzUserID   string
	ImplKey        string
	AdditionalData map[string]any
	Request        *http.Request
}

const defaultQueueSize = 256

// Emitter is the fire-and-forget audit writer.
type Emitter struct {
	repo  domain.SecurityFlagRepository
	queue chan *domain.SecurityFlag

	// mu guards closed so Record can never send on a closed queue.
	mu     sync.Mutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once

	// pending tracks queued-but-unwritten flags so Drain can wait for the
	// worker to go idle, which tests need for determinism.
	pending sync.WaitGroup
}

// NewEmitter creates the emitter and starts its worker.
func NewEmitter(repo domain.SecurityFlagRepository) *Emitter {
	return newEmitter(repo, defaultQueueSize)
}

func newEmitter(repo domain.SecurityFlagRepository, queueSize int) *Emitter {
	e := &Emitter{
		repo:  repo,
		queue: make(chan *domain.SecurityFlag, queueSize),
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Record queues a flag for persistence. It never blocks the caller and never
// returns an error: audit logging must not be able to break authentication
// or rate limiting. When the queue is full or the emitter has shut down the
// flag is dropped with a log line and a counter increment.
func (e *Emitter) Record(event Event) {
	flag := e.build(event)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.drop(flag, "emitter stopped")
		return
	}
	select {
	case e.queue <- flag:
		e.pending.Add(1)
	default:
		e.drop(flag, "queue full")
	}
}

func (e *Emitter) drop(flag *domain.SecurityFlag, reason string) {
	metrics.SecurityFlagsDroppedTotal.Inc()
	log.Warn().
		Str("reason", reason).
		Str("ip", flag.IPAddress).
		Int("riskLevel", flag.RiskLevel).
		Str("description", flag.Description).
		Msg("Dropped security flag")
}

func (e *Emitter) build(event Event) *domain.SecurityFlag {
	riskLevel := event.RiskLevel
	if riskLevel < domain.RiskInfo {
		riskLevel = domain.RiskInfo
	}
	if riskLevel > domain.RiskCritical {
		riskLevel = domain.RiskCritical
	}

	flag := &domain.SecurityFlag{
		IPAddress:      event.IPAddress,
		RiskLevel:      riskLevel,
		Description:    event.Description,
		FileName:       event.FileName,
		DateTime:       time.Now().UTC(),
		UserID:         event.UserID,
		QuartzUserID:   event.QuartzUserID,
		ImplKey:        event.ImplKey,
		AdditionalData: event.AdditionalData,
	}

	if event.Request != nil {
		r := event.Request
		if flag.IPAddress == "" {
			flag.IPAddress = requestip.FromRequest(r)
		}
		flag.Method = r.Method
		flag.URL = r.URL.String()
		flag.Headers = RedactHeaders(r.Header)
	}
	if flag.IPAddress == "" {
		flag.IPAddress = requestip.Unknown
	}

	return flag
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for flag := range e.queue {
		e.persist(flag)
	}
}

func (e *Emitter) persist(flag *domain.SecurityFlag) {
	defer e.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.repo.Insert(ctx, flag); err != nil {
		log.Error().Err(err).
			Str("ip", flag.IPAddress).
			Int("riskLevel", flag.RiskLevel).
			Str("description", flag.Description).
			Msg("Failed to persist security flag")
		return
	}
	metrics.SecurityFlagsTotal.Inc()
}

// Drain blocks until every queued flag has been written or failed. Intended
// for tests and shutdown.
func (e *Emitter) Drain() {
	e.pending.Wait()
}

// Shutdown drains the queue and stops the worker. Flags recorded after
// Shutdown begins are dropped, not queued.
func (e *Emitter) Shutdown() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.pending.Wait()
		close(e.queue)
		e.wg.Wait()
	})
}

// RedactHeaders copies request headers, replacing sensitive values.
func RedactHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		key := http.CanonicalHeaderKey(name)
		if _, sensitive := redactedHeaders[strings.ToLower(key)]; sensitive {
			out[key] = redactedPlaceholder
			continue
		}
		out[key] = values[0]
	}
	return out
}
