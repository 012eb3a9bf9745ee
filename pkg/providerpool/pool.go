// Package providerpool manages the set of LLM provider plug-ins available
// to the Dispatcher: per-provider circuit breaking, token-bucket rate
// limiting, and concurrency-slot acquisition. See spec.md §4.E.
package providerpool

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// Defaults from spec.md §4.E/§6.
const (
	DefaultFailureThreshold = 5
	DefaultFailureRatio     = 0.5
	DefaultCooldown         = 30 * time.Second
	DefaultCooldownMax      = 5 * time.Minute
	DefaultAcquireTimeout   = 2 * time.Second
)

// Provider is the capability set every plug-in implements (spec.md §6).
type Provider interface {
	Complete(ctx context.Context, messages []Message, model string, maxTokens int, temperature float64) (string, Usage, error)
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
	Probe(ctx context.Context) error
}

// Message is a single chat turn in a Complete request.
type Message struct {
	Role    string
	Content string
}

// Usage reports token accounting from a provider response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Config is a provider's capacity/timeout/breaker configuration.
type Config struct {
	ID               string
	Models           []string
	Capacity         int     // token-bucket burst
	RefillRate       float64 // tokens per second
	MaxConcurrent    int
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	CooldownMax      time.Duration
}

// entry is one registered provider: its plug-in plus its governance state.
type entry struct {
	cfg     Config
	plugin  Provider
	limiter *rate.Limiter
	sema    chan struct{}
	breaker *gobreaker.CircuitBreaker
}

// Pool holds every registered provider.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{entries: make(map[string]*entry)}
}

// Register adds a provider under cfg.ID with its own rate limiter,
// concurrency semaphore, and circuit breaker.
func (p *Pool) Register(cfg Config, plugin Provider) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = DefaultCooldownMax
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.ID,
		MaxRequests: 1, // HalfOpen allows at most one probe at a time
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 &&
				counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold) &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= DefaultFailureRatio
		},
	}

	e := &entry{
		cfg:     cfg,
		plugin:  plugin,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.Capacity),
		sema:    make(chan struct{}, cfg.MaxConcurrent),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}

	p.mu.Lock()
	p.entries[cfg.ID] = e
	p.mu.Unlock()
}

// Permit is returned by Acquire and must be passed to Release exactly once.
type Permit struct {
	providerID string
	acquiredAt time.Time
	sema       chan struct{}
}

// Outcome reports how a provider call went, for Release's breaker accounting.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Acquire reserves one token-bucket token and one concurrency slot for
// providerID, blocking for at most acquireTimeout. It reports Unavailable
// if the breaker is Open, RateLimited if the wait would exceed the budget.
func (p *Pool) Acquire(ctx context.Context, providerID string, acquireTimeout time.Duration) (*Permit, error) {
	p.mu.RLock()
	e, ok := p.entries[providerID]
	p.mu.RUnlock()
	if !ok {
		return nil, rerrors.New(rerrors.KindProviderUnavailable, "acquire provider permit", "providerpool", providerID, nil)
	}
	if e.State() == gobreaker.StateOpen {
		return nil, rerrors.New(rerrors.KindProviderUnavailable, "acquire provider permit", "providerpool", providerID, nil)
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	acctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	if err := e.limiter.Wait(acctx); err != nil {
		return nil, rerrors.New(rerrors.KindRateLimited, "acquire provider permit", "providerpool", providerID, err)
	}
	select {
	case e.sema <- struct{}{}:
		return &Permit{providerID: providerID, acquiredAt: time.Now(), sema: e.sema}, nil
	case <-acctx.Done():
		return nil, rerrors.New(rerrors.KindRateLimited, "acquire provider permit", "providerpool", providerID, acctx.Err())
	}
}

// Release frees the concurrency slot held by permit and records outcome
// against the provider's circuit breaker.
func (p *Pool) Release(permit *Permit, outcome Outcome) {
	if permit == nil {
		return
	}
	<-permit.sema

	p.mu.RLock()
	e, ok := p.entries[permit.providerID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	e.recordOutcome(outcome)
}

// recordOutcome feeds a direct outcome into the breaker without routing the
// call itself through gobreaker.Execute, since Acquire/Release is a
// two-phase protocol and the actual provider call happens in between.
func (e *entry) recordOutcome(outcome Outcome) {
	_, _ = e.breaker.Execute(func() (interface{}, error) {
		if outcome == OutcomeFailure {
			return nil, errRecordedFailure
		}
		return nil, nil
	})
}

var errRecordedFailure = providerCallFailed{}

type providerCallFailed struct{}

func (providerCallFailed) Error() string { return "provider call failed" }

// State reports the breaker's current state for providerID.
func (e *entry) State() gobreaker.State { return e.breaker.State() }

// Get returns the registered plug-in for providerID, or false.
func (p *Pool) Get(providerID string) (Provider, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[providerID]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Timeout returns the configured per-call timeout for providerID.
func (p *Pool) Timeout(providerID string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.entries[providerID]; ok {
		return e.cfg.Timeout
	}
	return 0
}

// IsOpen reports whether providerID's breaker is currently Open.
func (p *Pool) IsOpen(providerID string) bool {
	p.mu.RLock()
	e, ok := p.entries[providerID]
	p.mu.RUnlock()
	return ok && e.State() == gobreaker.StateOpen
}
