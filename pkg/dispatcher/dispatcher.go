// Package dispatcher issues LLM completions against the Provider Pool,
// deduplicating concurrent identical requests and falling back across
// providers in a caller-specified order. See spec.md §4.F.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/providerpool"
)

// Defaults from spec.md §4.F/§6.
const (
	DefaultDedupTTL       = 60 * time.Second
	DefaultAcquireTimeout = 2 * time.Second
	initialBackoff        = 100 * time.Millisecond
	maxBackoff            = 5 * time.Second
)

// Request is a single completion request.
type Request struct {
	ModelFamily   string
	Messages      []providerpool.Message
	MaxTokens     int
	Temperature   float64
	Deadline      time.Time
	CorrelationID string
	FallbackOrder []string
}

// Completion is the Dispatcher's successful result.
type Completion struct {
	Text       string
	ProviderID string
	Usage      providerpool.Usage
}

// pool is the subset of *providerpool.Pool the Dispatcher needs.
type pool interface {
	Acquire(ctx context.Context, providerID string, acquireTimeout time.Duration) (*providerpool.Permit, error)
	Release(permit *providerpool.Permit, outcome providerpool.Outcome)
	Get(providerID string) (providerpool.Provider, bool)
	Timeout(providerID string) time.Duration
	IsOpen(providerID string) bool
}

// Dispatcher coordinates Complete calls across the Provider Pool.
type Dispatcher struct {
	pool     pool
	cache    *redis.Client
	dedupTTL time.Duration
	group    singleflight.Group
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDedupTTL overrides DefaultDedupTTL.
func WithDedupTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.dedupTTL = ttl }
}

// New constructs a Dispatcher. cache may be nil to disable completion caching.
func New(pool pool, cache *redis.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{pool: pool, cache: cache, dedupTTL: DefaultDedupTTL}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Complete issues req, deduplicating concurrent identical requests via
// singleflight and serving from the completion cache when possible.
func (d *Dispatcher) Complete(ctx context.Context, req Request) (Completion, error) {
	key := dedupKey(req)

	if d.cache != nil {
		if cached, ok := d.getCached(ctx, key); ok {
			return cached, nil
		}
	}

	result, err, _ := d.group.Do(key, func() (interface{}, error) {
		completion, err := d.dispatch(ctx, req)
		if err != nil {
			return Completion{}, err
		}
		if d.cache != nil {
			d.setCached(ctx, key, completion)
		}
		return completion, nil
	})
	if err != nil {
		return Completion{}, err
	}
	return result.(Completion), nil
}

// dispatch implements spec.md §4.F step 2: iterate the fallback order,
// skipping Open-breaker providers and moving on after a transient or
// RateLimited failure. After a pass in which every eligible provider failed,
// it backs off with jitter and starts a new pass from the first eligible
// provider, as long as the backoff ends before the deadline (at most six
// passes). A RateLimited outcome after the deadline has passed ends the
// pass, and the call returns AllProvidersUnavailable without backing off.
func (d *Dispatcher) dispatch(ctx context.Context, req Request) (Completion, error) {
	if !req.Deadline.IsZero() && !time.Now().Before(req.Deadline) {
		return Completion{}, rerrors.New(rerrors.KindDeadlineExceeded, "complete", "dispatcher", "", nil)
	}
	if len(req.FallbackOrder) == 0 {
		return Completion{}, rerrors.New(rerrors.KindAllProvidersUnavailable, "complete", "dispatcher", "", nil)
	}

	backoff := initialBackoff
	attempt := 0
	for {
		progressed := false
		for _, providerID := range req.FallbackOrder {
			if d.pool.IsOpen(providerID) {
				continue
			}
			progressed = true

			completion, err := d.tryProvider(ctx, providerID, req)
			if err == nil {
				return completion, nil
			}
			if rerrors.Is(err, rerrors.KindInvalidInput) || rerrors.KindOf(err) == rerrors.KindInternal {
				return Completion{}, err // permanent failure: do not fall back
			}
			if rerrors.Is(err, rerrors.KindRateLimited) && !(req.Deadline.IsZero() || time.Now().Before(req.Deadline)) {
				// The deadline has passed: stop this pass; the deadline check
				// below then returns AllProvidersUnavailable.
				break
			}
			// Transient failure, or RateLimited with deadline room: move to
			// the next provider in this pass.
		}
		if !progressed {
			return Completion{}, rerrors.New(rerrors.KindAllProvidersUnavailable, "complete", "dispatcher", "", nil)
		}

		attempt++
		if !req.Deadline.IsZero() && !time.Now().Add(backoff).Before(req.Deadline) {
			return Completion{}, rerrors.New(rerrors.KindAllProvidersUnavailable, "complete", "dispatcher", "", nil)
		}
		select {
		case <-time.After(jitter(backoff)):
		case <-ctx.Done():
			return Completion{}, rerrors.New(rerrors.KindCancelled, "complete", "dispatcher", "", ctx.Err())
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if attempt > 5 {
			return Completion{}, rerrors.New(rerrors.KindAllProvidersUnavailable, "complete", "dispatcher", "", nil)
		}
	}
}

func (d *Dispatcher) tryProvider(ctx context.Context, providerID string, req Request) (Completion, error) {
	permit, err := d.pool.Acquire(ctx, providerID, DefaultAcquireTimeout)
	if err != nil {
		return Completion{}, err
	}

	timeout := d.pool.Timeout(providerID)
	if !req.Deadline.IsZero() {
		remaining := time.Until(req.Deadline)
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	plugin, ok := d.pool.Get(providerID)
	if !ok {
		d.pool.Release(permit, providerpool.OutcomeFailure)
		return Completion{}, rerrors.New(rerrors.KindProviderUnavailable, "complete", "dispatcher", providerID, nil)
	}

	text, usage, err := plugin.Complete(callCtx, req.Messages, req.ModelFamily, req.MaxTokens, req.Temperature)
	if err != nil {
		d.pool.Release(permit, providerpool.OutcomeFailure)
		return Completion{}, err
	}
	d.pool.Release(permit, providerpool.OutcomeSuccess)
	return Completion{Text: text, ProviderID: providerID, Usage: usage}, nil
}

func (d *Dispatcher) getCached(ctx context.Context, key string) (Completion, bool) {
	raw, err := d.cache.Get(ctx, "dispatcher:"+key).Bytes()
	if err != nil {
		return Completion{}, false
	}
	var c Completion
	if json.Unmarshal(raw, &c) != nil {
		return Completion{}, false
	}
	return c, true
}

func (d *Dispatcher) setCached(ctx context.Context, key string, c Completion) {
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, "dispatcher:"+key, raw, d.dedupTTL).Err()
}

// dedupKey is SHA-256 of the canonical request, per spec.md §4.F step 1.
func dedupKey(req Request) string {
	canonical, _ := json.Marshal(struct {
		ModelFamily   string
		Messages      []providerpool.Message
		MaxTokens     int
		Temperature   float64
		FallbackOrder []string
	}{req.ModelFamily, req.Messages, req.MaxTokens, req.Temperature, req.FallbackOrder})
	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:])
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
