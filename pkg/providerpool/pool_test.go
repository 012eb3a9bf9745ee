package providerpool_test

import (
	"context"
	"testing"
	"time"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/providerpool"
)

type fakeProvider struct{}

func (fakeProvider) Complete(ctx context.Context, messages []providerpool.Message, model string, maxTokens int, temperature float64) (string, providerpool.Usage, error) {
	return "ok", providerpool.Usage{}, nil
}
func (fakeProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	return nil, nil
}
func (fakeProvider) Probe(ctx context.Context) error { return nil }

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := providerpool.New()
	p.Register(providerpool.Config{ID: "p1", Capacity: 10, RefillRate: 10, MaxConcurrent: 2}, fakeProvider{})

	permit, err := p.Acquire(context.Background(), "p1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(permit, providerpool.OutcomeSuccess)
}

func TestAcquireUnknownProviderIsUnavailable(t *testing.T) {
	p := providerpool.New()
	_, err := p.Acquire(context.Background(), "missing", time.Second)
	if !rerrors.Is(err, rerrors.KindProviderUnavailable) {
		t.Fatalf("Acquire() error = %v, want KindProviderUnavailable", err)
	}
}

func TestAcquireRateLimitedWhenBucketExhausted(t *testing.T) {
	p := providerpool.New()
	p.Register(providerpool.Config{ID: "p1", Capacity: 1, RefillRate: 0.001, MaxConcurrent: 5}, fakeProvider{})

	first, err := p.Acquire(context.Background(), "p1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	p.Release(first, providerpool.OutcomeSuccess)

	_, err = p.Acquire(context.Background(), "p1", 50*time.Millisecond)
	if !rerrors.Is(err, rerrors.KindRateLimited) {
		t.Fatalf("second Acquire() error = %v, want KindRateLimited", err)
	}
}

func TestAcquireBlocksOnSaturatedConcurrency(t *testing.T) {
	p := providerpool.New()
	p.Register(providerpool.Config{ID: "p1", Capacity: 100, RefillRate: 100, MaxConcurrent: 1}, fakeProvider{})

	first, err := p.Acquire(context.Background(), "p1", time.Second)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	_, err = p.Acquire(context.Background(), "p1", 50*time.Millisecond)
	if err == nil {
		t.Fatal("second Acquire() on a saturated provider should fail while the first permit is held")
	}

	p.Release(first, providerpool.OutcomeSuccess)
	second, err := p.Acquire(context.Background(), "p1", time.Second)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	p.Release(second, providerpool.OutcomeSuccess)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := providerpool.New()
	p.Register(providerpool.Config{ID: "p1", Capacity: 100, RefillRate: 100, MaxConcurrent: 10, FailureThreshold: 5}, fakeProvider{})

	for i := 0; i < 10; i++ {
		permit, err := p.Acquire(context.Background(), "p1", time.Second)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		p.Release(permit, providerpool.OutcomeFailure)
	}

	if !p.IsOpen("p1") {
		t.Fatal("IsOpen() = false, want true after 10 consecutive failures")
	}

	_, err := p.Acquire(context.Background(), "p1", time.Second)
	if !rerrors.Is(err, rerrors.KindProviderUnavailable) {
		t.Fatalf("Acquire() on an open breaker error = %v, want KindProviderUnavailable", err)
	}
}

func TestGetReturnsRegisteredPlugin(t *testing.T) {
	p := providerpool.New()
	plugin := fakeProvider{}
	p.Register(providerpool.Config{ID: "p1", Capacity: 1, RefillRate: 1}, plugin)

	got, ok := p.Get("p1")
	if !ok || got == nil {
		t.Fatal("Get() did not return the registered plugin")
	}
}
