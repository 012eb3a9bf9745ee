// Package embedder produces fixed-dimension embedding vectors for text,
// caching by content hash so repeated inputs never re-hit a provider.
// See spec.md §4.C.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/obs/logging"
)

// Provider is the pluggable embedding backend. One concrete implementation
// (langchainProvider, in provider.go) wraps tmc/langchaingo's embeddings
// abstraction; tests supply a stub.
type Provider interface {
	// EmbedBatch returns one vector per input text, in order, for modelID.
	// An unknown modelID must fail fast rather than silently substitute a
	// default model.
	EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error)
}

// DefaultCacheTTL is the default cache lifetime (embedding.cache_ttl).
const DefaultCacheTTL = 24 * time.Hour

// Embedder wraps a Provider with content-hash caching and dimension
// normalization.
type Embedder struct {
	provider  Provider
	cache     *redis.Client
	cacheTTL  time.Duration
	dimension int
	logger    *zap.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Embedder) { e.cacheTTL = ttl }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Embedder) { e.logger = l }
}

// New constructs an Embedder. dimension is the configured D (embedding.dimension).
func New(provider Provider, cache *redis.Client, dimension int, opts ...Option) *Embedder {
	e := &Embedder{provider: provider, cache: cache, cacheTTL: DefaultCacheTTL, dimension: dimension, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Embed returns a single vector[D] for text under modelID.
func (e *Embedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, modelID)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// BatchError pairs one input index of a batch with its error. EmbedBatch
// does not return it: a provider failure fails the whole batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string { return e.Err.Error() }
func (e *BatchError) Unwrap() error { return e.Err }

// EmbedBatch returns one vector[D] per input text, preserving order. Results
// are served from cache where present; the remainder go to the provider in
// one call. A cache miss on write-back never fails the call — the computed
// vector is still returned, only not persisted for next time. A provider
// error fails the whole call with KindProviderUnavailable, and a provider
// result of the wrong length with KindInvalidModelOutput; no per-index
// errors are reported.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	if modelID == "" {
		return nil, rerrors.New(rerrors.KindInvalidInput, "embed batch", "embedder", "", nil)
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var misses []int

	for i, t := range texts {
		key := cacheKey(t, modelID)
		keys[i] = key
		if e.cache != nil {
			if v, err := e.getCached(ctx, key); err == nil {
				out[i] = v
				continue
			}
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		missTexts := make([]string, len(misses))
		for j, i := range misses {
			missTexts[j] = texts[i]
		}
		vectors, err := e.provider.EmbedBatch(ctx, missTexts, modelID)
		if err != nil {
			return nil, rerrors.New(rerrors.KindProviderUnavailable, "embed batch", "embedder", modelID, err)
		}
		if len(vectors) != len(missTexts) {
			return nil, rerrors.New(rerrors.KindInvalidModelOutput, "embed batch", "embedder", modelID, nil)
		}
		for j, i := range misses {
			v := e.normalize(vectors[j], modelID)
			out[i] = v
			if e.cache != nil {
				e.setCached(ctx, keys[i], v)
			}
		}
	}

	return out, nil
}

// normalize enforces len(v) == e.dimension, padding with zeros or
// truncating and logging a warning — the vector length invariant from
// spec.md §4.C is never silently violated.
func (e *Embedder) normalize(v []float32, modelID string) []float32 {
	if e.dimension <= 0 || len(v) == e.dimension {
		return v
	}
	e.logger.Warn("embedding dimension mismatch, normalizing",
		logging.NewFields().Component("embedder").Operation("normalize").Custom("model_id", modelID).
			Custom("provider_dim", len(v)).Custom("configured_dim", e.dimension).ToZap()...)

	if len(v) > e.dimension {
		return v[:e.dimension]
	}
	padded := make([]float32, e.dimension)
	copy(padded, v)
	return padded
}

func (e *Embedder) getCached(ctx context.Context, key string) ([]float32, error) {
	raw, err := e.cache.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	return decodeVector(raw), nil
}

func (e *Embedder) setCached(ctx context.Context, key string, v []float32) {
	_ = e.cache.Set(ctx, key, encodeVector(v), e.cacheTTL).Err()
}

// cacheKey is SHA-256 of the normalized input plus model identifier,
// per spec.md §4.C.
func cacheKey(text, modelID string) string {
	norm := strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	return "embedder:v1:" + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
