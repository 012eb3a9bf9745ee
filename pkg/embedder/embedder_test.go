package embedder_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/resolvecore/resolver/pkg/embedder"
)

type stubProvider struct {
	calls   int
	batches [][]string
	vectors map[string][]float32
	err     error
}

func (p *stubProvider) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	p.calls++
	p.batches = append(p.batches, append([]string(nil), texts...))
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := p.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func newTestEmbedder(t *testing.T, provider embedder.Provider, dim int) *embedder.Embedder {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return embedder.New(provider, client, dim)
}

func TestEmbedCachesByContentAndModel(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{"hello": {0.1, 0.2, 0.3}}}
	e := newTestEmbedder(t, provider, 3)
	ctx := context.Background()

	first, err := e.Embed(ctx, "hello", "model-a")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := e.Embed(ctx, "hello", "model-a")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider.calls = %d, want 1 (second call should hit cache)", provider.calls)
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("cached vector = %v, want bit-identical %v", second, first)
	}
}

func TestEmbedDifferentModelsDoNotShareCache(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{"hello": {0.1, 0.2, 0.3}}}
	e := newTestEmbedder(t, provider, 3)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "hello", "model-a"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := e.Embed(ctx, "hello", "model-b"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("provider.calls = %d, want 2 (distinct model_id must not share cache)", provider.calls)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"a": {1, 0, 0}, "b": {0, 1, 0}, "c": {0, 0, 1},
	}}
	e := newTestEmbedder(t, provider, 3)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"}, "model-a")
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 || vectors[2][2] != 1 {
		t.Errorf("EmbedBatch() = %v, order not preserved", vectors)
	}
}

func TestEmbedNormalizesShortVectorByPadding(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{"x": {1, 2}}}
	e := newTestEmbedder(t, provider, 5)

	v, err := e.Embed(context.Background(), "x", "model-a")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(v) != 5 {
		t.Fatalf("len(v) = %d, want 5", len(v))
	}
	if v[0] != 1 || v[1] != 2 || v[2] != 0 || v[3] != 0 || v[4] != 0 {
		t.Errorf("v = %v, want zero-padded tail", v)
	}
}

func TestEmbedNormalizesLongVectorByTruncating(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{"x": {1, 2, 3, 4, 5}}}
	e := newTestEmbedder(t, provider, 3)

	v, err := e.Embed(context.Background(), "x", "model-a")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(v) != 3 {
		t.Fatalf("len(v) = %d, want 3", len(v))
	}
}

func TestEmbedBatchRejectsEmptyModelID(t *testing.T) {
	provider := &stubProvider{}
	e := newTestEmbedder(t, provider, 3)

	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "")
	if err == nil {
		t.Fatal("EmbedBatch() with empty model_id should fail fast")
	}
}
