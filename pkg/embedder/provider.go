package embedder

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// langchainProvider adapts tmc/langchaingo's embeddings.Embedder to this
// package's Provider interface. langchaingo embedders are constructed
// per-model by the caller (e.g. embeddings.NewEmbedder(openai.New(...))),
// so models is a registry of modelID -> pre-built embedder rather than a
// single client, letting Embedder fail fast on an unknown model_id per
// spec.md §4.C.
type langchainProvider struct {
	models map[string]embeddings.Embedder
}

// NewLangchainProvider builds a Provider backed by one or more
// pre-constructed langchaingo embedders, keyed by model id.
func NewLangchainProvider(models map[string]embeddings.Embedder) Provider {
	return &langchainProvider{models: models}
}

func (p *langchainProvider) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	m, ok := p.models[modelID]
	if !ok {
		return nil, rerrors.New(rerrors.KindInvalidInput, "embed batch", "langchain_provider", modelID, nil)
	}
	vectors, err := m.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, rerrors.New(rerrors.KindProviderUnavailable, "embed batch", "langchain_provider", modelID, err)
	}
	return vectors, nil
}
