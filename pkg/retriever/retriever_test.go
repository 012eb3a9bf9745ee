package retriever_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/resolvecore/resolver/pkg/domain"
	"github.com/resolvecore/resolver/pkg/entrystore"
	"github.com/resolvecore/resolver/pkg/retriever"
)

type fakeStore struct {
	vectorResults []domain.Entry
	vectorErr     error
	textResults   []domain.Entry
	textErr       error
}

func (f *fakeStore) SearchVector(ctx context.Context, vector []float32, filters entrystore.Filters, limit int, threshold float64) ([]domain.Entry, error) {
	return f.vectorResults, f.vectorErr
}

func (f *fakeStore) SearchText(ctx context.Context, query string, filters entrystore.Filters, limit, offset int) ([]domain.Entry, int, error) {
	return f.textResults, len(f.textResults), f.textErr
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	return f.vector, f.err
}

func entryAt(kind domain.Kind, hoursAgo int) domain.Entry {
	now := time.Now().UTC()
	return domain.Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Title:     "sample",
		Tags:      []string{"database"},
		CreatedAt: now.Add(-time.Duration(hoursAgo) * time.Hour),
		UpdatedAt: now.Add(-time.Duration(hoursAgo) * time.Hour),
	}
}

func incident() domain.Entry {
	return domain.Entry{ID: uuid.New(), Kind: domain.KindIncident, Title: "db timeouts", Description: "connections exhausted"}
}

func TestRetrieveFusesAndSplitsByKind(t *testing.T) {
	inc := entryAt(domain.KindIncident, 1)
	kno := entryAt(domain.KindKnowledge, 2)
	store := &fakeStore{vectorResults: []domain.Entry{inc, kno}, textResults: []domain.Entry{kno, inc}}
	emb := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	r := retriever.New(store, emb, "model-a")

	bundle, err := r.Retrieve(context.Background(), incident(), retriever.Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(bundle.SimilarIncidents) != 1 || bundle.SimilarIncidents[0].ID != inc.ID {
		t.Errorf("SimilarIncidents = %+v, want [%v]", bundle.SimilarIncidents, inc.ID)
	}
	if len(bundle.Knowledge) != 1 || bundle.Knowledge[0].ID != kno.ID {
		t.Errorf("Knowledge = %+v, want [%v]", bundle.Knowledge, kno.ID)
	}
	if bundle.Degraded {
		t.Error("Degraded = true, want false")
	}
}

func TestRetrieveMarksLowConfidenceBelowMinSources(t *testing.T) {
	store := &fakeStore{vectorResults: []domain.Entry{entryAt(domain.KindIncident, 1)}}
	emb := &fakeEmbedder{vector: []float32{0.1}}
	r := retriever.New(store, emb, "model-a")

	bundle, err := r.Retrieve(context.Background(), incident(), retriever.Options{MinSources: 2})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bundle.LowConfidence {
		t.Error("LowConfidence = false, want true with only one source")
	}
}

func TestRetrieveFallsBackToTextOnVectorFailure(t *testing.T) {
	kno := entryAt(domain.KindKnowledge, 1)
	store := &fakeStore{vectorErr: errors.New("vector index unavailable"), textResults: []domain.Entry{kno}}
	emb := &fakeEmbedder{err: errors.New("embedding provider down")}
	r := retriever.New(store, emb, "model-a")

	bundle, err := r.Retrieve(context.Background(), incident(), retriever.Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !bundle.Degraded {
		t.Error("Degraded = false, want true when the vector path fails")
	}
	if len(bundle.Knowledge) != 1 {
		t.Errorf("Knowledge = %+v, want the text-path result to survive", bundle.Knowledge)
	}
}

func TestRetrieveReturnsEmptyDegradedBundleWhenBothPathsFail(t *testing.T) {
	store := &fakeStore{vectorErr: errors.New("down"), textErr: errors.New("down")}
	emb := &fakeEmbedder{err: errors.New("down")}
	r := retriever.New(store, emb, "model-a")

	bundle, err := r.Retrieve(context.Background(), incident(), retriever.Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil (degraded is not fatal)", err)
	}
	if !bundle.Degraded || len(bundle.SimilarIncidents) != 0 || len(bundle.Knowledge) != 0 {
		t.Errorf("bundle = %+v, want empty and degraded", bundle)
	}
}

func TestRetrievePatternsSummarizesTagsAndSuccessRate(t *testing.T) {
	kno := entryAt(domain.KindKnowledge, 1)
	kno.UsageCount, kno.SuccessCount = 10, 8
	store := &fakeStore{vectorResults: []domain.Entry{kno}}
	emb := &fakeEmbedder{vector: []float32{0.1}}
	r := retriever.New(store, emb, "model-a")

	bundle, err := r.Retrieve(context.Background(), incident(), retriever.Options{})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if bundle.Patterns.KnowledgeSuccessRate != 0.8 {
		t.Errorf("KnowledgeSuccessRate = %v, want 0.8", bundle.Patterns.KnowledgeSuccessRate)
	}
	if len(bundle.Patterns.TopTags) == 0 || bundle.Patterns.TopTags[0] != "database" {
		t.Errorf("TopTags = %v, want [database, ...]", bundle.Patterns.TopTags)
	}
}
