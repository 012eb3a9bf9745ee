// Package retriever fuses vector and full-text search results into a
// ContextBundle for the Resolver. See spec.md §4.D.
package retriever

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/resolvecore/resolver/pkg/domain"
	"github.com/resolvecore/resolver/pkg/entrystore"
)

// VectorSearcher and TextSearcher narrow *entrystore.Store to the two read
// paths Retrieve needs, so tests can substitute fakes instead of a live
// Postgres connection.
type VectorSearcher interface {
	SearchVector(ctx context.Context, vector []float32, f entrystore.Filters, limit int, threshold float64) ([]domain.Entry, error)
}

type TextSearcher interface {
	SearchText(ctx context.Context, query string, f entrystore.Filters, limit, offset int) ([]domain.Entry, int, error)
}

// Embedder narrows *embedder.Embedder to the single call Retrieve needs.
type Embedder interface {
	Embed(ctx context.Context, text, modelID string) ([]float32, error)
}

// Defaults from spec.md §4.D / §6.
const (
	DefaultVectorTopK = 20
	DefaultTextTopK   = 20
	DefaultThreshold  = 0.70
	DefaultRRFK       = 60
	DefaultLimit      = 5
	DefaultMinSources = 2
)

// Options narrows and bounds a single Retrieve call.
type Options struct {
	TechnicalArea string
	Limit         int
	VectorTopK    int
	TextTopK      int
	Threshold     float64
	RRFK          int
	MinSources    int
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.VectorTopK <= 0 {
		o.VectorTopK = DefaultVectorTopK
	}
	if o.TextTopK <= 0 {
		o.TextTopK = DefaultTextTopK
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.MinSources <= 0 {
		o.MinSources = DefaultMinSources
	}
	return o
}

// Patterns is the aggregate summary over a ContextBundle's selected items.
type Patterns struct {
	TopTags              []string
	MeanResolutionMins   float64
	KnowledgeSuccessRate float64
}

// ContextBundle is the Retriever's output, consumed by the Resolver.
type ContextBundle struct {
	SimilarIncidents []domain.Entry
	Knowledge        []domain.Entry
	Sources          []domain.Source
	Patterns         Patterns
	LowConfidence    bool
	Degraded         bool
}

// entryStore is the minimal Entry Store surface Retrieve needs.
type entryStore interface {
	VectorSearcher
	TextSearcher
}

// Retriever fuses Entry Store vector and text search into a ContextBundle.
type Retriever struct {
	store    entryStore
	embedder Embedder
	modelID  string
}

// New constructs a Retriever over any store implementing both SearchVector
// and SearchText (in practice *entrystore.Store) and any Embedder.
func New(store entryStore, emb Embedder, modelID string) *Retriever {
	return &Retriever{store: store, embedder: emb, modelID: modelID}
}

type ranked struct {
	entry domain.Entry
	score float64
}

// Retrieve runs the algorithm from spec.md §4.D: embed the incident, query
// vector and text search in parallel, fuse by reciprocal rank fusion, split
// by Kind, and summarize patterns. A failure of the vector path alone falls
// back to text results only; a failure of both returns an empty, degraded
// bundle rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, incident domain.Entry, opts Options) (ContextBundle, error) {
	opts = opts.withDefaults()
	filters := entrystore.Filters{TechnicalArea: opts.TechnicalArea}

	var vectorResults, textResults []domain.Entry
	var vectorErr, textErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.Embed(gctx, incident.Title+"\n"+incident.Description, r.modelID)
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorResults, vectorErr = r.store.SearchVector(gctx, vec, filters, opts.VectorTopK, opts.Threshold)
		return nil
	})
	g.Go(func() error {
		query := keywordQuery(incident)
		results, total, err := r.store.SearchText(gctx, query, filters, opts.TextTopK, 0)
		_ = total
		textResults, textErr = results, err
		return nil
	})
	_ = g.Wait() // both branches record their own errors; never abort the other

	if vectorErr != nil && textErr != nil {
		return ContextBundle{Degraded: true}, nil
	}

	fused := fuse(vectorResults, textResults, incident.ID, opts.RRFK)

	var similar, knowledge []domain.Entry
	var sources []domain.Source
	for _, e := range fused {
		if e.entry.Kind == domain.KindIncident && len(similar) < opts.Limit {
			similar = append(similar, e.entry)
			sources = append(sources, domain.Source{EntryID: e.entry.ID, SimilarityScore: e.score})
		}
		if e.entry.Kind == domain.KindKnowledge && len(knowledge) < opts.Limit {
			knowledge = append(knowledge, e.entry)
			sources = append(sources, domain.Source{EntryID: e.entry.ID, SimilarityScore: e.score})
		}
	}

	bundle := ContextBundle{
		SimilarIncidents: similar,
		Knowledge:        knowledge,
		Sources:          sources,
		Patterns:         summarize(append(append([]domain.Entry{}, similar...), knowledge...)),
		Degraded:         vectorErr != nil, // vector path failed, text-only fallback used
	}
	if len(similar)+len(knowledge) < opts.MinSources {
		bundle.LowConfidence = true
	}
	return bundle, nil
}

func keywordQuery(incident domain.Entry) string {
	return incident.Title + " " + incident.Description
}

// fuse combines two ranked lists by reciprocal rank fusion:
// score(x) = Σ 1/(k + rank_i(x)), ties broken by recency then id.
func fuse(vector, text []domain.Entry, excludeID interface{ String() string }, k int) []ranked {
	scores := make(map[string]float64)
	entries := make(map[string]domain.Entry)
	accumulate := func(list []domain.Entry) {
		for i, e := range list {
			if e.ID.String() == excludeID.String() {
				continue
			}
			id := e.ID.String()
			scores[id] += 1.0 / float64(k+i+1)
			entries[id] = e
		}
	}
	accumulate(vector)
	accumulate(text)

	out := make([]ranked, 0, len(entries))
	for id, e := range entries {
		out = append(out, ranked{entry: e, score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if !out[i].entry.UpdatedAt.Equal(out[j].entry.UpdatedAt) {
			return out[i].entry.UpdatedAt.After(out[j].entry.UpdatedAt)
		}
		return out[i].entry.ID.String() < out[j].entry.ID.String()
	})
	return out
}

func summarize(items []domain.Entry) Patterns {
	tagCounts := make(map[string]int)
	var totalResolutionMins float64
	var resolutionSamples int
	var knowledgeTotal, knowledgeSuccess int

	for _, e := range items {
		for _, tag := range e.Tags {
			tagCounts[tag]++
		}
		if e.Kind == domain.KindKnowledge {
			knowledgeTotal += e.UsageCount
			knowledgeSuccess += e.SuccessCount
		}
		if e.ResolvedAt != nil {
			totalResolutionMins += e.ResolvedAt.Sub(e.CreatedAt).Minutes()
			resolutionSamples++
		}
	}

	tags := make([]string, 0, len(tagCounts))
	for t := range tagCounts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tagCounts[tags[i]] != tagCounts[tags[j]] {
			return tagCounts[tags[i]] > tagCounts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	p := Patterns{TopTags: tags}
	if resolutionSamples > 0 {
		p.MeanResolutionMins = totalResolutionMins / float64(resolutionSamples)
	}
	if knowledgeTotal > 0 {
		p.KnowledgeSuccessRate = float64(knowledgeSuccess) / float64(knowledgeTotal)
	}
	return p
}
