package entrystore

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"

	"github.com/resolvecore/resolver/pkg/domain"
)

// Filters narrows both SearchText and SearchVector to a technical/business
// area and a Kind, matching spec.md §4.B/§4.D's retrieval filter set.
type Filters struct {
	Kind          domain.Kind
	TechnicalArea string
	BusinessArea  string
}

// SearchText runs a PostgreSQL full-text search over title/description/
// solution/tags, ranking with ts_rank_cd and boosting still-open incidents
// 1.5x so active work outranks stale matches of equal lexical relevance.
func (s *Store) SearchText(ctx context.Context, query string, f Filters, limit, offset int) ([]domain.Entry, int, error) {
	where, args := []string{"search_vector @@ plainto_tsquery('english', $1)"}, []interface{}{query}
	args = appendFilters(&where, args, f)

	countQ := `SELECT count(*) FROM entries WHERE ` + strings.Join(where, " AND ")
	var total int
	if err := s.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return nil, 0, rerrors.New(rerrors.KindTransient, "search entries by text", "entrystore", query, err)
	}

	args = append(args, limit, offset)
	q := `SELECT ` + entryColumns + `,
			ts_rank_cd(search_vector, plainto_tsquery('english', $1)) *
			(CASE WHEN status IN ('Open','InTreatment','UnderReview') THEN 1.5 ELSE 1.0 END) AS rank
		FROM entries WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY rank DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, 0, rerrors.New(rerrors.KindTransient, "search entries by text", "entrystore", query, err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		var row entryRow
		var rank float64
		dest := append(rowScanDest(&row), &rank)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, rerrors.New(rerrors.KindTransient, "scan search result", "entrystore", query, err)
		}
		out = append(out, row.toDomain())
	}
	return out, total, nil
}

// candidateCap bounds how many rows SearchVector pulls back before ranking
// client-side; see SPEC_FULL.md's Open Question #1 on deferring a real
// pgvector/ANN index.
const candidateCap = 2000

// SearchVector ranks entries by cosine similarity to vector, computed in Go
// over a filtered candidate set, returning matches at or above threshold.
func (s *Store) SearchVector(ctx context.Context, vector []float32, f Filters, limit int, threshold float64) ([]domain.Entry, error) {
	where, args := []string{"embedding IS NOT NULL", "NOT archived"}, []interface{}{}
	args = appendFilters(&where, args, f)
	args = append(args, candidateCap)

	q := `SELECT ` + entryColumns + ` FROM entries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY updated_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransient, "search entries by vector", "entrystore", "", err)
	}
	defer rows.Close()

	type scored struct {
		entry domain.Entry
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var row entryRow
		if err := rows.StructScan(&row); err != nil {
			return nil, rerrors.New(rerrors.KindTransient, "scan vector candidate", "entrystore", "", err)
		}
		e := row.toDomain()
		sim := cosineSimilarity(vector, e.Embedding)
		if sim >= threshold {
			candidates = append(candidates, scored{e, sim})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]domain.Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func appendFilters(where *[]string, args []interface{}, f Filters) []interface{} {
	if f.Kind != "" {
		args = append(args, f.Kind)
		*where = append(*where, "kind = $"+strconv.Itoa(len(args)))
	}
	if f.TechnicalArea != "" {
		args = append(args, f.TechnicalArea)
		*where = append(*where, "technical_area = $"+strconv.Itoa(len(args)))
	}
	if f.BusinessArea != "" {
		args = append(args, f.BusinessArea)
		*where = append(*where, "business_area = $"+strconv.Itoa(len(args)))
	}
	return args
}

// rowScanDest returns scan destinations matching entryColumns' order, for
// the one query (SearchText) that appends a computed rank column after them.
func rowScanDest(r *entryRow) []interface{} {
	return []interface{}{
		&r.ID, &r.Kind, &r.Title, &r.Description, &r.Solution, &r.TechnicalArea, &r.BusinessArea,
		&r.Severity, &r.Priority, &r.Tags, &r.Status, &r.AssignedTo, &r.Reporter, &r.SLADeadline,
		&r.UsageCount, &r.SuccessCount, &r.ConfidenceScore, &r.LastUsed, &r.Embedding,
		&r.Version, &r.Archived, &r.CreatedAt, &r.UpdatedAt, &r.ResolvedAt, &r.CreatedBy,
	}
}
