// Package entrystore implements the persistent, versioned storage of
// Entries (incidents and knowledge articles) described in spec.md §4.B: a
// PostgreSQL-backed relational store with a full-text index and an
// application-side cosine-similarity ranking over the Embedding column (see
// SPEC_FULL.md's Open Question #1 for why a full pgvector install is not
// assumed).
package entrystore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

// Store is the relational Entry Store. The zero value is not usable;
// construct with Open or New.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres using the "pgx" stdlib driver and wraps it in a
// *Store. dsn is a standard libpq connection string.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, rerrors.New(rerrors.KindTransient, "connect to entry store", "postgres", "", err)
	}
	return New(db, logger), nil
}

// New wraps an already-open *sqlx.DB. Exposed so tests can inject a
// sqlmock-backed *sql.DB via sqlx.NewDb.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new Entry, assigning its id and setting version=1.
func (s *Store) Create(ctx context.Context, e domain.Entry) (domain.Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Version = 1
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	if err := e.Validate(); err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindInvalidInput, "create entry", "entrystore", e.ID.String(), err)
	}

	const q = `
		INSERT INTO entries (
			id, kind, title, description, solution, technical_area, business_area,
			severity, priority, tags, status, assigned_to, reporter, sla_deadline,
			usage_count, success_count, confidence_score, last_used, embedding,
			version, archived, created_at, updated_at, resolved_at, created_by,
			search_vector
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,
			to_tsvector('english', $3 || ' ' || $4 || ' ' || coalesce($5,'') || ' ' || array_to_string($10,' '))
		)`

	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.Kind, e.Title, e.Description, nullString(e.Solution), e.TechnicalArea, nullString(e.BusinessArea),
		e.Severity, e.Priority, pqStringArray(e.Tags), nullString(string(e.Status)), nullString(e.AssignedTo), nullString(e.Reporter), e.SLADeadline,
		e.UsageCount, e.SuccessCount, e.ConfidenceScore, e.LastUsed, float64Array(e.Embedding),
		e.Version, e.Archived, e.CreatedAt, e.UpdatedAt, e.ResolvedAt, e.CreatedBy,
	)
	if err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "create entry", "entrystore", e.ID.String(), err)
	}
	return e, nil
}

// Get fetches an Entry by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Entry, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.Entry{}, rerrors.New(rerrors.KindNotFound, "get entry", "entrystore", id.String(), nil)
	}
	if err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "get entry", "entrystore", id.String(), err)
	}
	return row.toDomain(), nil
}

// Mutator is a pure function that receives a copy of the current Entry and
// returns the desired next state.
type Mutator func(domain.Entry) (domain.Entry, error)

// Update performs an optimistic-locking CAS: it re-reads the current row,
// checks expectedVersion, applies mutator, re-validates invariants, and
// commits only if the version still matches.
func (s *Store) Update(ctx context.Context, id uuid.UUID, expectedVersion int, mutate Mutator) (domain.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "begin update transaction", "entrystore", id.String(), err)
	}
	defer tx.Rollback()

	var row entryRow
	if err := tx.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Entry{}, rerrors.New(rerrors.KindNotFound, "update entry", "entrystore", id.String(), nil)
		}
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "update entry", "entrystore", id.String(), err)
	}
	current := row.toDomain()
	if current.Version != expectedVersion {
		return domain.Entry{}, rerrors.New(rerrors.KindConflict, "update entry", "entrystore", id.String(), nil)
	}

	next, err := mutate(current)
	if err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindInvalidInput, "mutate entry", "entrystore", id.String(), err)
	}
	if err := next.Validate(); err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindInvalidInput, "validate mutated entry", "entrystore", id.String(), err)
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		UPDATE entries SET
			title=$2, description=$3, solution=$4, technical_area=$5, business_area=$6,
			severity=$7, priority=$8, tags=$9, status=$10, assigned_to=$11, reporter=$12,
			sla_deadline=$13, usage_count=$14, success_count=$15, confidence_score=$16,
			last_used=$17, embedding=$18, version=$19, archived=$20, updated_at=$21,
			resolved_at=$22,
			search_vector = to_tsvector('english', $2 || ' ' || $3 || ' ' || coalesce($4,'') || ' ' || array_to_string($9,' '))
		WHERE id = $1 AND version = $23`,
		next.ID, next.Title, next.Description, nullString(next.Solution), next.TechnicalArea, nullString(next.BusinessArea),
		next.Severity, next.Priority, pqStringArray(next.Tags), nullString(string(next.Status)), nullString(next.AssignedTo), nullString(next.Reporter),
		next.SLADeadline, next.UsageCount, next.SuccessCount, next.ConfidenceScore, next.LastUsed, float64Array(next.Embedding),
		next.Version, next.Archived, next.UpdatedAt, next.ResolvedAt, current.Version,
	)
	if err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "update entry", "entrystore", id.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Entry{}, rerrors.New(rerrors.KindConflict, "update entry", "entrystore", id.String(), nil)
	}
	if err := tx.Commit(); err != nil {
		return domain.Entry{}, rerrors.New(rerrors.KindTransient, "commit update", "entrystore", id.String(), err)
	}
	return next, nil
}

// resolvableStatuses are the Status values a Resolve call may transition from.
var resolvableStatuses = map[domain.Status]bool{
	domain.StatusOpen:        true,
	domain.StatusInTreatment: true,
	domain.StatusUnderReview: true,
}

// Resolve atomically transitions an Incident to Resolved and, if
// createKnowledge is true, inserts a linked Knowledge entry in the same
// transaction (spec.md §4.B, §9 Open Question #2: "spawns, linked").
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, expectedVersion int, solution string, createKnowledge bool) (domain.Entry, *domain.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Entry{}, nil, rerrors.New(rerrors.KindTransient, "begin resolve transaction", "entrystore", id.String(), err)
	}
	defer tx.Rollback()

	var row entryRow
	if err := tx.GetContext(ctx, &row, `SELECT `+entryColumns+` FROM entries WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Entry{}, nil, rerrors.New(rerrors.KindNotFound, "resolve incident", "entrystore", id.String(), nil)
		}
		return domain.Entry{}, nil, rerrors.New(rerrors.KindTransient, "resolve incident", "entrystore", id.String(), err)
	}
	incident := row.toDomain()
	if incident.Version != expectedVersion {
		return domain.Entry{}, nil, rerrors.New(rerrors.KindConflict, "resolve incident", "entrystore", id.String(), nil)
	}
	if !resolvableStatuses[incident.Status] {
		return domain.Entry{}, nil, rerrors.New(rerrors.KindInvalidTransition, "resolve incident", "entrystore", id.String(), nil)
	}

	now := time.Now().UTC()
	incident.Status = domain.StatusResolved
	incident.Solution = solution
	incident.ResolvedAt = &now
	incident.Version++
	incident.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		UPDATE entries SET status=$2, solution=$3, resolved_at=$4, version=$5, updated_at=$6
		WHERE id=$1 AND version=$7`,
		incident.ID, incident.Status, incident.Solution, incident.ResolvedAt, incident.Version, incident.UpdatedAt, incident.Version-1,
	); err != nil {
		return domain.Entry{}, nil, rerrors.New(rerrors.KindTransient, "resolve incident", "entrystore", id.String(), err)
	}

	var knowledge *domain.Entry
	if createKnowledge {
		k := domain.Entry{
			ID:            uuid.New(),
			Kind:          domain.KindKnowledge,
			Title:         incident.Title,
			Description:   incident.Description,
			Solution:      solution,
			TechnicalArea: incident.TechnicalArea,
			BusinessArea:  incident.BusinessArea,
			Severity:      incident.Severity,
			Priority:      incident.Priority,
			Tags:          incident.Tags,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
			CreatedBy:     incident.CreatedBy,
		}
		if err := k.Validate(); err != nil {
			return domain.Entry{}, nil, rerrors.New(rerrors.KindInternal, "build linked knowledge entry", "entrystore", id.String(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (
				id, kind, title, description, solution, technical_area, business_area,
				severity, priority, tags, usage_count, success_count, confidence_score,
				version, archived, created_at, updated_at, created_by, search_vector
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,0,0,$11,false,$12,$13,$14,
				to_tsvector('english', $3 || ' ' || $4 || ' ' || $5 || ' ' || array_to_string($10,' ')))`,
			k.ID, k.Kind, k.Title, k.Description, k.Solution, k.TechnicalArea, nullString(k.BusinessArea),
			k.Severity, k.Priority, pqStringArray(k.Tags), k.Version, k.CreatedAt, k.UpdatedAt, k.CreatedBy,
		); err != nil {
			return domain.Entry{}, nil, rerrors.New(rerrors.KindTransient, "insert linked knowledge entry", "entrystore", id.String(), err)
		}
		knowledge = &k
	}

	if err := tx.Commit(); err != nil {
		return domain.Entry{}, nil, rerrors.New(rerrors.KindTransient, "commit resolve", "entrystore", id.String(), err)
	}
	return incident, knowledge, nil
}

// RecordUsage increments UsageCount (and SuccessCount when success) for a
// Knowledge entry. It is a fast, low-contention path that does not go
// through the general Update CAS.
func (s *Store) RecordUsage(ctx context.Context, id uuid.UUID, success bool) error {
	q := `UPDATE entries SET usage_count = usage_count + 1, last_used = now()`
	if success {
		q += `, success_count = success_count + 1`
	}
	q += ` WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return rerrors.New(rerrors.KindTransient, "record usage", "entrystore", id.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.New(rerrors.KindNotFound, "record usage", "entrystore", id.String(), nil)
	}
	return nil
}

// UpdateEmbedding sets an Entry's embedding vector without a full CAS cycle.
func (s *Store) UpdateEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entries SET embedding = $2, updated_at = now() WHERE id = $1`, id, float64Array(vector))
	if err != nil {
		return rerrors.New(rerrors.KindTransient, "update embedding", "entrystore", id.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.New(rerrors.KindNotFound, "update embedding", "entrystore", id.String(), nil)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func pqStringArray(tags []string) string {
	return "{" + strings.Join(quoteAll(tags), ",") + "}"
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}

func float64Array(v []float32) interface{} {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
