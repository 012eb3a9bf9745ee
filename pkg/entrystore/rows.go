package entrystore

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resolvecore/resolver/pkg/domain"
)

// textArray (Scanner and Valuer) and float64Arrayscan (Scanner only) are
// minimal Postgres array adapters. The pack's drivers (pgx stdlib, DATA-DOG/go-sqlmock) don't ship
// one that round-trips through database/sql's generic interface the way
// jmoiron/sqlx's struct scanning needs, and pulling in an extra array
// library (e.g. lib/pq) purely for its array type is not grounded in any
// example repo, so these stay hand-written (see DESIGN.md).
type textArray []string

func (a *textArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("textArray: unsupported scan type %T", src)
	}
	*a = textArray(parsePGArray(s))
	return nil
}

func (a textArray) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return pqStringArray(a), nil
}

type float64Arrayscan []float64

func (a *float64Arrayscan) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("float64Arrayscan: unsupported scan type %T", src)
	}
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		*a = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("float64Arrayscan: %w", err)
		}
		out[i] = f
	}
	*a = out
	return nil
}

// entryColumns is the fixed projection used by every read path, kept as a
// single constant so Create/Update's column order and Get/Resolve's SELECT
// stay in lockstep.
const entryColumns = `
	id, kind, title, description, solution, technical_area, business_area,
	severity, priority, tags, status, assigned_to, reporter, sla_deadline,
	usage_count, success_count, confidence_score, last_used, embedding,
	version, archived, created_at, updated_at, resolved_at, created_by`

// entryRow is the sqlx scan target for a row of the entries table. Nullable
// relational columns are represented with sql.Null* wrappers and the array
// adapters above, and
// collapsed into domain.Entry's zero values by toDomain.
type entryRow struct {
	ID              uuid.UUID        `db:"id"`
	Kind            string           `db:"kind"`
	Title           string           `db:"title"`
	Description     string           `db:"description"`
	Solution        sql.NullString   `db:"solution"`
	TechnicalArea   string           `db:"technical_area"`
	BusinessArea    sql.NullString   `db:"business_area"`
	Severity        string           `db:"severity"`
	Priority        int              `db:"priority"`
	Tags            textArray        `db:"tags"`
	Status          sql.NullString   `db:"status"`
	AssignedTo      sql.NullString   `db:"assigned_to"`
	Reporter        sql.NullString   `db:"reporter"`
	SLADeadline     sql.NullTime     `db:"sla_deadline"`
	UsageCount      int              `db:"usage_count"`
	SuccessCount    int              `db:"success_count"`
	ConfidenceScore float64          `db:"confidence_score"`
	LastUsed        sql.NullTime     `db:"last_used"`
	Embedding       float64Arrayscan `db:"embedding"`
	Version         int              `db:"version"`
	Archived        bool             `db:"archived"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
	ResolvedAt      sql.NullTime     `db:"resolved_at"`
	CreatedBy       string           `db:"created_by"`
}

func (r entryRow) toDomain() domain.Entry {
	e := domain.Entry{
		ID:              r.ID,
		Kind:            domain.Kind(r.Kind),
		Title:           r.Title,
		Description:     r.Description,
		Solution:        r.Solution.String,
		TechnicalArea:   r.TechnicalArea,
		BusinessArea:    r.BusinessArea.String,
		Severity:        domain.Severity(r.Severity),
		Priority:        r.Priority,
		Tags:            []string(r.Tags),
		Status:          domain.Status(r.Status.String),
		AssignedTo:      r.AssignedTo.String,
		Reporter:        r.Reporter.String,
		UsageCount:      r.UsageCount,
		SuccessCount:    r.SuccessCount,
		ConfidenceScore: r.ConfidenceScore,
		Version:         r.Version,
		Archived:        r.Archived,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CreatedBy:       r.CreatedBy,
	}
	if r.SLADeadline.Valid {
		e.SLADeadline = &r.SLADeadline.Time
	}
	if r.LastUsed.Valid {
		e.LastUsed = &r.LastUsed.Time
	}
	if r.ResolvedAt.Valid {
		e.ResolvedAt = &r.ResolvedAt.Time
	}
	if len(r.Embedding) > 0 {
		e.Embedding = make([]float32, len(r.Embedding))
		for i, f := range r.Embedding {
			e.Embedding[i] = float32(f)
		}
	}
	return e
}

// parsePGArray parses the literal Postgres array syntax Create/Update write
// (pqStringArray); textArray.Scan and proposal rows use it.
func parsePGArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	return out
}
