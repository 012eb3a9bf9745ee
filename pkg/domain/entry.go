// Package domain holds the entities shared across the resolution core:
// Entry (incidents and knowledge articles), ResolutionProposal, AuditEvent,
// and the sensitive-value map used to round-trip sanitized text.
package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes an incident record from a knowledge article.
type Kind string

const (
	KindIncident  Kind = "Incident"
	KindKnowledge Kind = "Knowledge"
)

// Severity is the incident severity scale.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Status is the incident lifecycle state machine.
type Status string

const (
	StatusOpen        Status = "Open"
	StatusInTreatment Status = "InTreatment"
	StatusUnderReview Status = "UnderReview"
	StatusResolved    Status = "Resolved"
	StatusClosed      Status = "Closed"
	StatusCancelled   Status = "Cancelled"
)

// DefaultEmbeddingDimension is the default vector length (embedding.dimension).
const DefaultEmbeddingDimension = 1536

// MaxDescriptionLen and MaxTitleLen enforce the §3 size invariants.
const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 10000
)

// Entry is the unified record for an incident or a knowledge article.
type Entry struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Kind        Kind      `json:"kind" db:"kind"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Solution    string    `json:"solution,omitempty" db:"solution"`

	TechnicalArea string   `json:"technical_area" db:"technical_area"`
	BusinessArea  string   `json:"business_area,omitempty" db:"business_area"`
	Severity      Severity `json:"severity" db:"severity"`
	Priority      int      `json:"priority" db:"priority"`
	Tags          []string `json:"tags,omitempty" db:"tags"`

	// Incident-only fields.
	Status      Status     `json:"status,omitempty" db:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty" db:"assigned_to"`
	Reporter    string     `json:"reporter,omitempty" db:"reporter"`
	SLADeadline *time.Time `json:"sla_deadline,omitempty" db:"sla_deadline"`

	// Knowledge-only fields.
	UsageCount      int        `json:"usage_count" db:"usage_count"`
	SuccessCount    int        `json:"success_count" db:"success_count"`
	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	LastUsed        *time.Time `json:"last_used,omitempty" db:"last_used"`

	Embedding []float32 `json:"embedding,omitempty" db:"embedding"`

	Version int `json:"version" db:"version"`

	Archived bool `json:"archived" db:"archived"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedBy  string     `json:"created_by" db:"created_by"`
}

// Validate checks the invariants from spec.md §3. It does not check
// Embedding dimension against a configured D — callers that know D should
// call ValidateEmbeddingDim as well.
func (e *Entry) Validate() error {
	switch {
	case len(e.Title) == 0 || len(e.Title) > MaxTitleLen:
		return errInvalid("title must be 1-" + strconv.Itoa(MaxTitleLen) + " characters")
	case len(e.Description) > MaxDescriptionLen:
		return errInvalid("description must be at most " + strconv.Itoa(MaxDescriptionLen) + " characters")
	case e.Kind == KindKnowledge && e.Solution == "":
		return errInvalid("knowledge entries require a solution")
	case e.Status == StatusResolved && (e.ResolvedAt == nil || e.Solution == ""):
		return errInvalid("resolved incidents require resolved_at and a solution")
	case e.SuccessCount > e.UsageCount:
		return errInvalid("success_count must not exceed usage_count")
	case e.Priority != 0 && (e.Priority < 1 || e.Priority > 5):
		return errInvalid("priority must be in [1,5]")
	case e.ConfidenceScore < 0 || e.ConfidenceScore > 1:
		return errInvalid("confidence_score must be in [0,1]")
	}
	return nil
}

// ValidateEmbeddingDim checks the Embedding invariant: present ⇒ length == d.
func (e *Entry) ValidateEmbeddingDim(d int) error {
	if e.Embedding != nil && len(e.Embedding) != d {
		return errInvalid("embedding must have exactly " + strconv.Itoa(d) + " dimensions")
	}
	return nil
}

type invalidError string

func (e invalidError) Error() string { return string(e) }

func errInvalid(msg string) error { return invalidError(msg) }
