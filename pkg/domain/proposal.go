package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies how risky a proposed resolution is to apply.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// ProposalStatus is the lifecycle of a ResolutionProposal.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "Pending"
	ProposalAccepted   ProposalStatus = "Accepted"
	ProposalRejected   ProposalStatus = "Rejected"
	ProposalSuperseded ProposalStatus = "Superseded"
)

// Source is one (EntryId, SimilarityScore) pair used as retrieval context.
type Source struct {
	EntryID         uuid.UUID `json:"entry_id"`
	SimilarityScore float64   `json:"similarity_score"`
}

// Generator identifies which provider and model produced a proposal.
type Generator struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

// Metrics captures the cost/timing attributes attached to a proposal.
type Metrics struct {
	ProcessingTimeMs int64 `json:"processing_time_ms"`
	TokensUsed       int   `json:"tokens_used"`
	SourcesUsed      int   `json:"sources_used"`
}

// ResolutionProposal is the ephemeral AI-generated artifact attached to an
// Incident. See spec.md §3.
type ResolutionProposal struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	Generator  Generator `json:"generator"`
	CreatedAt  time.Time `json:"created_at"`

	Confidence       float64   `json:"confidence"`
	RiskLevel        RiskLevel `json:"risk_level"`
	EstimatedMinutes int       `json:"estimated_minutes"`

	Analysis           string   `json:"analysis"`
	RecommendedActions []string `json:"recommended_actions"`
	NextSteps          string   `json:"next_steps"`
	Reasoning          string   `json:"reasoning"`

	Sources []Source `json:"sources"`
	Metrics Metrics  `json:"metrics"`

	Status ProposalStatus `json:"status"`
}

// Validate checks the invariants from spec.md §3 for a ResolutionProposal.
func (p *ResolutionProposal) Validate() error {
	switch {
	case p.Confidence < 0 || p.Confidence > 1:
		return errInvalid("confidence must be in [0,1]")
	case p.RiskLevel != RiskLow && p.RiskLevel != RiskMedium && p.RiskLevel != RiskHigh:
		return errInvalid("risk_level must be Low, Medium, or High")
	case len(p.RecommendedActions) == 0:
		return errInvalid("recommended_actions must have at least one item")
	}
	return nil
}
