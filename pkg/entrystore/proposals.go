package entrystore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

const proposalColumns = `id, incident_id, provider_id, model_id, created_at, confidence, risk_level,
	estimated_minutes, analysis, recommended_actions, next_steps, reasoning, sources,
	processing_time_ms, tokens_used, sources_used, status`

// SaveProposal inserts a ResolutionProposal linked to its Incident. Callers
// pass the Incident's id and expected version alongside advanceToUnderReview;
// the transition applies only while that Incident is Open at that version
// (otherwise KindConflict), in the same transaction as the insert, per
// spec.md §4.G step 9 ("set Incident.Status = UnderReview only if
// options.auto_advance=true and current status is Open").
func (s *Store) SaveProposal(ctx context.Context, p domain.ResolutionProposal, advanceIncidentID uuid.UUID, advanceExpectedVersion int, advanceToUnderReview bool) (domain.ResolutionProposal, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	sources, err := json.Marshal(p.Sources)
	if err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindInvalidInput, "save proposal", "entrystore", p.ID.String(), err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindTransient, "save proposal", "entrystore", p.ID.String(), err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.IncidentID, p.Generator.ProviderID, p.Generator.ModelID, p.CreatedAt, p.Confidence, p.RiskLevel,
		p.EstimatedMinutes, p.Analysis, pqStringArray(p.RecommendedActions), p.NextSteps, p.Reasoning, sources,
		p.Metrics.ProcessingTimeMs, p.Metrics.TokensUsed, p.Metrics.SourcesUsed, p.Status,
	)
	if err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindTransient, "save proposal", "entrystore", p.ID.String(), err)
	}

	if advanceToUnderReview {
		res, err := tx.ExecContext(ctx, `
			UPDATE entries SET status=$2, version=version+1, updated_at=now()
			WHERE id=$1 AND version=$3 AND status=$4`,
			advanceIncidentID, domain.StatusUnderReview, advanceExpectedVersion, domain.StatusOpen,
		)
		if err != nil {
			return domain.ResolutionProposal{}, rerrors.New(rerrors.KindTransient, "advance incident to under review", "entrystore", advanceIncidentID.String(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ResolutionProposal{}, rerrors.New(rerrors.KindConflict, "advance incident to under review", "entrystore", advanceIncidentID.String(), nil)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindTransient, "commit save proposal", "entrystore", p.ID.String(), err)
	}
	return p, nil
}

// GetProposal fetches a ResolutionProposal by id.
func (s *Store) GetProposal(ctx context.Context, id uuid.UUID) (domain.ResolutionProposal, error) {
	var row proposalRow
	err := s.db.GetContext(ctx, &row, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindNotFound, "get proposal", "entrystore", id.String(), nil)
	}
	if err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindTransient, "get proposal", "entrystore", id.String(), err)
	}
	return row.toDomain()
}

// UpdateProposalStatus transitions a proposal's Status (e.g. to Accepted,
// Rejected, or Superseded).
func (s *Store) UpdateProposalStatus(ctx context.Context, id uuid.UUID, status domain.ProposalStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proposals SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return rerrors.New(rerrors.KindTransient, "update proposal status", "entrystore", id.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.New(rerrors.KindNotFound, "update proposal status", "entrystore", id.String(), nil)
	}
	return nil
}

type proposalRow struct {
	ID                 uuid.UUID    `db:"id"`
	IncidentID         uuid.UUID    `db:"incident_id"`
	ProviderID         string       `db:"provider_id"`
	ModelID            string       `db:"model_id"`
	CreatedAt          sql.NullTime `db:"created_at"`
	Confidence         float64      `db:"confidence"`
	RiskLevel          string       `db:"risk_level"`
	EstimatedMinutes   int          `db:"estimated_minutes"`
	Analysis           string       `db:"analysis"`
	RecommendedActions string       `db:"recommended_actions"`
	NextSteps          string       `db:"next_steps"`
	Reasoning          string       `db:"reasoning"`
	Sources            []byte       `db:"sources"`
	ProcessingTimeMs   int64        `db:"processing_time_ms"`
	TokensUsed         int          `db:"tokens_used"`
	SourcesUsed        int          `db:"sources_used"`
	Status             string       `db:"status"`
}

func (r proposalRow) toDomain() (domain.ResolutionProposal, error) {
	var sources []domain.Source
	if len(r.Sources) > 0 {
		if err := json.Unmarshal(r.Sources, &sources); err != nil {
			return domain.ResolutionProposal{}, rerrors.New(rerrors.KindInternal, "decode proposal sources", "entrystore", r.ID.String(), err)
		}
	}
	return domain.ResolutionProposal{
		ID:         r.ID,
		IncidentID: r.IncidentID,
		Generator:  domain.Generator{ProviderID: r.ProviderID, ModelID: r.ModelID},
		CreatedAt:  r.CreatedAt.Time,

		Confidence:       r.Confidence,
		RiskLevel:        domain.RiskLevel(r.RiskLevel),
		EstimatedMinutes: r.EstimatedMinutes,

		Analysis:           r.Analysis,
		RecommendedActions: parsePGArray(r.RecommendedActions),
		NextSteps:          r.NextSteps,
		Reasoning:          r.Reasoning,

		Sources: sources,
		Metrics: domain.Metrics{
			ProcessingTimeMs: r.ProcessingTimeMs,
			TokensUsed:       r.TokensUsed,
			SourcesUsed:      r.SourcesUsed,
		},

		Status: domain.ProposalStatus(r.Status),
	}, nil
}
