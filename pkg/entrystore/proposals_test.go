package entrystore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/resolvecore/resolver/pkg/domain"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
)

func sampleProposal(incidentID uuid.UUID) domain.ResolutionProposal {
	return domain.ResolutionProposal{
		ID:         uuid.New(),
		IncidentID: incidentID,
		Generator:  domain.Generator{ProviderID: "anthropic", ModelID: "claude-3-5"},
		CreatedAt:  time.Now().UTC(),

		Confidence:       0.82,
		RiskLevel:        domain.RiskMedium,
		EstimatedMinutes: 30,

		Analysis:           "connection pool misconfigured",
		RecommendedActions: []string{"increase pool size", "add circuit breaker"},
		NextSteps:          "monitor for 24h",
		Reasoning:          "matches two prior incidents",

		Sources: []domain.Source{{EntryID: uuid.New(), SimilarityScore: 0.91}},
		Metrics: domain.Metrics{ProcessingTimeMs: 1200, TokensUsed: 512, SourcesUsed: 2},

		Status: domain.ProposalPending,
	}
}

func TestSaveProposalWithoutAdvance(t *testing.T) {
	store, mock := newMockStore(t)
	p := sampleProposal(uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO proposals`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	saved, err := store.SaveProposal(context.Background(), p, uuid.Nil, 0, false)
	if err != nil {
		t.Fatalf("SaveProposal() error = %v", err)
	}
	if saved.ID != p.ID {
		t.Errorf("SaveProposal() ID = %v, want %v", saved.ID, p.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveProposalAdvancesIncidentToUnderReview(t *testing.T) {
	store, mock := newMockStore(t)
	incidentID := uuid.New()
	p := sampleProposal(incidentID)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO proposals`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE entries SET status=\$2`).
		WithArgs(incidentID, domain.StatusUnderReview, 1, domain.StatusOpen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.SaveProposal(context.Background(), p, incidentID, 1, true)
	if err != nil {
		t.Fatalf("SaveProposal() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSaveProposalAdvanceConflictWhenVersionStale(t *testing.T) {
	store, mock := newMockStore(t)
	incidentID := uuid.New()
	p := sampleProposal(incidentID)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO proposals`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE entries SET status=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.SaveProposal(context.Background(), p, incidentID, 1, true)
	if !rerrors.Is(err, rerrors.KindConflict) {
		t.Fatalf("SaveProposal() error = %v, want KindConflict", err)
	}
}

func TestGetProposalNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, incident_id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetProposal(context.Background(), id)
	if !rerrors.Is(err, rerrors.KindNotFound) {
		t.Fatalf("GetProposal() error = %v, want KindNotFound", err)
	}
}

func TestUpdateProposalStatus(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE proposals SET status`).
		WithArgs(id, domain.ProposalAccepted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateProposalStatus(context.Background(), id, domain.ProposalAccepted); err != nil {
		t.Fatalf("UpdateProposalStatus() error = %v", err)
	}
}
