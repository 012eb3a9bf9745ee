// Package resolver orchestrates the end-to-end resolution-proposal pipeline
// described in spec.md §4.G: retrieve context, sanitize, dispatch to an LLM,
// restore, persist, and notify.
package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/resolvecore/resolver/pkg/dispatcher"
	"github.com/resolvecore/resolver/pkg/domain"
	"github.com/resolvecore/resolver/pkg/notifier"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/providerpool"
	"github.com/resolvecore/resolver/pkg/retriever"
)

// DefaultDeadline is the default per-Propose deadline from spec.md §5.
const DefaultDeadline = 30 * time.Second

// entryStore narrows *entrystore.Store to what Propose needs.
type entryStore interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Entry, error)
	SaveProposal(ctx context.Context, p domain.ResolutionProposal, advanceIncidentID uuid.UUID, advanceExpectedVersion int, advanceToUnderReview bool) (domain.ResolutionProposal, error)
}

// sanitizer narrows *sanitizer.Sanitizer to what Propose needs.
type sanitizer interface {
	SanitizeOrFallback(text string) (string, *domain.SensitiveMap, error)
	Restore(text string, sm *domain.SensitiveMap) (string, []string)
}

// retrieve narrows *retriever.Retriever.
type retrieve interface {
	Retrieve(ctx context.Context, incident domain.Entry, opts retriever.Options) (retriever.ContextBundle, error)
}

// complete narrows *dispatcher.Dispatcher.
type complete interface {
	Complete(ctx context.Context, req dispatcher.Request) (dispatcher.Completion, error)
}

// auditLog narrows *audit.Log.
type auditLog interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}

// publisher narrows *notifier.Notifier.
type publisher interface {
	Publish(event notifier.Event)
}

// ProposeOptions configures a single Propose call.
type ProposeOptions struct {
	ModelFamily   string        `validate:"required"`
	FallbackOrder []string      `validate:"required,min=1"`
	MaxTokens     int           `validate:"required,gt=0"`
	Temperature   float64       `validate:"gte=0,lte=2"`
	Deadline      time.Duration `validate:"-"`
	AutoAdvance   bool
	CorrelationID string            `validate:"-"`
	RetrieveOpts  retriever.Options `validate:"-"`
}

// scrubbedIncident is the incident's sanitized title/description/metadata,
// as it is allowed to cross the Dispatcher boundary.
type scrubbedIncident struct {
	title, technicalArea, severity, description string
}

type scrubbedEntry struct {
	kind, title, description string
	similarity               float64
}

// proposalJSON is the schema the model is asked to emit; validator tags
// enforce spec.md §3's ResolutionProposal invariants before it is persisted.
type proposalJSON struct {
	Analysis           string   `json:"analysis" validate:"required"`
	RecommendedActions []string `json:"recommended_actions" validate:"required,min=1"`
	NextSteps          string   `json:"next_steps" validate:"required"`
	Reasoning          string   `json:"reasoning" validate:"required"`
	Confidence         float64  `json:"confidence" validate:"gte=0,lte=1"`
	RiskLevel          string   `json:"risk_level" validate:"oneof=Low Medium High"`
	EstimatedMinutes   int      `json:"estimated_minutes" validate:"gte=0"`
}

// Resolver wires the Entry Store, Sanitizer, Retriever, Dispatcher, Audit
// Log, and Notifier into the steps of spec.md §4.G.
type Resolver struct {
	store     entryStore
	sanitizer sanitizer
	retriever retrieve
	dispatch  complete
	audit     auditLog
	notify    publisher
	validate  *validator.Validate
	modelID   string
}

// New constructs a Resolver.
func New(store entryStore, san sanitizer, ret retrieve, disp complete, audit auditLog, notify publisher, modelID string) *Resolver {
	return &Resolver{
		store:     store,
		sanitizer: san,
		retriever: ret,
		dispatch:  disp,
		audit:     audit,
		notify:    notify,
		validate:  validator.New(),
		modelID:   modelID,
	}
}

// Propose runs spec.md §4.G steps 1-10 for incidentID, emitting an
// AuditEvent per step under correlationID (generated if empty).
func (r *Resolver) Propose(ctx context.Context, incidentID uuid.UUID, opts ProposeOptions) (domain.ResolutionProposal, error) {
	start := time.Now()
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	deadline := start.Add(opts.Deadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := r.validate.Struct(opts); err != nil {
		return domain.ResolutionProposal{}, rerrors.New(rerrors.KindInvalidInput, "propose resolution", "resolver", incidentID.String(), err)
	}

	// Step 1: fetch and validate the incident's current state.
	incident, err := r.store.Get(ctx, incidentID)
	if err != nil {
		r.recordError(ctx, correlationID, "get incident", err)
		return domain.ResolutionProposal{}, err
	}
	if incident.Status == domain.StatusResolved || incident.Status == domain.StatusCancelled {
		err := rerrors.New(rerrors.KindInvalidTransition, "propose resolution", "resolver", incidentID.String(), nil)
		r.recordError(ctx, correlationID, "validate incident state", err)
		return domain.ResolutionProposal{}, err
	}
	// Step 2: sanitize the incident.
	scrubbedText, incidentMap, err := r.sanitizer.SanitizeOrFallback(incident.Title + "\n" + incident.Description)
	if err != nil {
		r.recordError(ctx, correlationID, "sanitize incident", err)
		return domain.ResolutionProposal{}, err
	}
	r.auditAppend(ctx, domain.EventSanitize, correlationID, map[string]interface{}{"step": "sanitize_incident", "incident_id": incidentID.String()}, 0)
	scrubbed := scrubbedIncident{
		title:         firstLine(scrubbedText),
		technicalArea: incident.TechnicalArea,
		severity:      string(incident.Severity),
		description:   scrubbedText,
	}

	// Step 3: retrieve context over the sanitized incident only; the raw
	// title/description must never reach the embedding provider.
	retrieveOpts := opts.RetrieveOpts
	retrieveOpts.TechnicalArea = incident.TechnicalArea
	scrubbedForRetrieve := incident
	scrubbedForRetrieve.Title = scrubbed.title
	scrubbedForRetrieve.Description = scrubbed.description
	bundle, err := r.retriever.Retrieve(ctx, scrubbedForRetrieve, retrieveOpts)
	if err != nil {
		r.recordError(ctx, correlationID, "retrieve context", err)
		return domain.ResolutionProposal{}, err
	}
	r.auditAppend(ctx, domain.EventRetrieve, correlationID, map[string]interface{}{
		"step": "retrieve_context", "similar_count": len(bundle.SimilarIncidents), "knowledge_count": len(bundle.Knowledge), "low_confidence": bundle.LowConfidence, "degraded": bundle.Degraded,
	}, 0)

	sensitiveMaps := []*domain.SensitiveMap{incidentMap}
	var sourceEntries []scrubbedEntry
	scoreFor := func(id uuid.UUID) float64 {
		for _, s := range bundle.Sources {
			if s.EntryID == id {
				return s.SimilarityScore
			}
		}
		return 0
	}
	for _, kind := range []struct {
		label   string
		entries []domain.Entry
	}{{"incident", bundle.SimilarIncidents}, {"knowledge", bundle.Knowledge}} {
		for _, e := range kind.entries {
			scrubbedSrcText, srcMap, err := r.sanitizer.SanitizeOrFallback(e.Title + "\n" + e.Description)
			if err != nil {
				r.recordError(ctx, correlationID, "sanitize retrieved source", err)
				return domain.ResolutionProposal{}, err
			}
			sensitiveMaps = append(sensitiveMaps, srcMap)
			sourceEntries = append(sourceEntries, scrubbedEntry{kind: kind.label, title: firstLine(scrubbedSrcText), description: scrubbedSrcText, similarity: scoreFor(e.ID)})
		}
	}

	// Step 4: build the prompt from the sanitized source entries.
	prompt := buildPrompt(scrubbed, sourceEntries)

	// Step 5: dispatch.
	req := dispatcher.Request{
		ModelFamily:   opts.ModelFamily,
		Messages:      dispatcherMessage(prompt),
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		Deadline:      deadline,
		CorrelationID: correlationID,
		FallbackOrder: opts.FallbackOrder,
	}
	dispatchStart := time.Now()
	completion, err := r.dispatch.Complete(ctx, req)
	if err != nil {
		r.recordError(ctx, correlationID, "dispatch completion", err)
		return domain.ResolutionProposal{}, err
	}
	r.auditAppend(ctx, domain.EventLLMCall, correlationID, map[string]interface{}{
		"step": "llm_call", "provider_id": completion.ProviderID, "prompt_tokens": completion.Usage.PromptTokens, "completion_tokens": completion.Usage.CompletionTokens,
	}, time.Since(dispatchStart).Milliseconds())

	// Step 6: parse, with one bounded repair attempt.
	parsed, err := r.parseCompletion(ctx, req, completion.Text)
	if err != nil {
		r.recordError(ctx, correlationID, "parse completion", err)
		return domain.ResolutionProposal{}, err
	}

	// Step 7: restore sensitive tokens in every string field.
	restore := func(s string) string {
		for _, sm := range sensitiveMaps {
			s, _ = r.sanitizer.Restore(s, sm)
		}
		return s
	}
	actions := make([]string, len(parsed.RecommendedActions))
	for i, a := range parsed.RecommendedActions {
		actions[i] = restore(a)
	}
	r.auditAppend(ctx, domain.EventRestore, correlationID, map[string]interface{}{"step": "restore_tokens"}, 0)

	proposal := domain.ResolutionProposal{
		ID:         uuid.New(),
		IncidentID: incidentID,
		Generator:  domain.Generator{ProviderID: completion.ProviderID, ModelID: r.modelID},
		CreatedAt:  time.Now().UTC(),

		Confidence:       parsed.Confidence,
		RiskLevel:        domain.RiskLevel(parsed.RiskLevel),
		EstimatedMinutes: parsed.EstimatedMinutes,

		Analysis:           restore(parsed.Analysis),
		RecommendedActions: actions,
		NextSteps:          restore(parsed.NextSteps),
		Reasoning:          restore(parsed.Reasoning),

		Sources: bundle.Sources,
		// Step 8: attach metrics.
		Metrics: domain.Metrics{
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			TokensUsed:       completion.Usage.PromptTokens + completion.Usage.CompletionTokens,
			SourcesUsed:      len(bundle.SimilarIncidents) + len(bundle.Knowledge),
		},
		Status: domain.ProposalPending,
	}
	if err := proposal.Validate(); err != nil {
		err = rerrors.New(rerrors.KindInvalidModelOutput, "validate proposal", "resolver", incidentID.String(), err)
		r.recordError(ctx, correlationID, "validate proposal", err)
		return domain.ResolutionProposal{}, err
	}

	// Step 9: persist, advancing status only if eligible.
	advance := opts.AutoAdvance && incident.Status == domain.StatusOpen
	saved, err := r.store.SaveProposal(ctx, proposal, incidentID, incident.Version, advance)
	if err != nil {
		r.recordError(ctx, correlationID, "persist proposal", err)
		return domain.ResolutionProposal{}, err
	}
	r.auditAppend(ctx, domain.EventPersist, correlationID, map[string]interface{}{"step": "persist_proposal", "proposal_id": saved.ID.String(), "advanced": advance}, 0)

	// Step 10: notify.
	r.notify.Publish(notifier.Event{
		Type:          notifier.EventProposalReady,
		IncidentID:    incidentID.String(),
		ProposalID:    saved.ID.String(),
		CorrelationID: correlationID,
	})
	r.auditAppend(ctx, domain.EventNotify, correlationID, map[string]interface{}{"step": "notify", "proposal_id": saved.ID.String()}, 0)

	return saved, nil
}

// parseCompletion implements step 6: parse as JSON against proposalJSON,
// and on failure send exactly one repair request before giving up.
func (r *Resolver) parseCompletion(ctx context.Context, req dispatcher.Request, text string) (proposalJSON, error) {
	parsed, err := r.tryParse(text)
	if err == nil {
		return parsed, nil
	}

	repairReq := req
	repairReq.Messages = dispatcherMessage(buildRepairPrompt(text))
	repaired, dispatchErr := r.dispatch.Complete(ctx, repairReq)
	if dispatchErr != nil {
		return proposalJSON{}, rerrors.New(rerrors.KindInvalidModelOutput, "repair completion", "resolver", "", dispatchErr)
	}
	parsed, err = r.tryParse(repaired.Text)
	if err != nil {
		return proposalJSON{}, rerrors.New(rerrors.KindInvalidModelOutput, "parse repaired completion", "resolver", "", err)
	}
	return parsed, nil
}

func (r *Resolver) tryParse(text string) (proposalJSON, error) {
	var p proposalJSON
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return proposalJSON{}, err
	}
	if err := r.validate.Struct(p); err != nil {
		return proposalJSON{}, err
	}
	return p, nil
}

func (r *Resolver) auditAppend(ctx context.Context, kind domain.EventKind, correlationID string, payload map[string]interface{}, durationMs int64) {
	_, _ = r.audit.Append(ctx, domain.AuditEvent{Kind: kind, CorrelationID: correlationID, Payload: payload, DurationMs: durationMs})
}

func (r *Resolver) recordError(ctx context.Context, correlationID, step string, err error) {
	r.auditAppend(ctx, domain.EventError, correlationID, map[string]interface{}{"step": step, "error": err.Error()}, 0)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func dispatcherMessage(content string) []providerpool.Message {
	return []providerpool.Message{{Role: "user", Content: content}}
}
