package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolvecore/resolver/pkg/audit"
	"github.com/resolvecore/resolver/pkg/domain"
	"github.com/resolvecore/resolver/pkg/entrystore"
	rerrors "github.com/resolvecore/resolver/pkg/obs/errors"
	"github.com/resolvecore/resolver/pkg/notifier"
	"github.com/resolvecore/resolver/pkg/resolver"
)

// serverDeps are the components the HTTP facade dispatches onto: the nine
// public operations of spec.md §6 map directly onto these.
type serverDeps struct {
	store    *entrystore.Store
	resolver *resolver.Resolver
	audit    *audit.Log
	notifier *notifier.Notifier
	logger   *zap.Logger
	metrics  *metricsRegistry
	defaults resolver.ProposeOptions
}

// server is the composition root's JSON HTTP facade.
type server struct {
	deps serverDeps
}

func newServer(deps serverDeps) *server {
	return &server{deps: deps}
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(s.deps.metrics.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents", s.handleCreateIncident)
		r.Get("/incidents", s.handleListEntries)
		r.Get("/incidents/{id}", s.handleGetEntry)
		r.Get("/search", s.handleSearchEntries)
		r.Post("/incidents/{id}/propose", s.handleProposeResolution)
		r.Post("/proposals/{id}/apply", s.handleApplyProposal)
		r.Post("/proposals/{id}/reject", s.handleRejectProposal)
		r.Post("/incidents/{id}/resolve", s.handleResolveIncident)
		r.Get("/events", s.handleSubscribeEvents)
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.logger.Info("http request", append(
			[]zap.Field{zap.Duration("duration", time.Since(start))},
			zapHTTPFields(r.Method, r.URL.Path, ww.Status())...,
		)...)
	})
}

func zapHTTPFields(method, path string, status int) []zap.Field {
	return []zap.Field{zap.String("method", method), zap.String("path", path), zap.Int("status", status)}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createIncidentRequest is the JSON body for CreateIncident (spec.md §6).
type createIncidentRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	TechnicalArea string   `json:"technical_area"`
	BusinessArea  string   `json:"business_area"`
	Severity      string   `json:"severity"`
	Priority      int      `json:"priority"`
	Tags          []string `json:"tags"`
	Reporter      string   `json:"reporter"`
	CreatedBy     string   `json:"created_by"`
}

func (s *server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, rerrors.New(rerrors.KindInvalidInput, "decode request", "http", "", err))
		return
	}

	entry := domain.Entry{
		Kind:          domain.KindIncident,
		Title:         req.Title,
		Description:   req.Description,
		TechnicalArea: req.TechnicalArea,
		BusinessArea:  req.BusinessArea,
		Severity:      domain.Severity(req.Severity),
		Priority:      req.Priority,
		Tags:          req.Tags,
		Reporter:      req.Reporter,
		Status:        domain.StatusOpen,
		CreatedBy:     req.CreatedBy,
	}

	created, err := s.deps.store.Create(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}

	_, _ = s.deps.audit.Append(r.Context(), domain.AuditEvent{
		Kind:          domain.EventIngest,
		CorrelationID: uuid.New().String(),
		Payload:       map[string]interface{}{"step": "create_incident", "incident_id": created.ID.String()},
	})

	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.deps.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type listEntriesResponse struct {
	Entries []domain.Entry `json:"entries"`
	Total   int            `json:"total"`
}

func (s *server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := entrystore.Filters{
		Kind:          domain.Kind(q.Get("kind")),
		TechnicalArea: q.Get("technical_area"),
		BusinessArea:  q.Get("business_area"),
	}
	limit := intOr(q.Get("limit"), 20)
	offset := intOr(q.Get("offset"), 0)

	entries, total, err := s.deps.store.SearchText(r.Context(), q.Get("q"), filters, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{Entries: entries, Total: total})
}

func (s *server) handleSearchEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := entrystore.Filters{
		Kind:          domain.Kind(q.Get("kind")),
		TechnicalArea: q.Get("technical_area"),
		BusinessArea:  q.Get("business_area"),
	}
	limit := intOr(q.Get("limit"), 20)
	offset := intOr(q.Get("offset"), 0)

	entries, total, err := s.deps.store.SearchText(r.Context(), q.Get("query"), filters, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{Entries: entries, Total: total})
}

// proposeRequest overlays the configured defaults; zero-valued fields fall
// back to serverDeps.defaults (see defaultProposeOptions in main.go).
type proposeRequest struct {
	ModelFamily   string   `json:"model_family"`
	FallbackOrder []string `json:"fallback_order"`
	MaxTokens     int      `json:"max_tokens"`
	Temperature   *float64 `json:"temperature"`
	DeadlineMs    int64    `json:"deadline_ms"`
	AutoAdvance   bool     `json:"auto_advance"`
	CorrelationID string   `json:"correlation_id"`
}

func (s *server) handleProposeResolution(w http.ResponseWriter, r *http.Request) {
	incidentID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req proposeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, rerrors.New(rerrors.KindInvalidInput, "decode request", "http", "", err))
			return
		}
	}

	opts := s.deps.defaults
	if req.ModelFamily != "" {
		opts.ModelFamily = req.ModelFamily
	}
	if len(req.FallbackOrder) > 0 {
		opts.FallbackOrder = req.FallbackOrder
	}
	if req.MaxTokens > 0 {
		opts.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.DeadlineMs > 0 {
		opts.Deadline = time.Duration(req.DeadlineMs) * time.Millisecond
	}
	opts.AutoAdvance = req.AutoAdvance
	opts.CorrelationID = req.CorrelationID
	opts.RetrieveOpts = s.deps.defaults.RetrieveOpts

	proposal, err := s.deps.resolver.Propose(r.Context(), incidentID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

type applyProposalRequest struct {
	Edits map[string]interface{} `json:"edits"`
}

// handleApplyProposal marks a proposal Accepted and advances the incident to
// InTreatment. The request's edits are decoded but not applied: the proposal
// is accepted with its stored content. Validating a proposal before
// acceptance is left to the caller; see SPEC_FULL.md's Open Question #3.
func (s *server) handleApplyProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req applyProposalRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, rerrors.New(rerrors.KindInvalidInput, "decode request", "http", "", err))
			return
		}
	}

	proposal, err := s.deps.store.GetProposal(r.Context(), proposalID)
	if err != nil {
		writeError(w, err)
		return
	}
	if proposal.Status != domain.ProposalPending {
		writeError(w, rerrors.New(rerrors.KindInvalidTransition, "apply proposal", "http", proposalID.String(), nil))
		return
	}
	if err := s.deps.store.UpdateProposalStatus(r.Context(), proposalID, domain.ProposalAccepted); err != nil {
		writeError(w, err)
		return
	}

	incident, err := s.deps.store.Get(r.Context(), proposal.IncidentID)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.deps.store.Update(r.Context(), proposal.IncidentID, incident.Version, func(e domain.Entry) (domain.Entry, error) {
		e.Status = domain.StatusInTreatment
		return e, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.deps.notifier.Publish(notifier.Event{Type: notifier.EventStatusChanged, IncidentID: proposal.IncidentID.String(), ProposalID: proposalID.String()})
	writeJSON(w, http.StatusOK, entry)
}

type rejectProposalRequest struct {
	Reason string `json:"reason"`
}

func (s *server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req rejectProposalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, rerrors.New(rerrors.KindInvalidInput, "decode request", "http", "", err))
		return
	}

	proposal, err := s.deps.store.GetProposal(r.Context(), proposalID)
	if err != nil {
		writeError(w, err)
		return
	}
	if proposal.Status != domain.ProposalPending {
		writeError(w, rerrors.New(rerrors.KindInvalidTransition, "reject proposal", "http", proposalID.String(), nil))
		return
	}
	if err := s.deps.store.UpdateProposalStatus(r.Context(), proposalID, domain.ProposalRejected); err != nil {
		writeError(w, err)
		return
	}

	s.deps.notifier.Publish(notifier.Event{
		Type:       notifier.EventStatusChanged,
		IncidentID: proposal.IncidentID.String(),
		ProposalID: proposalID.String(),
		Attributes: map[string]string{"reason": req.Reason},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

type resolveIncidentRequest struct {
	Solution        string `json:"solution"`
	CreateKnowledge bool   `json:"create_knowledge"`
	ExpectedVersion int    `json:"expected_version"`
}

type resolveIncidentResponse struct {
	Incident  domain.Entry  `json:"incident"`
	Knowledge *domain.Entry `json:"knowledge,omitempty"`
}

func (s *server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req resolveIncidentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, rerrors.New(rerrors.KindInvalidInput, "decode request", "http", "", err))
		return
	}

	incident, knowledge, err := s.deps.store.Resolve(r.Context(), id, req.ExpectedVersion, req.Solution, req.CreateKnowledge)
	if err != nil {
		writeError(w, err)
		return
	}

	s.deps.notifier.Publish(notifier.Event{Type: notifier.EventStatusChanged, IncidentID: id.String()})
	writeJSON(w, http.StatusOK, resolveIncidentResponse{Incident: incident, Knowledge: knowledge})
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, rerrors.New(rerrors.KindInvalidInput, "parse id", "http", raw, err)
	}
	return id, nil
}

func intOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
