package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forkcast/api/internal/platform/auth"
	"github.com/forkcast/api/internal/platform/httpx"
	"github.com/forkcast/api/internal/services"
)

const maxExpiredListLimit = 500

// InternalDecisionHandlers serves the deadline scheduler. Routes are mounted behind OIDC
// middleware and act as the system actor.
type InternalDecisionHandlers struct {
	decisions services.DecisionService
	now       func() time.Time
}

// NewInternalDecisionHandlers constructs the scheduler-facing handlers.
func NewInternalDecisionHandlers(decisions services.DecisionService) *InternalDecisionHandlers {
	return &InternalDecisionHandlers{
		decisions: decisions,
		now:       time.Now,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalDecisionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/decisions/expired", h.listExpired)
	r.Post("/decisions/{decisionId}/complete", h.complete)
	r.Post("/decisions/{decisionId}/close", h.close)
}

func (h *InternalDecisionHandlers) listExpired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	before := h.now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "before must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		before = parsed.UTC()
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > maxExpiredListLimit {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "limit must be between 1 and 500", http.StatusBadRequest))
			return
		}
		limit = value
	}

	items, err := h.decisions.ListExpiredDecisions(ctx, before, limit)
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	payload := decisionListResponse{Items: make([]decisionPayload, 0, len(items)), Limit: len(items)}
	for _, decision := range items {
		payload.Items = append(payload.Items, buildDecisionPayload(decision))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *InternalDecisionHandlers) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	decisionID := chi.URLParam(r, "decisionId")

	result, err := h.decisions.CompleteTieredGroupDecision(ctx, services.CompleteDecisionCommand{
		DecisionID: decisionID,
		ActorID:    systemActor(r),
		System:     true,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, completeDecisionResponse{
		DecisionID: decisionID,
		Result:     buildResultPayload(result),
	})
}

func (h *InternalDecisionHandlers) close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}

	decision, err := h.decisions.CloseGroupDecision(ctx, services.CloseDecisionCommand{
		DecisionID: chi.URLParam(r, "decisionId"),
		UserID:     systemActor(r),
		System:     true,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, decisionResponse{Decision: buildDecisionPayload(decision)})
}

func (h *InternalDecisionHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.decisions == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("decision_service_unavailable", "decision service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

// systemActor names the calling service account, falling back to "system".
func systemActor(r *http.Request) string {
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok && identity != nil {
		if email := strings.TrimSpace(identity.Email); email != "" {
			return "system:" + email
		}
		if subject := strings.TrimSpace(identity.Subject); subject != "" {
			return "system:" + subject
		}
	}
	return "system"
}
