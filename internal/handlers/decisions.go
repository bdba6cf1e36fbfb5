package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/platform/auth"
	"github.com/forkcast/api/internal/platform/httpx"
	"github.com/forkcast/api/internal/platform/pagination"
	"github.com/forkcast/api/internal/services"
)

// DecisionHandlers exposes the decision lifecycle to authenticated users.
type DecisionHandlers struct {
	authn     *auth.Authenticator
	decisions services.DecisionService
	paging    pagination.Options
	creation  []func(http.Handler) http.Handler
}

// DecisionHandlersOption customises DecisionHandlers.
type DecisionHandlersOption func(*DecisionHandlers)

// WithDecisionPaging sets the history page window bounds.
func WithDecisionPaging(opts pagination.Options) DecisionHandlersOption {
	return func(h *DecisionHandlers) {
		h.paging = opts
	}
}

// WithCreationMiddlewares wraps the decision-creating routes, after authentication.
func WithCreationMiddlewares(mw ...func(http.Handler) http.Handler) DecisionHandlersOption {
	return func(h *DecisionHandlers) {
		h.creation = append(h.creation, mw...)
	}
}

// NewDecisionHandlers constructs the user-facing decision handlers.
func NewDecisionHandlers(authn *auth.Authenticator, decisions services.DecisionService, opts ...DecisionHandlersOption) *DecisionHandlers {
	h := &DecisionHandlers{
		authn:     authn,
		decisions: decisions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /decisions endpoints.
func (h *DecisionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	h.requireAuth(r)
	r.Get("/", h.listDecisions)
	r.With(h.creation...).Post("/personal", h.createPersonalDecision)
	r.With(h.creation...).Post("/group", h.createGroupDecision)
	r.Get("/{decisionId}", h.getDecision)
	r.Post("/{decisionId}/votes", h.submitVote)
	r.Post("/{decisionId}/complete", h.completeDecision)
	r.Post("/{decisionId}/close", h.closeDecision)
}

// GroupRoutes registers the /groups endpoints.
func (h *DecisionHandlers) GroupRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.requireAuth(r)
	r.Get("/{groupId}/decisions/active", h.listActiveGroupDecisions)
}

// CollectionRoutes registers the /collections endpoints.
func (h *DecisionHandlers) CollectionRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.requireAuth(r)
	r.Get("/{collectionId}/decision-stats", h.getDecisionStatistics)
}

func (h *DecisionHandlers) requireAuth(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
}

type createPersonalDecisionRequest struct {
	CollectionID string `json:"collection_id" validate:"required,max=128"`
	Method       string `json:"method" validate:"omitempty,oneof=random tiered"`
	VisitDate    string `json:"visit_date" validate:"omitempty,visitdate"`
}

type createGroupDecisionRequest struct {
	CollectionID  string   `json:"collection_id" validate:"required,max=128"`
	GroupID       string   `json:"group_id" validate:"required,max=128"`
	Participants  []string `json:"participants" validate:"omitempty,max=200,dive,required,max=128"`
	Method        string   `json:"method" validate:"required,oneof=random tiered"`
	VisitDate     string   `json:"visit_date" validate:"omitempty,visitdate"`
	DeadlineHours int      `json:"deadline_hours" validate:"gte=0,lte=8760"`
}

type submitVoteRequest struct {
	Rankings []string `json:"rankings" validate:"required,min=1,max=100,dive,required,max=128"`
}

func (h *DecisionHandlers) createPersonalDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createPersonalDecisionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	visitDate, _ := parseVisitDate(req.VisitDate)
	method := services.DecisionMethod(req.Method)
	if method == "" {
		method = domain.DecisionMethodRandom
	}

	decision, err := h.decisions.CreatePersonalDecision(ctx, services.CreatePersonalDecisionCommand{
		CollectionID: strings.TrimSpace(req.CollectionID),
		UserID:       identity.UID,
		Method:       method,
		VisitDate:    visitDate,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, decisionResponse{Decision: buildDecisionPayload(decision)})
}

func (h *DecisionHandlers) createGroupDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createGroupDecisionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	visitDate, _ := parseVisitDate(req.VisitDate)

	participants := req.Participants
	if len(participants) == 0 {
		resolved, err := h.decisions.ResolveGroupParticipants(ctx, req.GroupID)
		if err != nil {
			writeDecisionError(ctx, w, err)
			return
		}
		participants = resolved
	}

	decision, err := h.decisions.CreateGroupDecision(ctx, services.CreateGroupDecisionCommand{
		CollectionID:  strings.TrimSpace(req.CollectionID),
		GroupID:       strings.TrimSpace(req.GroupID),
		CreatedBy:     identity.UID,
		Participants:  participants,
		Method:        services.DecisionMethod(req.Method),
		VisitDate:     visitDate,
		DeadlineHours: req.DeadlineHours,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, decisionResponse{Decision: buildDecisionPayload(decision)})
}

func (h *DecisionHandlers) submitVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req submitVoteRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	receipt, err := h.decisions.SubmitGroupVote(ctx, services.SubmitGroupVoteCommand{
		DecisionID: chi.URLParam(r, "decisionId"),
		UserID:     identity.UID,
		Rankings:   req.Rankings,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, voteReceiptPayload{
		DecisionID:  receipt.DecisionID,
		UserID:      receipt.UserID,
		SubmittedAt: formatTime(receipt.SubmittedAt),
		Replaced:    receipt.Replaced,
		VotesCount:  receipt.VotesCount,
		Message:     receipt.Message,
	})
}

func (h *DecisionHandlers) completeDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	decisionID := chi.URLParam(r, "decisionId")

	result, err := h.decisions.CompleteTieredGroupDecision(ctx, services.CompleteDecisionCommand{
		DecisionID: decisionID,
		ActorID:    identity.UID,
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

func (h *DecisionHandlers) closeDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	decision, err := h.decisions.CloseGroupDecision(ctx, services.CloseDecisionCommand{
		DecisionID: chi.URLParam(r, "decisionId"),
		UserID:     identity.UID,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, decisionResponse{Decision: buildDecisionPayload(decision)})
}

func (h *DecisionHandlers) getDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	decision, err := h.decisions.GetGroupDecision(ctx, services.GetDecisionQuery{
		DecisionID: chi.URLParam(r, "decisionId"),
		ViewerID:   identity.UID,
	})
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, decisionResponse{Decision: buildDecisionPayload(decision)})
}

func (h *DecisionHandlers) listDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, err := pagination.Parse(query, h.paging)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}
	filter, err := parseHistoryFilter(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	filter.ViewerID = identity.UID
	filter.Pagination = services.Pagination{Limit: page.Limit, Offset: page.Offset}

	result, err := h.decisions.GetDecisionHistory(ctx, filter)
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}

	payload := decisionListResponse{
		Items:   make([]decisionPayload, 0, len(result.Items)),
		Limit:   result.Limit,
		Offset:  result.Offset,
		HasMore: result.HasMore,
	}
	for _, decision := range result.Items {
		payload.Items = append(payload.Items, buildDecisionPayload(decision))
	}
	if next := result.NextOffset(); next >= 0 {
		payload.NextOffset = &next
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *DecisionHandlers) listActiveGroupDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}

	items, err := h.decisions.GetActiveGroupDecisions(ctx, services.ActiveGroupDecisionsQuery{
		GroupID:  chi.URLParam(r, "groupId"),
		ViewerID: identity.UID,
	})
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

func (h *DecisionHandlers) getDecisionStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.caller(w, r); !ok {
		return
	}

	stats, err := h.decisions.GetDecisionStatistics(ctx, chi.URLParam(r, "collectionId"))
	if err != nil {
		writeDecisionError(ctx, w, err)
		return
	}
	payload := statisticsPayload{
		CollectionID:   stats.CollectionID,
		TotalDecisions: stats.TotalDecisions,
		GeneratedAt:    formatTime(stats.GeneratedAt),
		Restaurants:    make([]selectionStatisticPayload, 0, len(stats.Restaurants)),
	}
	for _, stat := range stats.Restaurants {
		payload.Restaurants = append(payload.Restaurants, selectionStatisticPayload{
			RestaurantID:   stat.RestaurantID,
			SelectionCount: stat.SelectionCount,
			LastSelected:   formatTimePointer(stat.LastSelected),
			CurrentWeight:  stat.CurrentWeight,
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// caller returns the authenticated user, writing the error envelope when the service or identity
// is missing.
func (h *DecisionHandlers) caller(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.decisions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("decision_service_unavailable", "decision service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseHistoryFilter(values url.Values) (services.DecisionHistoryFilter, error) {
	filter := services.DecisionHistoryFilter{
		CollectionID: strings.TrimSpace(values.Get("collection_id")),
		GroupID:      strings.TrimSpace(values.Get("group_id")),
		Type:         services.DecisionType(strings.TrimSpace(values.Get("type"))),
		Status:       services.DecisionStatus(strings.TrimSpace(values.Get("status"))),
		RestaurantID: strings.TrimSpace(values.Get("restaurant_id")),
		Search:       values.Get("q"),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, errors.New("type must be personal or group")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, errors.New("status must be active, completed or closed")
	}
	for key, target := range map[string]**time.Time{"from": &filter.VisitDate.From, "to": &filter.VisitDate.To} {
		raw := values.Get(key)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parsed, err := parseVisitDate(raw)
		if err != nil {
			return filter, errors.New(key + " must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		if key == "to" && len(strings.TrimSpace(raw)) == len(time.DateOnly) {
			// a bare end date covers the whole day
			parsed = parsed.Add(24*time.Hour - time.Nanosecond)
		}
		*target = &parsed
	}
	return filter, nil
}

// writeDecisionError maps the decision error classes onto HTTP statuses. The reason code is
// returned as the envelope error code.
func writeDecisionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	code := services.DecisionErrorCode(err)
	switch {
	case errors.Is(err, services.ErrDecisionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDecisionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(code, reasonMessage(err, "not found"), http.StatusNotFound))
	case errors.Is(err, services.ErrDecisionConflict):
		httpx.WriteError(ctx, w, httpx.NewError(code, reasonMessage(err, "decision state conflict"), http.StatusConflict))
	case errors.Is(err, services.ErrDecisionUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError(code, reasonMessage(err, "not permitted"), http.StatusForbidden))
	case errors.Is(err, services.ErrDecisionUnavailable):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(ctx, w, httpx.NewError(code, "decision store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("decision_error", "failed to process decision request", http.StatusInternalServerError))
	}
}

// reasonMessage returns the reason text without store details appended by wrapping.
func reasonMessage(err error, fallback string) string {
	var failure *services.DecisionFailure
	if errors.As(err, &failure) {
		return failure.Error()
	}
	return fallback
}
