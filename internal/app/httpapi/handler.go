// Package httpapi exposes the orchestrator's REST boundary.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	historysvc "github.com/arrowhead-lite/orchestrator/internal/app/services/history"
	orchsvc "github.com/arrowhead-lite/orchestrator/internal/app/services/orchestration"
	storesvc "github.com/arrowhead-lite/orchestrator/internal/app/services/store"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
	"github.com/arrowhead-lite/orchestrator/internal/middleware"
	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// Handler serves the orchestration REST API.
type Handler struct {
	orch    *orchsvc.Service
	store   *storesvc.Service
	history *historysvc.Service
	log     *logger.Logger
}

// NewHandler constructs the handler over the three services.
func NewHandler(orch *orchsvc.Service, store *storesvc.Service, history *historysvc.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{orch: orch, store: store, history: history, log: log}
}

// Register mounts every route on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestration/pull", h.pull)
	mux.HandleFunc("POST /orchestration/push-subscribe", h.pushSubscribe)
	mux.HandleFunc("DELETE /orchestration/push-unsubscribe/{id}", h.pushUnsubscribe)
	mux.HandleFunc("POST /orchestration/mgmt/history/query", h.queryHistory)
	mux.HandleFunc("POST /orchestration/mgmt/store", h.createEntries)
	mux.HandleFunc("POST /orchestration/mgmt/store/query", h.queryEntries)
	mux.HandleFunc("PATCH /orchestration/mgmt/store/priorities", h.setPriorities)
	mux.HandleFunc("DELETE /orchestration/mgmt/store", h.deleteEntries)
	mux.HandleFunc("POST /orchestration/mgmt/trigger-all", h.triggerAll)
	mux.HandleFunc("GET /healthz", Healthz)
}

// DTOs -----------------------------------------------------------------------

type formRequest struct {
	ServiceDefinition  string            `json:"serviceDefinition"`
	Operations         []string          `json:"operations"`
	Flags              []string          `json:"flags"`
	PreferredProviders []string          `json:"preferredProviders"`
	QoSRequirements    map[string]string `json:"qosRequirements"`
}

func (r formRequest) toForm(requester string) orchestration.Form {
	flags := make(map[orchestration.Flag]bool, len(r.Flags))
	for _, f := range r.Flags {
		flags[orchestration.Flag(f)] = true
	}
	return orchestration.Form{
		RequesterSystem:    requester,
		ServiceDefinition:  r.ServiceDefinition,
		Operations:         r.Operations,
		Flags:              flags,
		PreferredProviders: r.PreferredProviders,
		QoSRequirements:    r.QoSRequirements,
	}
}

type candidateResponse struct {
	SystemName        string            `json:"systemName"`
	ServiceInstanceID string            `json:"serviceInstanceId"`
	ServiceDefinition string            `json:"serviceDefinition"`
	Addresses         []string          `json:"addresses,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Pinned            bool              `json:"pinned"`
	Priority          int               `json:"priority,omitempty"`
}

type pullResponse struct {
	Candidates []candidateResponse `json:"candidates"`
	Message    string              `json:"message,omitempty"`
}

type subscribeRequest struct {
	formRequest
	NotifyURL string `json:"notifyUrl"`
}

type entryRequest struct {
	Consumer          string `json:"consumer"`
	ServiceDefinition string `json:"serviceDefinition"`
	ServiceInstanceID string `json:"serviceInstanceId"`
	Priority          int    `json:"priority"`
}

type entryResponse struct {
	ID                string    `json:"id"`
	Consumer          string    `json:"consumer"`
	ServiceDefinition string    `json:"serviceDefinition"`
	ServiceInstanceID string    `json:"serviceInstanceId"`
	Priority          int       `json:"priority"`
	CreatedBy         string    `json:"createdBy"`
	UpdatedBy         string    `json:"updatedBy"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toEntryResponses(entries []storeentry.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse(e))
	}
	return out
}

type jobResponse struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	RequesterSystem   string    `json:"requesterSystem"`
	TargetSystem      string    `json:"targetSystem,omitempty"`
	ServiceDefinition string    `json:"serviceDefinition"`
	SubscriptionID    string    `json:"subscriptionId,omitempty"`
	Message           string    `json:"message,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Handlers -------------------------------------------------------------------

func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "requester system unknown")
		return
	}

	var req formRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ServiceDefinition == "" {
		writeError(w, http.StatusBadRequest, "serviceDefinition is required")
		return
	}

	result, err := h.orch.Pull(r.Context(), req.toForm(requester))
	if err != nil {
		// A no-match outcome is a valid, empty answer.
		if errors.IsResolutionFailed(err) {
			writeJSON(w, http.StatusOK, pullResponse{
				Candidates: []candidateResponse{},
				Message:    err.Error(),
			})
			return
		}
		h.writeServiceError(w, err)
		return
	}

	resp := pullResponse{Candidates: make([]candidateResponse, 0, len(result.Candidates))}
	for _, c := range result.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) pushSubscribe(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "requester system unknown")
		return
	}

	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ServiceDefinition == "" {
		writeError(w, http.StatusBadRequest, "serviceDefinition is required")
		return
	}
	if req.NotifyURL == "" {
		writeError(w, http.StatusBadRequest, "notifyUrl is required")
		return
	}

	trigger := r.URL.Query().Get("trigger") == "true"
	outcome, err := h.orch.Subscribe(r.Context(), requester, req.toForm(requester), req.NotifyURL, trigger)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]string{"subscriptionId": outcome.SubscriptionID})
}

func (h *Handler) pushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	removed, err := h.orch.Unsubscribe(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !removed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptionId": id, "removed": true})
}

type historyQueryRequest struct {
	IDs                []string `json:"ids"`
	Statuses           []string `json:"statuses"`
	Type               string   `json:"type"`
	RequesterSystems   []string `json:"requesterSystems"`
	TargetSystems      []string `json:"targetSystems"`
	ServiceDefinitions []string `json:"serviceDefinitions"`
	SubscriptionIDs    []string `json:"subscriptionIds"`
	Page               int      `json:"page"`
	Size               int      `json:"size"`
}

func (h *Handler) queryHistory(w http.ResponseWriter, r *http.Request) {
	var req historyQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := orchestration.JobFilter{
		IDs:                req.IDs,
		Type:               orchestration.JobType(req.Type),
		RequesterSystems:   req.RequesterSystems,
		TargetSystems:      req.TargetSystems,
		ServiceDefinitions: req.ServiceDefinitions,
		SubscriptionIDs:    req.SubscriptionIDs,
	}
	for _, status := range req.Statuses {
		filter.Statuses = append(filter.Statuses, orchestration.JobStatus(status))
	}

	page := storage.PageRequest{Page: req.Page, Size: req.Size}.Normalize()
	jobs, total, err := h.history.Query(r.Context(), filter, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse{
			ID:                job.ID,
			Type:              string(job.Type),
			Status:            string(job.Status),
			RequesterSystem:   job.RequesterSystem,
			TargetSystem:      job.TargetSystem,
			ServiceDefinition: job.ServiceDefinition,
			SubscriptionID:    job.SubscriptionID,
			Message:           job.Message,
			CreatedAt:         job.CreatedAt,
			UpdatedAt:         job.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"total": total,
		"page":  page.Page,
		"size":  page.Size,
	})
}

func (h *Handler) createEntries(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "requester system unknown")
		return
	}

	var req struct {
		Entries []entryRequest `json:"entries"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries is required")
		return
	}

	candidates := make([]storesvc.CreateCandidate, 0, len(req.Entries))
	for _, e := range req.Entries {
		if e.Consumer == "" || e.ServiceInstanceID == "" {
			writeError(w, http.StatusBadRequest, "consumer and serviceInstanceId are required")
			return
		}
		candidates = append(candidates, storesvc.CreateCandidate(e))
	}

	created, err := h.store.CreateBulk(r.Context(), requester, candidates)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entries": toEntryResponses(created)})
}

type entryQueryRequest struct {
	IDs                []string `json:"ids"`
	Consumers          []string `json:"consumers"`
	ServiceDefinitions []string `json:"serviceDefinitions"`
	ServiceInstanceIDs []string `json:"serviceInstanceIds"`
	CreatedBy          string   `json:"createdBy"`
	MinPriority        *int     `json:"minPriority"`
	MaxPriority        *int     `json:"maxPriority"`
	Page               int      `json:"page"`
	Size               int      `json:"size"`
}

func (h *Handler) queryEntries(w http.ResponseWriter, r *http.Request) {
	var req entryQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page := storage.PageRequest{Page: req.Page, Size: req.Size}.Normalize()
	entries, total, err := h.store.GetPage(r.Context(), storeentry.Filter{
		IDs:                req.IDs,
		Consumers:          req.Consumers,
		ServiceDefinitions: req.ServiceDefinitions,
		ServiceInstanceIDs: req.ServiceInstanceIDs,
		CreatedBy:          req.CreatedBy,
		MinPriority:        req.MinPriority,
		MaxPriority:        req.MaxPriority,
	}, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": toEntryResponses(entries),
		"total":   total,
		"page":    page.Page,
		"size":    page.Size,
	})
}

func (h *Handler) setPriorities(w http.ResponseWriter, r *http.Request) {
	requester, ok := middleware.RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "requester system unknown")
		return
	}

	var req struct {
		Changes []struct {
			ID       string `json:"id"`
			Priority int    `json:"priority"`
		} `json:"changes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "changes is required")
		return
	}

	changes := make([]storesvc.PriorityChange, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, storesvc.PriorityChange{EntryID: c.ID, Priority: c.Priority})
	}

	updated, err := h.store.SetPriorities(r.Context(), requester, changes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(updated)})
}

func (h *Handler) deleteEntries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.DeleteBulk(r.Context(), req.IDs); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.IDs)})
}

func (h *Handler) triggerAll(w http.ResponseWriter, r *http.Request) {
	queued, err := h.orch.TriggerAll(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queued": queued})
}

// Healthz answers liveness probes. Mounted both on the API mux and, in
// the assembled server, outside the identity layer.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers --------------------------------------------------------------------

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch errors.KindOf(err) {
	case errors.KindInvalidPolicy:
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
