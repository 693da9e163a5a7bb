package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/propline-io/escalation-gateway/pkg/models"
	"github.com/propline-io/escalation-gateway/pkg/services"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	ruleService *services.RuleService
	scheduler   *services.Scheduler
	workspaceID string
}

// NewAPIHandler creates a new API handler. workspaceID is the default
// workspace for requests that do not carry a workspaceId query parameter.
func NewAPIHandler(ruleService *services.RuleService, scheduler *services.Scheduler, workspaceID string) *APIHandler {
	return &APIHandler{
		ruleService: ruleService,
		scheduler:   scheduler,
		workspaceID: workspaceID,
	}
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", h.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", h.UpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", h.DeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/escalations", h.ListEscalations).Methods(http.MethodGet)
	api.HandleFunc("/escalations/{id}/acknowledge", h.AcknowledgeEscalation).Methods(http.MethodPost)
	api.HandleFunc("/escalations/{id}/resolve", h.ResolveEscalation).Methods(http.MethodPost)

	api.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods(http.MethodPost)

	api.HandleFunc("/monitor/summary", h.GetRunSummary).Methods(http.MethodGet)
	api.HandleFunc("/monitor/run", h.TriggerRun).Methods(http.MethodPost)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

func (h *APIHandler) workspace(r *http.Request) string {
	if ws := r.URL.Query().Get("workspaceId"); ws != "" {
		return ws
	}
	return h.workspaceID
}

// ListRules returns all rules in the workspace
func (h *APIHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.ruleService.ListRules(r.Context(), h.workspace(r))
	if err != nil {
		logrus.Errorf("Error getting rules: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get rules")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// GetRule returns a rule by ID
func (h *APIHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := h.ruleService.GetRule(r.Context(), id)
	if err != nil {
		logrus.Errorf("Error getting rule %s: %v", id, err)
		writeError(w, http.StatusNotFound, fmt.Sprintf("Rule with ID %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule creates a new rule
func (h *APIHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.Errorf("Error decoding create rule request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = h.workspace(r)
	}

	rule, err := h.ruleService.CreateRule(r.Context(), &req)
	if err != nil {
		logrus.Errorf("Error creating rule: %v", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to create rule: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule updates an existing rule
func (h *APIHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.Errorf("Error decoding update rule request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	rule, err := h.ruleService.UpdateRule(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Rule with ID %s not found", id))
			return
		}
		logrus.Errorf("Error updating rule %s: %v", id, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to update rule: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule deletes a rule
func (h *APIHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ruleService.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Rule with ID %s not found", id))
			return
		}
		logrus.Errorf("Error deleting rule %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListEscalations returns the escalation log, optionally filtered by rule
func (h *APIHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("ruleId")
	entries, err := h.ruleService.ListEscalations(r.Context(), h.workspace(r), ruleID)
	if err != nil {
		logrus.Errorf("Error listing escalations: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list escalations")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AcknowledgeEscalation acknowledges an escalation log entry
func (h *APIHandler) AcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.ruleService.AcknowledgeEscalation(r.Context(), id, req.AcknowledgedBy); err != nil {
		if errors.Is(err, services.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Escalation %s not found", id))
			return
		}
		logrus.Errorf("Error acknowledging escalation %s: %v", id, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to acknowledge escalation: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// ResolveEscalation resolves an escalation log entry, releasing its
// (rule, entity) pair for future firings
func (h *APIHandler) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.ruleService.ResolveEscalation(r.Context(), id, req.AcknowledgedBy); err != nil {
		if errors.Is(err, services.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Escalation %s not found", id))
			return
		}
		logrus.Errorf("Error resolving escalation %s: %v", id, err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to resolve escalation: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// ListNotifications returns a user's notifications
func (h *APIHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	notifications, err := h.ruleService.ListNotifications(r.Context(), h.workspace(r), userID)
	if err != nil {
		logrus.Errorf("Error listing notifications: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// MarkNotificationRead marks a notification as read
func (h *APIHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ruleService.MarkNotificationRead(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Notification %s not found", id))
			return
		}
		logrus.Errorf("Error marking notification %s read: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to mark notification read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// GetRunSummary returns the latest evaluation run summary, evaluating on
// demand when the cached one is stale
func (h *APIHandler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.Summary(r.Context())
	if err != nil {
		logrus.Errorf("Error getting run summary: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get run summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TriggerRun starts an evaluation pass immediately
func (h *APIHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunNow(r.Context())
	if err != nil {
		logrus.Errorf("Error running evaluation pass: %v", err)
		writeError(w, http.StatusInternalServerError, "Evaluation pass failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Health reports service liveness
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scheduler": string(h.scheduler.State()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
