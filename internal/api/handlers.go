// Package api is the host layer: thin HTTP and MCP surfaces over the
// orchestrator and context manager.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"facet/internal/modes"
	"facet/internal/orchestrator"
	"facet/internal/privacy"
	"facet/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Contexts     *modes.Manager
	Gate         *privacy.Gate
	Token        string
}

// NewAppHandler returns the management HTTP API. All routes except /health
// require the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ask", handleAsk(deps))
		r.Post("/mode", handleModeSwitch(deps))
		r.Get("/summary", handleSummary(deps))
		r.Get("/summary/daily", handleDailySummary(deps))
		r.Get("/history", handleHistory(deps))

		r.Post("/profiles", handleCreateProfile(deps))
		r.Get("/profiles/{id}", handleGetProfile(deps))
		r.Post("/profiles/{id}/context", handleUpdateContext(deps))
		r.Patch("/profiles/{id}/preferences", handleUpdatePreferences(deps))

		r.Post("/rules", handleAddRule(deps))
		r.Get("/rules", handleListRules(deps))
		r.Post("/rules/{id}/active", handleSetRuleActive(deps))

		r.Get("/privacy/report", handlePrivacyReport(deps))
		r.Post("/privacy/settings", handlePrivacySettings(deps))
		r.Get("/privacy/access-log", handleAccessLog(deps))

		r.Delete("/users/{id}", handleClearUser(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// AskRequest is the inbound body for POST /ask.
type AskRequest struct {
	UserID     string        `json:"user_id"`
	Text       string        `json:"text"`
	VoiceInput bool          `json:"voice_input"`
	Signals    modes.Signals `json:"signals"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and text are required")
			return
		}

		resp := deps.Orchestrator.ProcessRequest(r.Context(), req.UserID, req.Text, req.VoiceInput, req.Signals)
		writeJSON(w, http.StatusOK, resp)
	}
}

// ModeSwitchRequest is the inbound body for POST /mode.
type ModeSwitchRequest struct {
	UserID     string `json:"user_id"`
	TargetMode string `json:"target_mode"`
}

func handleModeSwitch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ModeSwitchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		result := deps.Orchestrator.HandleModeSwitch(req.UserID, req.TargetMode)
		writeJSON(w, http.StatusOK, map[string]string{"result": result})
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		summary, err := deps.Orchestrator.ContextSummary(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleDailySummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		writeJSON(w, http.StatusOK, deps.Orchestrator.DailySummary(userID))
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		entries := deps.Orchestrator.RequestHistory(userID, limit)
		if entries == nil {
			entries = []orchestrator.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// CreateProfileRequest is the inbound body for POST /profiles.
type CreateProfileRequest struct {
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Preferences map[string]any `json:"preferences"`
}

// profileView is the outbound shape of a profile. Learning events are
// summarized as a count, never returned wholesale.
type profileView struct {
	UserID               string         `json:"user_id"`
	Name                 string         `json:"name"`
	Preferences          map[string]any `json:"preferences"`
	WorkContext          map[string]any `json:"work_context"`
	PersonalContext      map[string]any `json:"personal_context"`
	LearningInteractions int            `json:"learning_interactions"`
	CreatedAt            string         `json:"created_at"`
	UpdatedAt            string         `json:"updated_at"`
}

func viewOf(p modes.Profile) profileView {
	interactions := 0
	for _, events := range p.LearningData {
		interactions += len(events)
	}
	return profileView{
		UserID:               p.UserID,
		Name:                 p.Name,
		Preferences:          p.Preferences,
		WorkContext:          p.WorkContext,
		PersonalContext:      p.PersonalContext,
		LearningInteractions: interactions,
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            p.UpdatedAt.Format(time.RFC3339),
	}
}

func handleCreateProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProfileRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and name are required")
			return
		}

		p, err := deps.Contexts.CreateProfile(req.UserID, req.Name, req.Preferences)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(p))
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		p, found, err := deps.Contexts.GetProfile(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found_error", "profile %q not found", userID)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(p))
	}
}

// UpdateContextRequest is the inbound body for POST /profiles/{id}/context.
type UpdateContextRequest struct {
	Kind  string         `json:"kind"`
	Patch map[string]any `json:"patch"`
}

func handleUpdateContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		var req UpdateContextRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Patch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "patch must not be empty")
			return
		}

		if err := deps.Contexts.UpdateContext(userID, req.Kind, req.Patch); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleUpdatePreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		var patch map[string]any
		if !decodeBody(w, r, &patch) {
			return
		}
		if len(patch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "patch must not be empty")
			return
		}

		if err := deps.Contexts.UpdatePreferences(userID, patch); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// AddRuleRequest is the inbound body for POST /rules.
type AddRuleRequest struct {
	UserID string     `json:"user_id"`
	Rule   modes.Rule `json:"rule"`
}

func handleAddRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddRuleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		rule, err := deps.Contexts.AddRule(req.UserID, req.Rule)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

func handleListRules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		rules, err := deps.Contexts.ActiveRules(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if rules == nil {
			rules = []modes.Rule{}
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

// SetRuleActiveRequest is the inbound body for POST /rules/{id}/active.
type SetRuleActiveRequest struct {
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

func handleSetRuleActive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID := chi.URLParam(r, "id")
		var req SetRuleActiveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		if err := deps.Contexts.SetRuleActive(req.UserID, ruleID, req.Active); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handlePrivacyReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		report, err := deps.Contexts.PrivacyReport(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		accesses, err := deps.Gate.AccessCount(userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"report":       report,
			"access_count": accesses,
		})
	}
}

// PrivacySettingsRequest is the inbound body for POST /privacy/settings.
type PrivacySettingsRequest struct {
	UserID   string `json:"user_id"`
	DataType string `json:"data_type"`
	Allowed  bool   `json:"allowed"`
}

func handlePrivacySettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PrivacySettingsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.DataType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and data_type are required")
			return
		}

		if err := deps.Gate.SetPermission(req.UserID, req.DataType, req.Allowed); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleAccessLog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		entries, err := deps.Gate.AccessLog(userID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if entries == nil {
			entries = []storage.AccessLogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleClearUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		if err := deps.Orchestrator.ClearUserData(userID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, storage.ErrAlreadyExists):
		httpError(w, http.StatusConflict, "already_exists_error", "%v", err)
	case errors.Is(err, modes.ErrInvalidMode), errors.Is(err, modes.ErrInvalidContextKind):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
