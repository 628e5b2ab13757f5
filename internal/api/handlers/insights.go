package handlers

import (
	"net/http"

	"github.com/synaptiq/synapse/internal/service"
)

type InsightsHandler struct {
	svc *service.KnowledgeService
}

func NewInsightsHandler(svc *service.KnowledgeService) *InsightsHandler {
	return &InsightsHandler{svc: svc}
}

func (h *InsightsHandler) Plan(w http.ResponseWriter, r *http.Request) {
	goal := r.URL.Query().Get("goal")
	if goal == "" {
		writeError(w, http.StatusBadRequest, "goal parameter is required")
		return
	}
	tags := splitTags(r.URL.Query().Get("context"))
	writeJSON(w, http.StatusOK, h.svc.BuildActionPlan(goal, tags))
}

func (h *InsightsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tags := splitTags(r.URL.Query().Get("context"))
	if len(tags) == 0 {
		writeError(w, http.StatusBadRequest, "context parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.ContextSummary(tags))
}

func (h *InsightsHandler) Context(w http.ResponseWriter, r *http.Request) {
	intent := r.URL.Query().Get("intent")
	if intent == "" {
		writeError(w, http.StatusBadRequest, "intent parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.RelevantContext(intent))
}

type risksResponse struct {
	Action string   `json:"action"`
	Risks  []string `json:"risks"`
}

func (h *InsightsHandler) Risks(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		writeError(w, http.StatusBadRequest, "action parameter is required")
		return
	}
	risks := h.svc.PredictFailureRisks(action)
	if risks == nil {
		risks = []string{}
	}
	writeJSON(w, http.StatusOK, risksResponse{Action: action, Risks: risks})
}

type verificationResponse struct {
	Action string   `json:"action"`
	Steps  []string `json:"steps"`
}

func (h *InsightsHandler) Verification(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		writeError(w, http.StatusBadRequest, "action parameter is required")
		return
	}
	steps := h.svc.SuggestVerificationSteps(action)
	if steps == nil {
		steps = []string{}
	}
	writeJSON(w, http.StatusOK, verificationResponse{Action: action, Steps: steps})
}

type retryResponse struct {
	Tool      string `json:"tool"`
	Retry     bool   `json:"retry"`
	Reasoning string `json:"reasoning"`
}

func (h *InsightsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	if tool == "" {
		writeError(w, http.StatusBadRequest, "tool parameter is required")
		return
	}
	retry, reasoning := h.svc.ShouldRetry(tool)
	writeJSON(w, http.StatusOK, retryResponse{Tool: tool, Retry: retry, Reasoning: reasoning})
}
