package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/service"
)

type PatternHandler struct {
	svc *service.PatternService
}

func NewPatternHandler(svc *service.PatternService) *PatternHandler {
	return &PatternHandler{svc: svc}
}

type recordInteractionRequest struct {
	ToolName       string                 `json:"tool_name"`
	Arguments      map[string]any         `json:"arguments,omitempty"`
	Outcome        domain.Outcome         `json:"outcome"`
	ExecutionTime  float64                `json:"execution_time,omitempty"`
	Context        domain.ContextSnapshot `json:"context"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Result         string                 `json:"result,omitempty"`
	PreConditions  []string               `json:"pre_conditions,omitempty"`
	PostConditions []string               `json:"post_conditions,omitempty"`
	Confidence     float64                `json:"confidence,omitempty"`
	RetryCount     int                    `json:"retry_count,omitempty"`
}

func (h *PatternHandler) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req recordInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.RecordInteraction(service.InteractionInput{
		ToolName:       req.ToolName,
		Arguments:      req.Arguments,
		Outcome:        req.Outcome,
		ExecutionTime:  req.ExecutionTime,
		Context:        req.Context,
		ErrorMessage:   req.ErrorMessage,
		Result:         req.Result,
		PreConditions:  req.PreConditions,
		PostConditions: req.PostConditions,
		Confidence:     req.Confidence,
		RetryCount:     req.RetryCount,
	})
	if err != nil {
		if errors.Is(err, service.ErrToolNameEmpty) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record interaction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type recommendationsResponse struct {
	Intent          string   `json:"intent"`
	Recommendations []string `json:"recommendations"`
}

func (h *PatternHandler) Approach(w http.ResponseWriter, r *http.Request) {
	intent := r.URL.Query().Get("intent")
	if intent == "" {
		writeError(w, http.StatusBadRequest, "intent parameter is required")
		return
	}
	context := contextFromQuery(r)
	writeJSON(w, http.StatusOK, recommendationsResponse{
		Intent:          intent,
		Recommendations: h.svc.PredictBestApproach(intent, context),
	})
}

type mistakesResponse struct {
	Intent   string   `json:"intent"`
	Mistakes []string `json:"mistakes"`
}

func (h *PatternHandler) Mistakes(w http.ResponseWriter, r *http.Request) {
	intent := r.URL.Query().Get("intent")
	if intent == "" {
		writeError(w, http.StatusBadRequest, "intent parameter is required")
		return
	}
	mistakes := h.svc.IdentifyCommonMistakes(intent)
	if mistakes == nil {
		mistakes = []string{}
	}
	writeJSON(w, http.StatusOK, mistakesResponse{Intent: intent, Mistakes: mistakes})
}

type sequenceResponse struct {
	Goal  string   `json:"goal"`
	Steps []string `json:"steps"`
}

func (h *PatternHandler) Sequence(w http.ResponseWriter, r *http.Request) {
	goal := r.URL.Query().Get("goal")
	if goal == "" {
		writeError(w, http.StatusBadRequest, "goal parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, sequenceResponse{Goal: goal, Steps: h.svc.SuccessSequence(goal)})
}

type optimizeRequest struct {
	Plan    []string               `json:"plan"`
	Goal    string                 `json:"goal,omitempty"`
	Context domain.ContextSnapshot `json:"context"`
}

func (h *PatternHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Plan) == 0 {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.OptimizeApproach(req.Plan, req.Context, req.Goal))
}

// contextFromQuery builds a context snapshot from the flat query params used
// by the read-side pattern endpoints.
func contextFromQuery(r *http.Request) domain.ContextSnapshot {
	ctx := domain.ContextSnapshot{
		TaskType:      r.URL.Query().Get("task_type"),
		Complexity:    domain.ComplexityLevel(r.URL.Query().Get("complexity")),
		UserExpertise: r.URL.Query().Get("user_expertise"),
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("conversation_length")); err == nil {
		ctx.ConversationLength = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("urgency_level")); err == nil {
		ctx.UrgencyLevel = n
	}
	return ctx
}
