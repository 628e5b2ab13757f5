package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/service"
)

type KnowledgeHandler struct {
	svc *service.KnowledgeService
}

func NewKnowledgeHandler(svc *service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc}
}

type evidenceRequest struct {
	Source     string                  `json:"source"`
	Content    string                  `json:"content"`
	Strength   domain.EvidenceStrength `json:"strength"`
	ToolUsed   string                  `json:"tool_used,omitempty"`
	ToolArgs   map[string]string       `json:"tool_args,omitempty"`
	ToolResult string                  `json:"tool_result,omitempty"`
}

func (r evidenceRequest) toEvidence() domain.Evidence {
	ev := domain.NewEvidence(r.Source, r.Content, r.Strength)
	ev.ToolUsed = r.ToolUsed
	ev.ToolArgs = r.ToolArgs
	ev.ToolResult = r.ToolResult
	return ev
}

type createFactRequest struct {
	FactType    string            `json:"fact_type"`
	Value       domain.FactValue  `json:"value"`
	Evidence    evidenceRequest   `json:"evidence"`
	Status      domain.FactStatus `json:"status,omitempty"`
	ContextTags []string          `json:"context_tags,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.AddFact(req.FactType, req.Value, req.Evidence.toEvidence(),
		req.Status, req.ContextTags, req.DependsOn)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFactTypeEmpty),
			errors.Is(err, service.ErrInvalidStatus),
			errors.Is(err, service.ErrInvalidStrength):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create fact")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *KnowledgeHandler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.AddEvidence(id, req.toEvidence()); err != nil {
		switch {
		case errors.Is(err, service.ErrFactNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidStrength):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to add evidence")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addDependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
}

func (h *KnowledgeHandler) AddDependency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req addDependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DependsOnID == "" {
		writeError(w, http.StatusBadRequest, "depends_on_id is required")
		return
	}

	if err := h.svc.AddDependency(id, req.DependsOnID); err != nil {
		if errors.Is(err, service.ErrFactNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add dependency")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type listFactsResponse struct {
	Facts []*domain.Fact `json:"facts"`
	Count int            `json:"count"`
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	factType := r.URL.Query().Get("type")
	contextParam := r.URL.Query().Get("context")
	if factType == "" && contextParam == "" {
		writeError(w, http.StatusBadRequest, "type or context parameter is required")
		return
	}

	minConfidence := 0.0
	if mcStr := r.URL.Query().Get("min_confidence"); mcStr != "" {
		if mc, err := strconv.ParseFloat(mcStr, 64); err == nil {
			minConfidence = mc
		}
	}

	var facts []*domain.Fact
	if factType != "" {
		facts = h.svc.FactsByType(factType, minConfidence)
	} else {
		facts = h.svc.FactsByContext(splitTags(contextParam), minConfidence)
	}

	if facts == nil {
		facts = []*domain.Fact{}
	}
	writeJSON(w, http.StatusOK, listFactsResponse{Facts: facts, Count: len(facts)})
}

func (h *KnowledgeHandler) Chain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chain, err := h.svc.DependencyChain(id)
	if err != nil {
		if errors.Is(err, service.ErrFactNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to build dependency chain")
		return
	}

	writeJSON(w, http.StatusOK, listFactsResponse{Facts: chain, Count: len(chain)})
}

type validateResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

func (h *KnowledgeHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	valid, problems, err := h.svc.ValidateDependencies(id)
	if err != nil {
		if errors.Is(err, service.ErrFactNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to validate dependencies")
		return
	}

	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid, Problems: problems})
}

func (h *KnowledgeHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.State())
}

type markVerifiedRequest struct {
	FactType   string           `json:"fact_type"`
	Value      domain.FactValue `json:"value"`
	Content    string           `json:"content"`
	Source     string           `json:"source,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
}

func (h *KnowledgeHandler) MarkVerified(w http.ResponseWriter, r *http.Request) {
	var req markVerifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Confidence == 0 {
		req.Confidence = 1.0
	}

	id, err := h.svc.MarkVerified(req.FactType, req.Value, req.Content, req.Source, req.Confidence)
	if err != nil {
		if errors.Is(err, service.ErrFactTypeEmpty) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to mark verified")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *KnowledgeHandler) IsVerified(w http.ResponseWriter, r *http.Request) {
	factType := r.URL.Query().Get("type")
	if factType == "" {
		writeError(w, http.StatusBadRequest, "type parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": h.svc.IsVerified(factType)})
}

type recordFailureRequest struct {
	ToolName     string            `json:"tool_name"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	ErrorMessage string            `json:"error_message"`
	Context      string            `json:"context,omitempty"`
}

func (h *KnowledgeHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req recordFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	id, err := h.svc.RecordFailure(req.ToolName, req.Arguments, req.ErrorMessage, req.Context)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record failure")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"fact_id": id})
}

type listFailuresResponse struct {
	Failures []domain.FailureRecord `json:"failures"`
	Count    int                    `json:"count"`
}

func (h *KnowledgeHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures := h.svc.QueryFailures(r.URL.Query().Get("tool"))
	if failures == nil {
		failures = []domain.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, listFailuresResponse{Failures: failures, Count: len(failures)})
}

func splitTags(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
