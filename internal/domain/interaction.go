package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailure        Outcome = "failure"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeError          Outcome = "error"
	OutcomeUnclear        Outcome = "unclear"
)

func ValidOutcome(o string) bool {
	switch Outcome(o) {
	case OutcomeSuccess, OutcomeFailure, OutcomePartialSuccess,
		OutcomeTimeout, OutcomeError, OutcomeUnclear:
		return true
	}
	return false
}

type ComplexityLevel string

const (
	ComplexitySimple      ComplexityLevel = "simple"
	ComplexityModerate    ComplexityLevel = "moderate"
	ComplexityComplex     ComplexityLevel = "complex"
	ComplexityVeryComplex ComplexityLevel = "very_complex"
)

// Weight is the eviction-score multiplier: complex contexts are worth
// keeping longer.
func (c ComplexityLevel) Weight() float64 {
	switch c {
	case ComplexitySimple:
		return 0.5
	case ComplexityComplex:
		return 1.5
	case ComplexityVeryComplex:
		return 2.0
	default:
		return 1.0
	}
}

func (c *ComplexityLevel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ComplexityLevel(strings.ToLower(raw))
	if *c == "" {
		*c = ComplexityModerate
	}
	return nil
}

// ContextSnapshot captures the conversational situation a tool ran in.
type ContextSnapshot struct {
	ConversationLength int             `json:"conversation_length"`
	RecentTools        []string        `json:"recent_tools,omitempty"`
	TaskType           string          `json:"task_type"`
	Complexity         ComplexityLevel `json:"complexity"`
	UserExpertise      string          `json:"user_expertise"`
	TimeOfDay          string          `json:"time_of_day"`
	WorkingMemoryUsage float64         `json:"working_memory_usage"`
	EmotionalTone      string          `json:"emotional_tone,omitempty"`
	UrgencyLevel       int             `json:"urgency_level"`
}

// Signature keys context-preference buckets on a tool profile.
func (c ContextSnapshot) Signature() string {
	parts := []string{
		"len_" + strconv.Itoa(c.ConversationLength),
		"complex_" + string(c.Complexity),
		"expert_" + c.UserExpertise,
		"urg_" + strconv.Itoa(c.UrgencyLevel),
	}
	if len(c.RecentTools) > 0 {
		parts = append(parts, "last_"+c.RecentTools[len(c.RecentTools)-1])
	}
	return strings.Join(parts, "_")
}

// Interaction is one recorded tool invocation. Immutable after creation.
type Interaction struct {
	ID             string          `json:"id"`
	ToolName       string          `json:"tool_name"`
	Arguments      map[string]any  `json:"arguments,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	ExecutionTime  float64         `json:"execution_time"`
	Timestamp      time.Time       `json:"timestamp"`
	Context        ContextSnapshot `json:"context"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Result         string          `json:"result,omitempty"`
	PreConditions  []string        `json:"pre_conditions,omitempty"`
	PostConditions []string        `json:"post_conditions,omitempty"`
	Confidence     float64         `json:"confidence"`
	RetryCount     int             `json:"retry_count"`
}

// ToolProfile aggregates statistics for one tool across all interactions.
type ToolProfile struct {
	Name                    string             `json:"name"`
	SuccessRate             float64            `json:"success_rate"`
	AverageExecutionTime    float64            `json:"average_execution_time"`
	ReliabilityScore        float64            `json:"reliability_score"`
	ContextPreferences      map[string]float64 `json:"context_preferences"`
	CommonFailureModes      map[string]int     `json:"common_failure_modes"`
	PrerequisiteSensitivity float64            `json:"prerequisite_sensitivity"`
	LearningCurve           float64            `json:"learning_curve"`
}

func NewToolProfile(name string, firstExecutionTime float64) *ToolProfile {
	return &ToolProfile{
		Name:                    name,
		SuccessRate:             0.5,
		AverageExecutionTime:    firstExecutionTime,
		ReliabilityScore:        0.5,
		ContextPreferences:      make(map[string]float64),
		CommonFailureModes:      make(map[string]int),
		PrerequisiteSensitivity: 0.5,
		LearningCurve:           0.5,
	}
}

// SequenceKey identifies an ordered pair of consecutively used tools.
type SequenceKey struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// SequencePattern holds outcome statistics for one tool pair.
type SequencePattern struct {
	Successes         int            `json:"successes"`
	Failures          int            `json:"failures"`
	TotalCount        int            `json:"total_count"`
	ContextConditions map[string]int `json:"context_conditions,omitempty"`
}

// SuccessRate returns the observed rate and whether any samples exist.
func (p *SequencePattern) SuccessRate() (float64, bool) {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0, false
	}
	return float64(p.Successes) / float64(total), true
}

// OptimizedPlan is the result of pattern-driven plan rewriting.
type OptimizedPlan struct {
	Plan          []string       `json:"optimized_plan"`
	Optimizations []Substitution `json:"optimizations"`
	Confidence    float64        `json:"confidence"`
}

type Substitution struct {
	Position    int    `json:"position"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Reason      string `json:"reason"`
}
