package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type FactStatus string

const (
	StatusVerified  FactStatus = "verified"
	StatusAssumed   FactStatus = "assumed"
	StatusRefuted   FactStatus = "refuted"
	StatusUncertain FactStatus = "uncertain"
)

func ValidFactStatus(s string) bool {
	switch FactStatus(s) {
	case StatusVerified, StatusAssumed, StatusRefuted, StatusUncertain:
		return true
	}
	return false
}

// StatusForConfidence maps a pooled confidence onto the fixed status
// thresholds. Callers supply the initial status at creation; every evidence
// update after that recomputes it from here.
func StatusForConfidence(confidence float64) FactStatus {
	switch {
	case confidence >= 0.9:
		return StatusVerified
	case confidence >= 0.5:
		return StatusAssumed
	case confidence < 0.3:
		return StatusRefuted
	default:
		return StatusUncertain
	}
}

// UnmarshalJSON accepts both lowercase values and legacy uppercase names.
func (s *FactStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = FactStatus(strings.ToLower(raw))
	return nil
}

type EvidenceStrength string

const (
	StrengthWeak       EvidenceStrength = "weak"
	StrengthModerate   EvidenceStrength = "moderate"
	StrengthStrong     EvidenceStrength = "strong"
	StrengthConclusive EvidenceStrength = "conclusive"
)

// Weight returns the pooling weight for the strength level. Unknown values
// fall back to moderate.
func (s EvidenceStrength) Weight() float64 {
	switch s {
	case StrengthWeak:
		return 0.3
	case StrengthStrong:
		return 0.9
	case StrengthConclusive:
		return 1.0
	default:
		return 0.7
	}
}

// StrengthForConfidence picks the strength ladder rung for a caller-supplied
// confidence score.
func StrengthForConfidence(confidence float64) EvidenceStrength {
	switch {
	case confidence >= 1.0:
		return StrengthConclusive
	case confidence >= 0.9:
		return StrengthStrong
	case confidence >= 0.7:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// UnmarshalJSON tolerates name strings in any case and legacy numeric
// weights from old snapshot files.
func (s *EvidenceStrength) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*s = EvidenceStrength(strings.ToLower(raw))
		return nil
	}
	var weight float64
	if err := json.Unmarshal(data, &weight); err != nil {
		return err
	}
	switch {
	case weight <= 0.3:
		*s = StrengthWeak
	case weight <= 0.7:
		*s = StrengthModerate
	case weight <= 0.9:
		*s = StrengthStrong
	default:
		*s = StrengthConclusive
	}
	return nil
}

// Evidence is a single observation supporting or refuting a fact. Immutable
// once created; a fact's evidence list is append-only.
type Evidence struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Strength   EvidenceStrength  `json:"strength"`
	ToolUsed   string            `json:"tool_used,omitempty"`
	ToolArgs   map[string]string `json:"tool_args,omitempty"`
	ToolResult string            `json:"tool_result,omitempty"`
}

func NewEvidence(source, content string, strength EvidenceStrength) Evidence {
	return Evidence{
		ID:        uuid.NewString(),
		Source:    source,
		Content:   content,
		Timestamp: time.Now(),
		Strength:  strength,
	}
}

type ValueKind string

const (
	ValueScalar      ValueKind = "scalar"
	ValueToolOutcome ValueKind = "tool_outcome"
)

// ToolOutcomeValue records what happened when a specific tool ran with
// specific arguments. It backs both tool_rejection and tool_success facts.
type ToolOutcomeValue struct {
	Tool          string            `json:"tool"`
	Args          map[string]string `json:"args,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Result        string            `json:"result,omitempty"`
	ExecutionTime float64           `json:"execution_time,omitempty"`
}

// FactValue is the payload of a fact: either an opaque scalar state value or
// a structured tool outcome record.
type FactValue struct {
	Kind   ValueKind         `json:"kind"`
	Scalar string            `json:"scalar,omitempty"`
	Tool   *ToolOutcomeValue `json:"tool,omitempty"`
}

func ScalarValue(v string) FactValue {
	return FactValue{Kind: ValueScalar, Scalar: v}
}

func ToolValue(v ToolOutcomeValue) FactValue {
	return FactValue{Kind: ValueToolOutcome, Tool: &v}
}

// String renders the payload for reasoning strings and path matching.
func (v FactValue) String() string {
	if v.Kind == ValueToolOutcome && v.Tool != nil {
		parts := []string{v.Tool.Tool}
		for k, arg := range v.Tool.Args {
			parts = append(parts, k+"="+arg)
		}
		if v.Tool.Reason != "" {
			parts = append(parts, v.Tool.Reason)
		}
		return strings.Join(parts, " ")
	}
	return v.Scalar
}

// Fact is a typed, evidence-backed belief. Facts are never deleted; a status
// change supersedes them and only a full graph reset destroys them.
type Fact struct {
	ID          string     `json:"id"`
	FactType    string     `json:"fact_type"`
	Value       FactValue  `json:"value"`
	Status      FactStatus `json:"status"`
	Confidence  float64    `json:"confidence"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Evidences   []Evidence `json:"evidences"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	RequiredFor []string   `json:"required_for,omitempty"`
	ContextTags []string   `json:"context_tags,omitempty"`
}

// NewFact seeds a fact from its first evidence. The caller-supplied status
// is authoritative until the next evidence update recomputes it.
func NewFact(factType string, value FactValue, evidence Evidence, status FactStatus, contextTags, dependsOn []string) *Fact {
	now := time.Now()
	return &Fact{
		ID:          uuid.NewString(),
		FactType:    factType,
		Value:       value,
		Status:      status,
		Confidence:  evidence.Strength.Weight(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Evidences:   []Evidence{evidence},
		DependsOn:   dependsOn,
		ContextTags: contextTags,
	}
}

// HasTag reports whether the fact carries the given context tag.
func (f *Fact) HasTag(tag string) bool {
	for _, t := range f.ContextTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ToolName returns the tool behind a tool-outcome fact, or "".
func (f *Fact) ToolName() string {
	if f.Value.Kind == ValueToolOutcome && f.Value.Tool != nil {
		return f.Value.Tool.Tool
	}
	return ""
}

// ActionPlan is the synthesized next-step view over verified knowledge.
type ActionPlan struct {
	Goal           string   `json:"goal"`
	RequiredFacts  []string `json:"required_facts"`
	MissingFacts   []string `json:"missing_facts"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	SuggestedTools []string `json:"suggested_tools"`
}

// ContextSummary aggregates knowledge state for a set of context tags.
type ContextSummary struct {
	TotalRelevantFacts int       `json:"total_relevant_facts"`
	VerifiedFacts      int       `json:"verified_facts"`
	AssumedFacts       int       `json:"assumed_facts"`
	AverageConfidence  float64   `json:"average_confidence"`
	KnowledgeGaps      []string  `json:"knowledge_gaps"`
	StrongestEvidence  *Evidence `json:"strongest_evidence,omitempty"`
}

// FailureRecord is the legacy flat failure log entry kept for the risk
// heuristics. Rebuilt from tool_rejection facts on load.
type FailureRecord struct {
	ToolName     string            `json:"tool_name"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	ErrorMessage string            `json:"error_message"`
}

// FailureSketch is a compact failure fingerprint kept in a bounded ring for
// future clustering: arg shape plus the leading error class.
type FailureSketch struct {
	Tool      string    `json:"tool"`
	ArgKeys   []string  `json:"arg_keys"`
	ErrorType string    `json:"error_type"`
	Timestamp time.Time `json:"timestamp"`
}

// RelevantContext is the intent-scoped view the guidance layer reads before
// proposing an action.
type RelevantContext struct {
	CurrentState        map[string]FactValue `json:"current_state"`
	PotentialIssues     []PotentialIssue     `json:"potential_issues"`
	KnownFailures       []KnownFailure       `json:"known_failures"`
	VerifiedAssumptions []VerifiedAssumption `json:"verified_assumptions"`
}

type PotentialIssue struct {
	Type       string    `json:"type"`
	Assumption FactValue `json:"assumption"`
	Confidence float64   `json:"confidence"`
	Warning    string    `json:"warning"`
}

type KnownFailure struct {
	Tool   string            `json:"tool"`
	Reason string            `json:"reason"`
	Args   map[string]string `json:"args,omitempty"`
}

type VerifiedAssumption struct {
	Type       string    `json:"type"`
	Value      FactValue `json:"value"`
	Confidence float64   `json:"confidence"`
}

// KnowledgeState is the structured counterpart of the original prompt-context
// rendering: the strongest verified facts and the most recent failures.
type KnowledgeState struct {
	Verified []StateFact    `json:"verified"`
	Failures []KnownFailure `json:"failures"`
}

type StateFact struct {
	FactType   string    `json:"fact_type"`
	Value      FactValue `json:"value"`
	Confidence float64   `json:"confidence"`
}
