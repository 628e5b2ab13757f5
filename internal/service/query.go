package service

import (
	"regexp"
	"sort"
	"strings"

	"github.com/synaptiq/synapse/internal/domain"
)

// goalPatterns maps goal categories to the fact types a plan needs verified.
var goalPatterns = map[string][]string{
	"file_operation":    {"file_exists", "file_permissions", "directory_exists"},
	"api_operation":     {"api_available", "authentication_valid", "endpoint_accessible"},
	"network_operation": {"network_available", "url_accessible", "dns_resolvable"},
}

// defaultRequiredFacts is the fallback when no goal pattern scores.
var defaultRequiredFacts = []string{"environment_ready", "permissions_available"}

// toolsForFactType suggests tools that can establish a missing fact type.
var toolsForFactType = map[string][]string{
	"file_exists":          {"list_files", "check_file"},
	"file_permissions":     {"check_permissions"},
	"directory_exists":     {"list_files", "check_directory"},
	"api_available":        {"test_endpoint", "make_request"},
	"authentication_valid": {"test_auth", "validate_credentials"},
	"network_available":    {"ping", "check_connectivity"},
}

// commonGaps lists fact types that are usually worth knowing per category.
var commonGaps = map[string][]string{
	"file_operations":    {"backup_exists", "disk_space", "file_format"},
	"network_operations": {"latency", "bandwidth", "firewall_rules"},
	"api_operations":     {"rate_limits", "response_format", "error_patterns"},
}

var goalTokenRe = regexp.MustCompile(`[a-z]+`)

// QueryEngine provides read-only query and planning operations over the
// graph's maps. It borrows the owning service's maps and runs under its
// lock; it never mutates them.
type QueryEngine struct {
	facts        map[string]*domain.Fact
	typeIndex    map[string][]string
	contextIndex map[string][]string
}

func NewQueryEngine(facts map[string]*domain.Fact, typeIndex, contextIndex map[string][]string) *QueryEngine {
	return &QueryEngine{facts: facts, typeIndex: typeIndex, contextIndex: contextIndex}
}

// ByType returns facts of one type at or above the confidence floor, sorted
// descending by confidence.
func (q *QueryEngine) ByType(factType string, minConfidence float64) []*domain.Fact {
	var out []*domain.Fact
	for _, id := range q.typeIndex[factType] {
		if f, ok := q.facts[id]; ok && f.Confidence >= minConfidence {
			out = append(out, cloneFact(f))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ByContext returns the union of facts carrying any of the tags, filtered by
// confidence. Set semantics: no defined order.
func (q *QueryEngine) ByContext(tags []string, minConfidence float64) []*domain.Fact {
	seen := make(map[string]bool)
	var out []*domain.Fact
	for _, tag := range tags {
		for _, id := range q.contextIndex[tag] {
			if seen[id] {
				continue
			}
			seen[id] = true
			if f, ok := q.facts[id]; ok && f.Confidence >= minConfidence {
				out = append(out, cloneFact(f))
			}
		}
	}
	return out
}

// BuildActionPlan synthesizes next steps for a goal from the verified facts
// in context.
func (q *QueryEngine) BuildActionPlan(goal string, contextTags []string) domain.ActionPlan {
	relevant := q.ByContext(contextTags, 0.7)

	var verified []*domain.Fact
	knownTypes := make(map[string]bool)
	for _, f := range relevant {
		if f.Status == domain.StatusVerified {
			verified = append(verified, f)
			knownTypes[f.FactType] = true
		}
	}

	required := inferRequiredFacts(goal)
	var missing []string
	for _, ft := range required {
		if !knownTypes[ft] {
			missing = append(missing, ft)
		}
	}

	return domain.ActionPlan{
		Goal:           goal,
		RequiredFacts:  required,
		MissingFacts:   missing,
		Confidence:     meanConfidence(verified),
		Reasoning:      planReasoning(goal, knownTypes, missing),
		SuggestedTools: suggestTools(missing),
	}
}

// ContextSummary aggregates the knowledge state under a set of tags.
func (q *QueryEngine) ContextSummary(contextTags []string) domain.ContextSummary {
	relevant := q.ByContext(contextTags, 0)

	summary := domain.ContextSummary{
		TotalRelevantFacts: len(relevant),
		KnowledgeGaps:      q.identifyGaps(contextTags),
	}

	var confidenceSum float64
	var strongest *domain.Evidence
	for _, f := range relevant {
		confidenceSum += f.Confidence
		switch f.Status {
		case domain.StatusVerified:
			summary.VerifiedFacts++
			for i := range f.Evidences {
				ev := &f.Evidences[i]
				if strongest == nil || ev.Strength.Weight() > strongest.Strength.Weight() {
					strongest = ev
				}
			}
		case domain.StatusAssumed:
			summary.AssumedFacts++
		}
	}
	if len(relevant) > 0 {
		summary.AverageConfidence = confidenceSum / float64(len(relevant))
	}
	if strongest != nil {
		ev := *strongest
		summary.StrongestEvidence = &ev
	}
	return summary
}

// ---------- Internal ----------

// inferRequiredFacts scores each goal pattern by token overlap with the goal
// string and picks the best match.
func inferRequiredFacts(goal string) []string {
	goalTokens := make(map[string]bool)
	for _, tok := range goalTokenRe.FindAllString(strings.ToLower(goal), -1) {
		goalTokens[tok] = true
	}

	best := defaultRequiredFacts
	bestScore := 0
	// Deterministic iteration so ties resolve stably.
	names := make([]string, 0, len(goalPatterns))
	for name := range goalPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		score := 0
		for _, tok := range strings.Split(name, "_") {
			if goalTokens[tok] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = goalPatterns[name], score
		}
	}
	return best
}

func suggestTools(missing []string) []string {
	seen := make(map[string]bool)
	var tools []string
	for _, ft := range missing {
		for _, tool := range toolsForFactType[ft] {
			if !seen[tool] {
				seen[tool] = true
				tools = append(tools, tool)
			}
		}
	}
	sort.Strings(tools)
	return tools
}

func meanConfidence(facts []*domain.Fact) float64 {
	if len(facts) == 0 {
		return 0
	}
	var sum float64
	for _, f := range facts {
		sum += f.Confidence
	}
	return sum / float64(len(facts))
}

func planReasoning(goal string, known map[string]bool, missing []string) string {
	if len(missing) == 0 {
		return "All required facts for '" + goal + "' are verified. Ready to proceed."
	}
	knownList := make([]string, 0, len(known))
	for ft := range known {
		knownList = append(knownList, ft)
	}
	sort.Strings(knownList)
	knownPart := strings.Join(knownList, ", ")
	if knownPart == "" {
		knownPart = "nothing relevant"
	}
	return "For '" + goal + "', need to verify: " + strings.Join(missing, ", ") +
		". Already know: " + knownPart
}

// identifyGaps checks the static gap catalog: a gap is any catalog fact type
// with no fact at all, under a matching (or "all") tag.
func (q *QueryEngine) identifyGaps(contextTags []string) []string {
	tagged := make(map[string]bool, len(contextTags))
	for _, t := range contextTags {
		tagged[t] = true
	}

	categories := make([]string, 0, len(commonGaps))
	for cat := range commonGaps {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var gaps []string
	for _, cat := range categories {
		if !tagged[cat] && !tagged["all"] {
			continue
		}
		for _, gapType := range commonGaps[cat] {
			if len(q.typeIndex[gapType]) == 0 {
				gaps = append(gaps, gapType)
			}
		}
	}
	return gaps
}
