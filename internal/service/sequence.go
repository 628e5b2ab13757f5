package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/synaptiq/synapse/internal/domain"
)

// toolCategories groups tools by purpose for substitution suggestions.
var toolCategories = map[string][]string{
	"file_read":  {"show_file", "read_file", "cat_file"},
	"file_write": {"create_file", "edit_file", "write_file"},
	"command":    {"execute_command", "run_command", "exec"},
	"search":     {"search_files", "find_files", "grep"},
	"list":       {"list_files", "ls", "dir"},
}

var toolSimilarityTerms = []string{"file", "command", "search", "list", "edit"}

// SequenceAnalyzer mines tool transitions and rewrites plans around the
// learned statistics. It borrows the owning service's maps and must only be
// called with that service's lock held.
type SequenceAnalyzer struct {
	interactions map[string]*domain.Interaction
	sequences    map[domain.SequenceKey]*domain.SequencePattern
	toolProfiles map[string]*domain.ToolProfile
}

func NewSequenceAnalyzer(
	interactions map[string]*domain.Interaction,
	sequences map[domain.SequenceKey]*domain.SequencePattern,
	toolProfiles map[string]*domain.ToolProfile,
) *SequenceAnalyzer {
	return &SequenceAnalyzer{
		interactions: interactions,
		sequences:    sequences,
		toolProfiles: toolProfiles,
	}
}

// ObserveTransition records the (last recent tool, current tool) pair with
// the current interaction's outcome.
func (a *SequenceAnalyzer) ObserveTransition(interaction *domain.Interaction) {
	recent := interaction.Context.RecentTools
	if len(recent) == 0 {
		return
	}
	key := domain.SequenceKey{First: recent[len(recent)-1], Second: interaction.ToolName}
	a.record(key, interaction, false)
}

// MinePairs updates consecutive pairs within the last three recent tools,
// tagging each with the interaction's complexity for context conditioning.
func (a *SequenceAnalyzer) MinePairs(interaction *domain.Interaction) {
	recent := interaction.Context.RecentTools
	if len(recent) < 2 {
		return
	}
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for i := 0; i < len(recent)-1; i++ {
		key := domain.SequenceKey{First: recent[i], Second: recent[i+1]}
		a.record(key, interaction, true)
	}
}

func (a *SequenceAnalyzer) record(key domain.SequenceKey, interaction *domain.Interaction, withContext bool) {
	pattern, ok := a.sequences[key]
	if !ok {
		pattern = &domain.SequencePattern{}
		a.sequences[key] = pattern
	}
	pattern.TotalCount++
	if interaction.Outcome == domain.OutcomeSuccess {
		pattern.Successes++
	} else {
		pattern.Failures++
	}
	if withContext {
		if pattern.ContextConditions == nil {
			pattern.ContextConditions = make(map[string]int)
		}
		pattern.ContextConditions["complexity:"+string(interaction.Context.Complexity)]++
	}
}

// OptimizeApproach rewrites a plan in two passes: replace the second tool of
// any pair with an observed success rate below 0.3, then replace any tool
// whose profile success rate is below 0.4 with a better same-category tool.
func (a *SequenceAnalyzer) OptimizeApproach(plan []string, context domain.ContextSnapshot, goal string) domain.OptimizedPlan {
	optimized := append([]string(nil), plan...)
	var subs []domain.Substitution

	for i := 0; i < len(plan)-1; i++ {
		key := domain.SequenceKey{First: plan[i], Second: plan[i+1]}
		pattern, ok := a.sequences[key]
		if !ok {
			continue
		}
		rate, sampled := pattern.SuccessRate()
		if !sampled || rate >= 0.3 {
			continue
		}
		if alt := a.sequenceAlternative(key); alt != "" {
			optimized[i+1] = alt
			subs = append(subs, domain.Substitution{
				Position:    i + 1,
				Original:    key.Second,
				Replacement: alt,
				Reason:      fmt.Sprintf("Low success sequence: %.1f%%", rate*100),
			})
		}
	}

	for i, tool := range optimized {
		profile, ok := a.toolProfiles[tool]
		if !ok || profile.SuccessRate >= 0.4 {
			continue
		}
		if alt := a.toolAlternative(tool); alt != "" && alt != tool {
			optimized[i] = alt
			subs = append(subs, domain.Substitution{
				Position:    i,
				Original:    tool,
				Replacement: alt,
				Reason:      fmt.Sprintf("Low success tool: %.1f%%", profile.SuccessRate*100),
			})
		}
	}

	return domain.OptimizedPlan{
		Plan:          optimized,
		Optimizations: subs,
		Confidence:    optimizationConfidence(len(subs)),
	}
}

// sequenceAlternative finds the best successor for the pair's first tool
// among well-sampled, high-success sequences.
func (a *SequenceAnalyzer) sequenceAlternative(problematic domain.SequenceKey) string {
	best := ""
	bestRate := 0.0
	keys := make([]domain.SequenceKey, 0, len(a.sequences))
	for key := range a.sequences {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].First != keys[j].First {
			return keys[i].First < keys[j].First
		}
		return keys[i].Second < keys[j].Second
	})
	for _, key := range keys {
		if key.First != problematic.First || key == problematic {
			continue
		}
		pattern := a.sequences[key]
		if pattern.Successes+pattern.Failures < 3 {
			continue
		}
		rate, _ := pattern.SuccessRate()
		if rate > 0.7 && rate > bestRate {
			best = key.Second
			bestRate = rate
		}
	}
	return best
}

// toolAlternative finds a similar-purpose tool with at least three uses and
// a high success rate.
func (a *SequenceAnalyzer) toolAlternative(problematic string) string {
	best := ""
	bestRate := 0.0
	names := make([]string, 0, len(a.toolProfiles))
	for name := range a.toolProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == problematic || !toolsSimilar(problematic, name) {
			continue
		}
		profile := a.toolProfiles[name]
		if a.countToolUses(name) >= 3 && profile.SuccessRate > 0.7 && profile.SuccessRate > bestRate {
			best = name
			bestRate = profile.SuccessRate
		}
	}
	return best
}

func (a *SequenceAnalyzer) countToolUses(toolName string) int {
	count := 0
	for _, i := range a.interactions {
		if i.ToolName == toolName {
			count++
		}
	}
	return count
}

func toolsSimilar(tool1, tool2 string) bool {
	for _, tools := range toolCategories {
		if contains(tools, tool1) && contains(tools, tool2) {
			return true
		}
	}
	l1, l2 := strings.ToLower(tool1), strings.ToLower(tool2)
	for _, term := range toolSimilarityTerms {
		if strings.Contains(l1, term) && strings.Contains(l2, term) {
			return true
		}
	}
	return false
}

// optimizationConfidence shrinks with every substitution; an untouched plan
// keeps full confidence.
func optimizationConfidence(substitutions int) float64 {
	if substitutions == 0 {
		return 1.0
	}
	confidence := 0.8 - 0.1*float64(substitutions)
	if confidence < 0.3 {
		return 0.3
	}
	return confidence
}
