package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/synaptiq/synapse/internal/domain"
)

// intentTools maps a recognized intent to the tools historically used for it.
var intentTools = map[string][]string{
	"FILE_READ_INTENT":         {"show_file", "read_file", "execute_command"},
	"FILE_WRITE_INTENT":        {"create_file", "edit_file"},
	"FILE_SEARCH_INTENT":       {"execute_command", "search_files"},
	"COMMAND_EXECUTION_INTENT": {"execute_command", "run_python"},
	"CODE_ANALYSIS_INTENT":     {"show_file", "read_file", "execute_command"},
}

var fileReadTools = []string{"show_file", "read_file", "execute_command"}

// Predictor turns accumulated statistics into human-readable recommendations.
// Like SequenceAnalyzer it borrows the owning service's maps and runs under
// that service's lock.
type Predictor struct {
	interactions map[string]*domain.Interaction
	toolProfiles map[string]*domain.ToolProfile
	sequences    map[domain.SequenceKey]*domain.SequencePattern
}

func NewPredictor(
	interactions map[string]*domain.Interaction,
	toolProfiles map[string]*domain.ToolProfile,
	sequences map[domain.SequenceKey]*domain.SequencePattern,
) *Predictor {
	return &Predictor{
		interactions: interactions,
		toolProfiles: toolProfiles,
		sequences:    sequences,
	}
}

// PredictBestApproach lists per-tool success expectations for the intent,
// plus any well-sampled high-success sequences among the intent's tools.
func (p *Predictor) PredictBestApproach(intent string, context domain.ContextSnapshot) []string {
	var recommendations []string

	relevant := intentTools[intent]
	signature := context.Signature()

	for _, toolName := range relevant {
		profile, ok := p.toolProfiles[toolName]
		if !ok {
			continue
		}
		score := profile.SuccessRate
		if contextScore, ok := profile.ContextPreferences[signature]; ok {
			score = contextScore
		}
		recommendations = append(recommendations, fmt.Sprintf(
			"%s: %.1f%% success rate (avg %.1fs, %d uses)",
			toolName, score*100, profile.AverageExecutionTime, p.countToolUses(toolName)))
	}

	for i, tool1 := range relevant {
		for _, tool2 := range relevant[i+1:] {
			pattern, ok := p.sequences[domain.SequenceKey{First: tool1, Second: tool2}]
			if !ok || pattern.Successes+pattern.Failures < 3 {
				continue
			}
			rate, _ := pattern.SuccessRate()
			if rate > 0.7 {
				recommendations = append(recommendations, fmt.Sprintf(
					"Sequence pattern: %s -> %s = %.1f%% (%d successes)",
					tool1, tool2, rate*100, pattern.Successes))
			}
		}
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			fmt.Sprintf("No historical data for %s, proceed with caution", intent))
	}
	return recommendations
}

// IdentifyCommonMistakes surfaces failure modes exceeding a 10% rate for the
// intent's tools, capped at five entries.
func (p *Predictor) IdentifyCommonMistakes(intent string) []string {
	var mistakes []string

	for _, toolName := range intentTools[intent] {
		profile, ok := p.toolProfiles[toolName]
		if !ok {
			continue
		}
		total := p.countToolUses(toolName)
		if total == 0 {
			continue
		}
		errorTypes := make([]string, 0, len(profile.CommonFailureModes))
		for errorType := range profile.CommonFailureModes {
			errorTypes = append(errorTypes, errorType)
		}
		sort.Strings(errorTypes)
		for _, errorType := range errorTypes {
			rate := float64(profile.CommonFailureModes[errorType]) / float64(total)
			if rate > 0.1 {
				mistakes = append(mistakes, fmt.Sprintf(
					"%s with %s (%.0f%% failure rate)", errorType, toolName, rate*100))
			}
		}
	}

	if intent == "FILE_READ_INTENT" {
		notFound := 0
		for _, i := range p.interactions {
			if contains(fileReadTools, i.ToolName) &&
				i.Outcome == domain.OutcomeFailure &&
				strings.Contains(strings.ToLower(i.ErrorMessage), "not found") {
				notFound++
			}
		}
		if notFound >= 3 {
			mistakes = append(mistakes,
				fmt.Sprintf("File not found errors (%d occurrences)", notFound))
		}
	}

	if len(mistakes) > 5 {
		mistakes = mistakes[:5]
	}
	return mistakes
}

// SuccessSequence returns the best observed two-tool sequence for the goal,
// falling back to keyword-driven generic advice.
func (p *Predictor) SuccessSequence(goal string) []string {
	type candidate struct {
		key   domain.SequenceKey
		rate  float64
		count int
	}
	var candidates []candidate

	for key, pattern := range p.sequences {
		total := pattern.Successes + pattern.Failures
		if total < 3 {
			continue
		}
		rate, _ := pattern.SuccessRate()
		if rate >= 0.7 {
			candidates = append(candidates, candidate{key, rate, total})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rate != candidates[j].rate {
			return candidates[i].rate > candidates[j].rate
		}
		if candidates[i].key.First != candidates[j].key.First {
			return candidates[i].key.First < candidates[j].key.First
		}
		return candidates[i].key.Second < candidates[j].key.Second
	})

	if len(candidates) > 0 {
		best := candidates[0]
		return []string{
			fmt.Sprintf("1. %s - initial step", best.key.First),
			fmt.Sprintf("2. %s - follow-up", best.key.Second),
			fmt.Sprintf("Confidence: %.0f%% (based on %d uses)", best.rate*100, best.count),
		}
	}

	goalLower := strings.ToLower(goal)
	switch {
	case strings.Contains(goalLower, "read") || strings.Contains(goalLower, "show"):
		return []string{
			"1. list_files - verify location",
			"2. read_file - read content",
			"Confidence: 50% (general best practice)",
		}
	case strings.Contains(goalLower, "create") || strings.Contains(goalLower, "write"):
		return []string{
			"1. list_files - verify location",
			"2. create_file - create new file",
			"Confidence: 50% (general best practice)",
		}
	default:
		return []string{"No specific sequence pattern identified for this goal"}
	}
}

func (p *Predictor) countToolUses(toolName string) int {
	count := 0
	for _, i := range p.interactions {
		if i.ToolName == toolName {
			count++
		}
	}
	return count
}
