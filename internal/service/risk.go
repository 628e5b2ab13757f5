package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/synaptiq/synapse/internal/domain"
)

// intentFactTypes maps caller intents to the fact types worth surfacing.
var intentFactTypes = map[string][]string{
	"FILE_READ_INTENT":         {"file_exists", "file_permissions", "file_location"},
	"FILE_WRITE_INTENT":        {"file_exists", "directory_exists", "write_permissions"},
	"FILE_SEARCH_INTENT":       {"directory_structure", "file_location", "search_path"},
	"COMMAND_EXECUTION_INTENT": {"command_available", "dependencies_installed", "environment_ready"},
	"CODE_ANALYSIS_INTENT":     {"file_exists", "syntax_valid", "dependencies_resolved"},
	"CODE_WRITE_INTENT":        {"file_exists", "backup_exists", "syntax_valid", "write_permissions"},
	"PACKAGE_INSTALL_INTENT":   {"package_available", "dependencies_compatible", "environment_ready", "network_available"},
}

// ParsedAction is the best-effort decomposition of a proposed action string.
type ParsedAction struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

// RiskAnalyzer predicts failure risks from historical refutations and
// unverified assumptions. Borrows the owning service's maps, runs under its
// lock, never mutates.
type RiskAnalyzer struct {
	facts     map[string]*domain.Fact
	typeIndex map[string][]string
}

func NewRiskAnalyzer(facts map[string]*domain.Fact, typeIndex map[string][]string) *RiskAnalyzer {
	return &RiskAnalyzer{facts: facts, typeIndex: typeIndex}
}

// ShouldRetry refuses a retry once three or more refuted facts reference the
// tool.
func (r *RiskAnalyzer) ShouldRetry(toolName string) (bool, string) {
	count := r.countToolFailures(toolName)
	if count >= 3 {
		return false, fmt.Sprintf("Too many recent failures (%d) for %s", count, toolName)
	}
	return true, "No recent failures found"
}

// RelevantContext builds the intent-scoped view: latest verified state per
// relevant type, all unverified assumptions, the five most recent failures,
// and the three strongest verified facts.
func (r *RiskAnalyzer) RelevantContext(intent string) domain.RelevantContext {
	ctx := domain.RelevantContext{CurrentState: make(map[string]domain.FactValue)}

	for _, ft := range intentFactTypes[intent] {
		var latest *domain.Fact
		for _, id := range r.typeIndex[ft] {
			f, ok := r.facts[id]
			if !ok || f.Status != domain.StatusVerified {
				continue
			}
			if latest == nil || f.UpdatedAt.After(latest.UpdatedAt) {
				latest = f
			}
		}
		if latest != nil {
			ctx.CurrentState[ft] = latest.Value
		}
	}

	var refuted, verified []*domain.Fact
	for _, f := range r.facts {
		switch f.Status {
		case domain.StatusAssumed, domain.StatusUncertain:
			ctx.PotentialIssues = append(ctx.PotentialIssues, domain.PotentialIssue{
				Type:       f.FactType,
				Assumption: f.Value,
				Confidence: f.Confidence,
				Warning:    "Unverified: " + f.FactType,
			})
		case domain.StatusRefuted:
			refuted = append(refuted, f)
		case domain.StatusVerified:
			verified = append(verified, f)
		}
	}

	sort.Slice(refuted, func(i, j int) bool { return refuted[i].UpdatedAt.After(refuted[j].UpdatedAt) })
	for _, f := range refuted[:min(len(refuted), 5)] {
		if tool := f.Value.Tool; tool != nil {
			ctx.KnownFailures = append(ctx.KnownFailures, domain.KnownFailure{
				Tool:   tool.Tool,
				Reason: tool.Reason,
				Args:   tool.Args,
			})
		}
	}

	sort.Slice(verified, func(i, j int) bool { return verified[i].Confidence > verified[j].Confidence })
	for _, f := range verified[:min(len(verified), 3)] {
		ctx.VerifiedAssumptions = append(ctx.VerifiedAssumptions, domain.VerifiedAssumption{
			Type:       f.FactType,
			Value:      f.Value,
			Confidence: f.Confidence,
		})
	}
	return ctx
}

// PredictFailureRisks parses the action and combines file-path, tool-history
// and assumption checks into risk descriptions.
func (r *RiskAnalyzer) PredictFailureRisks(proposedAction string) []string {
	parsed := ParseAction(proposedAction)

	risks := r.filePathRisks(parsed.Tool, parsed.Args)
	risks = append(risks, r.toolFailureRisks(parsed.Tool)...)
	risks = append(risks, r.assumptionRisks()...)
	return risks
}

// SuggestVerificationSteps proposes checks shaped by the action's arguments,
// falling back to two generic steps when nothing matches.
func (r *RiskAnalyzer) SuggestVerificationSteps(proposedAction string) []string {
	parsed := ParseAction(proposedAction)

	var steps []string
	if filepath, ok := argFilePath(parsed.Args); ok {
		steps = append(steps, fmt.Sprintf("1. Verify file exists: execute_command('ls %s')", filepath))
		if !strings.Contains(filepath, "/") {
			steps = append(steps, fmt.Sprintf("2. Search for file: execute_command('find . -name %s')", filepath))
		} else {
			dir := filepath[:strings.LastIndex(filepath, "/")]
			steps = append(steps, fmt.Sprintf("2. Verify directory: execute_command('ls %s')", dir))
		}
	}
	if dir, ok := argDirectory(parsed.Args); ok {
		steps = append(steps,
			fmt.Sprintf("1. Verify directory: execute_command('ls %s')", dir),
			fmt.Sprintf("2. Check permissions: execute_command('ls -ld %s')", dir))
	}
	if parsed.Tool == "execute_command" {
		command := parsed.Args["command"]
		if command == "" {
			command = parsed.Args["filepath"]
		}
		if fields := strings.Fields(command); len(fields) > 0 {
			steps = append(steps,
				fmt.Sprintf("1. Verify command available: execute_command('which %s')", fields[0]))
		}
	}

	if len(steps) == 0 {
		steps = []string{
			"1. Verify current directory: execute_command('pwd')",
			"2. Review verified facts",
		}
	}
	return steps
}

// ---------- Internal ----------

func (r *RiskAnalyzer) countToolFailures(toolName string) int {
	count := 0
	for _, f := range r.facts {
		if f.Status == domain.StatusRefuted && f.ToolName() == toolName {
			count++
		}
	}
	return count
}

func (r *RiskAnalyzer) filePathRisks(toolName string, args map[string]string) []string {
	filepath, ok := argFilePath(args)
	if !ok {
		return nil
	}

	var risks []string

	verified := false
	for _, id := range r.typeIndex["file_exists"] {
		if f, ok := r.facts[id]; ok &&
			f.Status == domain.StatusVerified && f.Value.String() == filepath {
			verified = true
			break
		}
	}
	if !verified {
		risks = append(risks, fmt.Sprintf("File path assumption - '%s' existence not verified", filepath))
	}

	repeats := 0
	for _, f := range r.facts {
		if f.Status != domain.StatusRefuted || f.Value.Tool == nil || f.ToolName() != toolName {
			continue
		}
		for _, arg := range f.Value.Tool.Args {
			if strings.Contains(arg, filepath) {
				repeats++
				break
			}
		}
	}
	if repeats > 0 {
		risks = append(risks, fmt.Sprintf("This file path failed %dx in recent attempts", repeats))
	}
	return risks
}

func (r *RiskAnalyzer) toolFailureRisks(toolName string) []string {
	var reasons []string
	for _, f := range r.facts {
		if f.Status == domain.StatusRefuted && f.Value.Tool != nil && f.ToolName() == toolName {
			reasons = append(reasons, f.Value.Tool.Reason)
		}
	}
	if len(reasons) < 3 {
		return nil
	}

	risks := []string{fmt.Sprintf("Tool '%s' has %d recent failures", toolName, len(reasons))}

	counts := make(map[string]int)
	for _, reason := range reasons {
		counts[reason]++
	}
	common, commonCount := "", 0
	for reason, count := range counts {
		if count > commonCount || (count == commonCount && reason < common) {
			common, commonCount = reason, count
		}
	}
	if commonCount >= 2 {
		risks = append(risks, "Common failure: "+common)
	}
	return risks
}

func (r *RiskAnalyzer) assumptionRisks() []string {
	assumed := 0
	for _, f := range r.facts {
		if f.Status == domain.StatusAssumed {
			assumed++
		}
	}
	if assumed == 0 {
		return nil
	}
	return []string{fmt.Sprintf("%d unverified assumptions in knowledge base", assumed)}
}

func argFilePath(args map[string]string) (string, bool) {
	if v, ok := args["filepath"]; ok {
		return v, true
	}
	if v, ok := args["file"]; ok {
		return v, true
	}
	return "", false
}

func argDirectory(args map[string]string) (string, bool) {
	if v, ok := args["directory"]; ok {
		return v, true
	}
	if v, ok := args["dir"]; ok {
		return v, true
	}
	return "", false
}

// ---------- Action parsing ----------

var (
	actionNameRe = regexp.MustCompile(`^(\w+)\((.*)\)`)
	looseKwargRe = regexp.MustCompile(`(\w+)\s*=\s*["']([^"']*)["']`)
)

// ParseAction decomposes a name(args)-shaped action string. Strategy, in
// order: structured keyword-argument parse; single positional value treated
// as a filepath; permissive key="value" regex scan; and finally the stripped
// content as a filepath. Unparsable input degrades to the whole string as
// the tool name with empty args. Never fails.
func ParseAction(action string) ParsedAction {
	m := actionNameRe.FindStringSubmatch(action)
	if m == nil {
		return ParsedAction{Tool: action, Args: map[string]string{}}
	}

	tool := m[1]
	argsStr := strings.TrimSpace(m[2])
	args := map[string]string{}

	if strings.Contains(argsStr, "=") {
		if parsed, ok := parseKwargs(argsStr); ok {
			args = parsed
		} else {
			for _, kv := range looseKwargRe.FindAllStringSubmatch(argsStr, -1) {
				args[kv[1]] = kv[2]
			}
			if len(args) == 0 && argsStr != "" {
				if cleaned := strings.Trim(argsStr, `"'`); cleaned != "" {
					args["filepath"] = cleaned
				}
			}
		}
	} else if argsStr != "" {
		if cleaned := strings.Trim(argsStr, `"'`); cleaned != "" {
			args["filepath"] = cleaned
		}
	}

	return ParsedAction{Tool: tool, Args: args}
}

// parseKwargs parses a strictly well-formed keyword-argument list:
// key=<quoted string | bare literal> pairs separated by top-level commas.
func parseKwargs(argsStr string) (map[string]string, bool) {
	args := make(map[string]string)
	for _, part := range splitTopLevel(argsStr) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, false
		}
		key = strings.TrimSpace(key)
		if !isIdentifier(key) {
			return nil, false
		}
		value = strings.TrimSpace(value)
		unquoted, ok := unquote(value)
		if !ok {
			// Bare literals: numbers and bare words ride through as-is,
			// anything with stray quote characters is malformed.
			if value == "" || strings.ContainsAny(value, `"'`) {
				return nil, false
			}
			unquoted = value
		}
		args[key] = unquoted
	}
	if len(args) == 0 {
		return nil, false
	}
	return args, true
}

// splitTopLevel splits on commas that are not inside quotes.
func splitTopLevel(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ',':
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	first, last := s[0], s[len(s)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		inner := s[1 : len(s)-1]
		if strings.IndexByte(inner, first) >= 0 {
			return "", false
		}
		return inner, true
	}
	return "", false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
