package service

import (
	"math"
	"strings"
	"testing"

	"github.com/synaptiq/synapse/internal/domain"
)

func seedSequence(svc *PatternService, first, second string, successes, failures int) {
	svc.mu.Lock()
	svc.sequences[domain.SequenceKey{First: first, Second: second}] = &domain.SequencePattern{
		Successes:  successes,
		Failures:   failures,
		TotalCount: successes + failures,
	}
	svc.mu.Unlock()
}

func seedProfile(svc *PatternService, name string, rate float64, uses int) {
	svc.mu.Lock()
	profile := domain.NewToolProfile(name, 1.0)
	profile.SuccessRate = rate
	svc.toolProfiles[name] = profile
	for i := 0; i < uses; i++ {
		id := name + "-" + string(rune('a'+i))
		svc.interactions[id] = &domain.Interaction{ID: id, ToolName: name, Outcome: domain.OutcomeSuccess}
	}
	svc.mu.Unlock()
}

func TestOptimizeApproach_ReplacesBadSequence(t *testing.T) {
	svc := newTestPatterns()
	seedSequence(svc, "list_files", "edit_file", 1, 9)  // 10% success
	seedSequence(svc, "list_files", "read_file", 8, 1)  // 89% success, well sampled

	result := svc.OptimizeApproach([]string{"list_files", "edit_file"}, domain.ContextSnapshot{}, "")

	if len(result.Optimizations) != 1 {
		t.Fatalf("optimizations = %+v", result.Optimizations)
	}
	sub := result.Optimizations[0]
	if sub.Position != 1 || sub.Original != "edit_file" || sub.Replacement != "read_file" {
		t.Errorf("substitution = %+v", sub)
	}
	if !strings.Contains(sub.Reason, "Low success sequence") {
		t.Errorf("reason = %q", sub.Reason)
	}
	if result.Plan[1] != "read_file" {
		t.Errorf("plan = %v", result.Plan)
	}
	if math.Abs(result.Confidence-0.7) > 1e-9 {
		t.Errorf("confidence = %v, want 0.7 after one substitution", result.Confidence)
	}
}

func TestOptimizeApproach_ReplacesBadTool(t *testing.T) {
	svc := newTestPatterns()
	seedProfile(svc, "show_file", 0.2, 5)
	seedProfile(svc, "read_file", 0.9, 5)

	result := svc.OptimizeApproach([]string{"show_file"}, domain.ContextSnapshot{}, "read config")

	if len(result.Optimizations) != 1 {
		t.Fatalf("optimizations = %+v", result.Optimizations)
	}
	sub := result.Optimizations[0]
	if sub.Original != "show_file" || sub.Replacement != "read_file" {
		t.Errorf("substitution = %+v", sub)
	}
	if !strings.Contains(sub.Reason, "Low success tool") {
		t.Errorf("reason = %q", sub.Reason)
	}
}

func TestOptimizeApproach_NoSubstituteWithoutSamples(t *testing.T) {
	svc := newTestPatterns()
	seedSequence(svc, "list_files", "edit_file", 0, 2) // bad but thin
	seedSequence(svc, "list_files", "read_file", 2, 0) // good but thin

	result := svc.OptimizeApproach([]string{"list_files", "edit_file"}, domain.ContextSnapshot{}, "")

	if len(result.Optimizations) != 0 {
		t.Errorf("substituted on thin data: %+v", result.Optimizations)
	}
	if result.Confidence != 1.0 {
		t.Errorf("unchanged plan confidence = %v, want 1.0", result.Confidence)
	}
}

func TestOptimizeApproach_ConfidenceFloor(t *testing.T) {
	if got := optimizationConfidence(0); got != 1.0 {
		t.Errorf("no subs = %v, want 1.0", got)
	}
	if got := optimizationConfidence(2); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("two subs = %v, want 0.6", got)
	}
	if got := optimizationConfidence(10); got != 0.3 {
		t.Errorf("many subs = %v, want 0.3 floor", got)
	}
}

func TestToolsSimilar(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"read_file", "show_file", true},       // same category
		{"edit_file", "create_file", true},     // same category
		{"search_files", "find_files", true},   // same category
		{"read_file", "edit_file", true},       // shared "file" term
		{"ping", "run_python", false},          // nothing in common
	}
	for _, tt := range tests {
		if got := toolsSimilar(tt.a, tt.b); got != tt.want {
			t.Errorf("toolsSimilar(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
