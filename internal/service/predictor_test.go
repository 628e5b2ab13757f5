package service

import (
	"strings"
	"testing"

	"github.com/synaptiq/synapse/internal/domain"
)

func TestPredictBestApproach_RankedTools(t *testing.T) {
	svc := newTestPatterns()
	seedProfile(svc, "read_file", 0.85, 4)
	seedProfile(svc, "show_file", 0.55, 4)

	recs := svc.PredictBestApproach("FILE_READ_INTENT", domain.ContextSnapshot{})

	if len(recs) != 2 {
		t.Fatalf("recommendations = %v", recs)
	}
	var sawRead, sawShow bool
	for _, rec := range recs {
		if strings.HasPrefix(rec, "read_file:") {
			sawRead = true
		}
		if strings.HasPrefix(rec, "show_file:") {
			sawShow = true
		}
	}
	if !sawRead || !sawShow {
		t.Errorf("missing tool recommendations: %v", recs)
	}
}

func TestPredictBestApproach_SequenceBonus(t *testing.T) {
	svc := newTestPatterns()
	seedProfile(svc, "show_file", 0.8, 4)
	seedProfile(svc, "read_file", 0.8, 4)
	seedSequence(svc, "show_file", "read_file", 5, 0)

	recs := svc.PredictBestApproach("FILE_READ_INTENT", domain.ContextSnapshot{})

	found := false
	for _, rec := range recs {
		if strings.Contains(rec, "Sequence pattern: show_file -> read_file") {
			found = true
		}
	}
	if !found {
		t.Errorf("no sequence recommendation in %v", recs)
	}
}

func TestPredictBestApproach_NoData(t *testing.T) {
	svc := newTestPatterns()

	recs := svc.PredictBestApproach("FILE_WRITE_INTENT", domain.ContextSnapshot{})
	if len(recs) != 1 || !strings.Contains(recs[0], "No historical data") {
		t.Errorf("recs = %v", recs)
	}

	recs = svc.PredictBestApproach("UNKNOWN_INTENT", domain.ContextSnapshot{})
	if len(recs) != 1 || !strings.Contains(recs[0], "proceed with caution") {
		t.Errorf("unknown intent recs = %v", recs)
	}
}

func TestIdentifyCommonMistakes(t *testing.T) {
	svc := newTestPatterns()

	// Four not-found failures on a FILE_READ_INTENT tool: both the
	// per-tool failure mode and the aggregate not-found heuristic fire.
	for i := 0; i < 4; i++ {
		if _, err := svc.RecordInteraction(InteractionInput{
			ToolName:     "read_file",
			Outcome:      domain.OutcomeFailure,
			ErrorMessage: "file not found",
		}); err != nil {
			t.Fatalf("RecordInteraction: %v", err)
		}
	}

	mistakes := svc.IdentifyCommonMistakes("FILE_READ_INTENT")

	var sawMode, sawNotFound bool
	for _, m := range mistakes {
		if strings.Contains(m, "resource_not_found with read_file") {
			sawMode = true
		}
		if strings.Contains(m, "File not found errors (4 occurrences)") {
			sawNotFound = true
		}
	}
	if !sawMode {
		t.Errorf("missing failure-mode mistake in %v", mistakes)
	}
	if !sawNotFound {
		t.Errorf("missing not-found aggregate in %v", mistakes)
	}
	if len(mistakes) > 5 {
		t.Errorf("mistakes = %d, want at most 5", len(mistakes))
	}
}

func TestIdentifyCommonMistakes_QuietWithoutData(t *testing.T) {
	svc := newTestPatterns()
	if got := svc.IdentifyCommonMistakes("FILE_WRITE_INTENT"); len(got) != 0 {
		t.Errorf("mistakes on empty analyzer = %v", got)
	}
}

func TestSuccessSequence_BestObservedPair(t *testing.T) {
	svc := newTestPatterns()
	seedSequence(svc, "list_files", "read_file", 9, 1)
	seedSequence(svc, "show_file", "edit_file", 5, 5) // below rate bar
	seedSequence(svc, "grep", "edit_file", 2, 0)      // below sample bar

	steps := svc.SuccessSequence("inspect the config")

	if len(steps) != 3 {
		t.Fatalf("steps = %v", steps)
	}
	if !strings.Contains(steps[0], "list_files") || !strings.Contains(steps[1], "read_file") {
		t.Errorf("steps = %v", steps)
	}
	if !strings.Contains(steps[2], "90%") {
		t.Errorf("confidence line = %q", steps[2])
	}
}

func TestSuccessSequence_KeywordFallbacks(t *testing.T) {
	svc := newTestPatterns()

	steps := svc.SuccessSequence("read the readme")
	if !strings.Contains(steps[1], "read_file") {
		t.Errorf("read fallback = %v", steps)
	}

	steps = svc.SuccessSequence("create a new module")
	if !strings.Contains(steps[1], "create_file") {
		t.Errorf("create fallback = %v", steps)
	}

	steps = svc.SuccessSequence("deploy to production")
	if len(steps) != 1 || !strings.Contains(steps[0], "No specific sequence pattern") {
		t.Errorf("generic fallback = %v", steps)
	}
}
