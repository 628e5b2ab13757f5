package service

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/store"
	"go.uber.org/zap"
)

func newTestKnowledge() *KnowledgeService {
	return NewKnowledgeService(nil, nil, zap.NewNop())
}

func addFact(t *testing.T, svc *KnowledgeService, factType string, strength domain.EvidenceStrength, status domain.FactStatus, tags []string) string {
	t.Helper()
	id, err := svc.AddFact(factType, domain.ScalarValue("value"),
		domain.NewEvidence("test", "observed", strength), status, tags, nil)
	if err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	return id
}

func TestAddFact_Validation(t *testing.T) {
	svc := newTestKnowledge()

	if _, err := svc.AddFact("", domain.ScalarValue("x"),
		domain.NewEvidence("s", "c", domain.StrengthStrong), "", nil, nil); !errors.Is(err, ErrFactTypeEmpty) {
		t.Errorf("empty fact_type: got %v, want ErrFactTypeEmpty", err)
	}

	if _, err := svc.AddFact("file_exists", domain.ScalarValue("x"),
		domain.NewEvidence("s", "c", domain.StrengthStrong), "bogus", nil, nil); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bogus status: got %v, want ErrInvalidStatus", err)
	}

	// Empty status defaults to verified
	id := addFact(t, svc, "file_exists", domain.StrengthStrong, "", nil)
	facts := svc.FactsByType("file_exists", 0)
	if len(facts) != 1 || facts[0].ID != id {
		t.Fatalf("FactsByType returned %d facts", len(facts))
	}
	if facts[0].Status != domain.StatusVerified {
		t.Errorf("default status = %s, want verified", facts[0].Status)
	}
}

func TestAddEvidence_PoolsConfidence(t *testing.T) {
	svc := newTestKnowledge()
	id := addFact(t, svc, "file_exists", domain.StrengthWeak, domain.StatusUncertain, nil)

	// weak seed = 0.30, pooling in another weak: 1-(0.7*0.7) = 0.51
	if err := svc.AddEvidence(id, domain.NewEvidence("test", "again", domain.StrengthWeak)); err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}

	fact := svc.FactsByType("file_exists", 0)[0]
	if math.Abs(fact.Confidence-0.51) > 1e-9 {
		t.Errorf("pooled confidence = %v, want 0.51", fact.Confidence)
	}
	if fact.Status != domain.StatusAssumed {
		t.Errorf("status = %s, want assumed at 0.51", fact.Status)
	}
	if len(fact.Evidences) != 2 {
		t.Errorf("evidences = %d, want 2", len(fact.Evidences))
	}
}

func TestAddEvidence_PoolingNeverDecreases(t *testing.T) {
	svc := newTestKnowledge()
	id := addFact(t, svc, "file_exists", domain.StrengthStrong, domain.StatusVerified, nil)

	// 0.9 seed, weak follow-up: 1-(0.1*0.7) = 0.93
	if err := svc.AddEvidence(id, domain.NewEvidence("test", "weak later", domain.StrengthWeak)); err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}

	fact := svc.FactsByType("file_exists", 0)[0]
	if fact.Confidence < 0.9 {
		t.Errorf("weak evidence dropped confidence to %v", fact.Confidence)
	}
	if fact.Status != domain.StatusVerified {
		t.Errorf("status = %s, want verified", fact.Status)
	}
}

func TestAddEvidence_ConfidenceCapped(t *testing.T) {
	svc := newTestKnowledge()
	id := addFact(t, svc, "file_exists", domain.StrengthConclusive, domain.StatusVerified, nil)

	for i := 0; i < 10; i++ {
		if err := svc.AddEvidence(id, domain.NewEvidence("test", "more", domain.StrengthConclusive)); err != nil {
			t.Fatalf("AddEvidence: %v", err)
		}
	}

	fact := svc.FactsByType("file_exists", 0)[0]
	if fact.Confidence > MaxConfidence {
		t.Errorf("confidence %v exceeds cap %v", fact.Confidence, MaxConfidence)
	}
}

func TestAddEvidence_StatusThresholds(t *testing.T) {
	tests := []struct {
		confidence float64
		want       domain.FactStatus
	}{
		{0.95, domain.StatusVerified},
		{0.9, domain.StatusVerified},
		{0.6, domain.StatusAssumed},
		{0.5, domain.StatusAssumed},
		{0.4, domain.StatusUncertain},
		{0.3, domain.StatusUncertain},
		{0.2, domain.StatusRefuted},
	}
	for _, tt := range tests {
		if got := domain.StatusForConfidence(tt.confidence); got != tt.want {
			t.Errorf("StatusForConfidence(%v) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestAddEvidence_NotFound(t *testing.T) {
	svc := newTestKnowledge()
	err := svc.AddEvidence("nope", domain.NewEvidence("s", "c", domain.StrengthWeak))
	if !errors.Is(err, ErrFactNotFound) {
		t.Errorf("got %v, want ErrFactNotFound", err)
	}
}

func TestDependencyChain_Order(t *testing.T) {
	svc := newTestKnowledge()
	a := addFact(t, svc, "dir_exists", domain.StrengthStrong, domain.StatusVerified, nil)
	b := addFact(t, svc, "file_exists", domain.StrengthStrong, domain.StatusVerified, nil)
	c := addFact(t, svc, "file_readable", domain.StrengthStrong, domain.StatusVerified, nil)

	if err := svc.AddDependency(b, a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := svc.AddDependency(c, b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	chain, err := svc.DependencyChain(c)
	if err != nil {
		t.Fatalf("DependencyChain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	// Dependencies come before the facts that need them
	if chain[0].ID != a || chain[1].ID != b || chain[2].ID != c {
		t.Errorf("chain order = [%s %s %s], want [a b c]", chain[0].ID, chain[1].ID, chain[2].ID)
	}
}

func TestDependencyChain_CycleSafe(t *testing.T) {
	svc := newTestKnowledge()
	a := addFact(t, svc, "x", domain.StrengthStrong, domain.StatusVerified, nil)
	b := addFact(t, svc, "y", domain.StrengthStrong, domain.StatusVerified, nil)

	if err := svc.AddDependency(a, b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := svc.AddDependency(b, a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	chain, err := svc.DependencyChain(a)
	if err != nil {
		t.Fatalf("DependencyChain on cycle: %v", err)
	}
	if len(chain) != 2 {
		t.Errorf("cyclic chain length = %d, want 2", len(chain))
	}
}

// Confidence pooling never decreases, so a refutation transition cannot be
// reached through AddEvidence alone; the cascade is exercised directly.
func TestCascade_RefutationMarksTransitiveDependents(t *testing.T) {
	svc := newTestKnowledge()
	base := addFact(t, svc, "dir_exists", domain.StrengthModerate, domain.StatusAssumed, nil)
	mid := addFact(t, svc, "file_exists", domain.StrengthStrong, domain.StatusVerified, nil)
	top := addFact(t, svc, "file_readable", domain.StrengthStrong, domain.StatusVerified, nil)
	sibling := addFact(t, svc, "dir_writable", domain.StrengthStrong, domain.StatusRefuted, nil)

	if err := svc.AddDependency(mid, base); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := svc.AddDependency(top, mid); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := svc.AddDependency(sibling, base); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	svc.mu.Lock()
	svc.facts[base].Status = domain.StatusRefuted
	svc.cascadeLocked(base, domain.StatusRefuted)
	svc.mu.Unlock()

	if got := svc.FactsByType("file_exists", 0)[0].Status; got != domain.StatusUncertain {
		t.Errorf("direct dependent status = %s, want uncertain", got)
	}
	if got := svc.FactsByType("file_readable", 0)[0].Status; got != domain.StatusUncertain {
		t.Errorf("transitive dependent status = %s, want uncertain", got)
	}
	// Already-refuted dependents are left alone
	if got := svc.FactsByType("dir_writable", 0)[0].Status; got != domain.StatusRefuted {
		t.Errorf("refuted dependent status = %s, want refuted", got)
	}
}

func TestCascade_CycleTerminates(t *testing.T) {
	svc := newTestKnowledge()
	a := addFact(t, svc, "x", domain.StrengthStrong, domain.StatusVerified, nil)
	b := addFact(t, svc, "y", domain.StrengthStrong, domain.StatusVerified, nil)
	if err := svc.AddDependency(a, b); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := svc.AddDependency(b, a); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	svc.mu.Lock()
	svc.facts[a].Status = domain.StatusRefuted
	svc.cascadeLocked(a, domain.StatusRefuted)
	svc.mu.Unlock()

	if got := svc.FactsByType("y", 0)[0].Status; got != domain.StatusUncertain {
		t.Errorf("dependent in cycle = %s, want uncertain", got)
	}
}

func TestValidateDependencies(t *testing.T) {
	svc := newTestKnowledge()
	dep := addFact(t, svc, "dir_exists", domain.StrengthStrong, domain.StatusRefuted, nil)
	fact := addFact(t, svc, "file_exists", domain.StrengthStrong, domain.StatusVerified, nil)
	if err := svc.AddDependency(fact, dep); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	valid, problems, err := svc.ValidateDependencies(fact)
	if err != nil {
		t.Fatalf("ValidateDependencies: %v", err)
	}
	if valid {
		t.Error("expected invalid with refuted dependency")
	}
	if len(problems) != 1 || problems[0] != "refuted dependency: "+dep {
		t.Errorf("problems = %v", problems)
	}

	valid, problems, err = svc.ValidateDependencies(dep)
	if err != nil {
		t.Fatalf("ValidateDependencies: %v", err)
	}
	if !valid || len(problems) != 0 {
		t.Errorf("dependency-free fact: valid=%v problems=%v", valid, problems)
	}
}

func TestRecordFailure_CreatesRefutedFactAndLog(t *testing.T) {
	svc := newTestKnowledge()

	id, err := svc.RecordFailure("execute_command",
		map[string]string{"command": "rm -rf /"}, "User rejected the command", "cleanup")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	facts := svc.FactsByType("tool_rejection", 0)
	if len(facts) != 1 || facts[0].ID != id {
		t.Fatalf("tool_rejection facts = %d", len(facts))
	}
	if facts[0].Status != domain.StatusRefuted {
		t.Errorf("status = %s, want refuted", facts[0].Status)
	}
	if !facts[0].HasTag("user_rejection") {
		t.Error("missing user_rejection tag")
	}

	failures := svc.QueryFailures("execute_command")
	if len(failures) != 1 || failures[0].ErrorMessage != "User rejected the command" {
		t.Errorf("QueryFailures = %+v", failures)
	}
	if got := svc.QueryFailures("other_tool"); len(got) != 0 {
		t.Errorf("unrelated tool failures = %d, want 0", len(got))
	}

	sketches := svc.FailureSketches()
	if len(sketches) != 1 || sketches[0].Tool != "execute_command" {
		t.Fatalf("sketches = %+v", sketches)
	}
	if len(sketches[0].ArgKeys) != 1 || sketches[0].ArgKeys[0] != "command" {
		t.Errorf("sketch arg keys = %v", sketches[0].ArgKeys)
	}
}

func TestRecordFailure_SketchTruncatesOnRuneBoundary(t *testing.T) {
	svc := newTestKnowledge()

	// 81 bytes, no colon: truncation lands mid-rune unless it backs up.
	message := "x" + strings.Repeat("é", 40)
	if _, err := svc.RecordFailure("read_file", nil, message, ""); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	sketches := svc.FailureSketches()
	if len(sketches) != 1 {
		t.Fatalf("sketches = %d, want 1", len(sketches))
	}
	errType := sketches[0].ErrorType
	if len(errType) > 50 {
		t.Errorf("error type is %d bytes, want <= 50", len(errType))
	}
	if !utf8.ValidString(errType) {
		t.Errorf("error type is not valid UTF-8: %q", errType)
	}
}

func TestMarkVerifiedAndIsVerified(t *testing.T) {
	svc := newTestKnowledge()

	if svc.IsVerified("current_directory") {
		t.Error("IsVerified on empty graph")
	}

	_, err := svc.MarkVerified("current_directory",
		domain.ScalarValue("/home/user/project"), "pwd output", "shell", 0.95)
	if err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	if !svc.IsVerified("current_directory") {
		t.Error("IsVerified = false after MarkVerified")
	}

	fact := svc.FactsByType("current_directory", 0)[0]
	if fact.Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9 from strength ladder", fact.Confidence)
	}
}

func TestState_TopVerifiedAndRecentFailures(t *testing.T) {
	svc := newTestKnowledge()

	for i := 0; i < 7; i++ {
		addFact(t, svc, "file_exists", domain.StrengthConclusive, domain.StatusVerified, nil)
	}
	for i := 0; i < 4; i++ {
		if _, err := svc.RecordFailure("execute_command", nil, "rejected", ""); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	state := svc.State()
	if len(state.Verified) != 5 {
		t.Errorf("verified = %d, want 5", len(state.Verified))
	}
	if len(state.Failures) != 3 {
		t.Errorf("failures = %d, want 3", len(state.Failures))
	}
}

func TestPersistence_ReloadRebuildsIndexesAndFailureLog(t *testing.T) {
	st := store.NewKnowledgeStore(filepath.Join(t.TempDir(), "knowledge.json"))
	src := NewKnowledgeService(st, nil, zap.NewNop())

	addFact(t, src, "file_exists", domain.StrengthStrong, domain.StatusVerified,
		[]string{"file_operations"})
	addFact(t, src, "dir_exists", domain.StrengthModerate, domain.StatusAssumed,
		[]string{"file_operations", "setup"})
	if _, err := src.RecordFailure("execute_command",
		map[string]string{"command": "ls"}, "permission denied", ""); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	src.Save()

	dst := NewKnowledgeService(st, nil, zap.NewNop())
	dst.Load()

	src.mu.Lock()
	wantType := sortedIndex(src.typeIndex)
	wantContext := sortedIndex(src.contextIndex)
	wantFailures := len(src.failures)
	src.mu.Unlock()

	dst.mu.Lock()
	gotType := sortedIndex(dst.typeIndex)
	gotContext := sortedIndex(dst.contextIndex)
	gotFailures := len(dst.failures)
	dst.mu.Unlock()

	if !reflect.DeepEqual(gotType, wantType) {
		t.Errorf("type index after reload = %v, want %v", gotType, wantType)
	}
	if !reflect.DeepEqual(gotContext, wantContext) {
		t.Errorf("context index after reload = %v, want %v", gotContext, wantContext)
	}
	if gotFailures != wantFailures {
		t.Errorf("failure log after reload = %d entries, want %d", gotFailures, wantFailures)
	}
	if got := dst.QueryFailures("execute_command"); len(got) != 1 {
		t.Errorf("QueryFailures after reload = %d entries, want 1", len(got))
	}
}

// sortedIndex copies an id index with sorted value lists so comparisons do
// not depend on map iteration order.
func sortedIndex(index map[string][]string) map[string][]string {
	out := make(map[string][]string, len(index))
	for key, ids := range index {
		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		out[key] = sorted
	}
	return out
}

type recordingSink struct {
	events []domain.KnowledgeEvent
}

func (s *recordingSink) OnKnowledgeEvent(e domain.KnowledgeEvent) {
	s.events = append(s.events, e)
}

type panickySink struct{}

func (panickySink) OnKnowledgeEvent(domain.KnowledgeEvent) { panic("sink exploded") }

func TestTelemetry_EmittedOncePerMutation(t *testing.T) {
	sink := &recordingSink{}
	svc := NewKnowledgeService(nil, sink, zap.NewNop())

	id := addFact(t, svc, "file_exists", domain.StrengthStrong, domain.StatusVerified, nil)
	if err := svc.AddEvidence(id, domain.NewEvidence("t", "c", domain.StrengthWeak)); err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	if sink.events[0].EventType != domain.EventFactAdded {
		t.Errorf("first event = %s, want fact_added", sink.events[0].EventType)
	}
	if sink.events[1].EventType != domain.EventEvidenceAdded {
		t.Errorf("second event = %s, want evidence_added", sink.events[1].EventType)
	}
	if sink.events[1].Evidence == nil {
		t.Error("evidence_added carries no evidence")
	}
}

func TestTelemetry_PanickingSinkIsIsolated(t *testing.T) {
	svc := NewKnowledgeService(nil, panickySink{}, zap.NewNop())

	id, err := svc.AddFact("file_exists", domain.ScalarValue("x"),
		domain.NewEvidence("t", "c", domain.StrengthStrong), domain.StatusVerified, nil, nil)
	if err != nil {
		t.Fatalf("AddFact with panicking sink: %v", err)
	}
	if len(svc.FactsByType("file_exists", 0)) != 1 {
		t.Error("mutation lost after sink panic")
	}
	_ = id
}
