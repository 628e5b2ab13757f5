package service

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/store"
	"go.uber.org/zap"
)

var (
	ErrFactNotFound    = errors.New("fact not found")
	ErrFactTypeEmpty   = errors.New("fact_type is required")
	ErrInvalidStatus   = errors.New("invalid fact status")
	ErrInvalidStrength = errors.New("invalid evidence strength")
)

const (
	// MaxConfidence keeps pooling well-defined: confidence never reaches 1.0.
	MaxConfidence = 0.999
	// PersistDebounce is the minimum interval between snapshot writes.
	PersistDebounce = 1 * time.Second
	// failureSketchCap bounds the failure fingerprint ring.
	failureSketchCap = 10_000
)

// KnowledgeService owns the fact map and its derived indices. All mutations
// run under one coarse mutex; reads go through the same lock. Telemetry is
// emitted outside the lock, after the mutation committed.
type KnowledgeService struct {
	mu sync.Mutex

	facts        map[string]*domain.Fact
	typeIndex    map[string][]string
	contextIndex map[string][]string

	// Legacy flat failure log consumed by the risk heuristics. Derived
	// state: rebuilt from tool_rejection facts on load.
	failures []domain.FailureRecord
	sketches []domain.FailureSketch

	query *QueryEngine
	risk  *RiskAnalyzer

	sink   domain.EventSink
	store  *store.KnowledgeStore
	logger *zap.Logger

	dirty    bool
	lastSave time.Time
}

// NewKnowledgeService builds an empty graph. Passing a nil store disables
// persistence; passing a nil sink disables telemetry.
func NewKnowledgeService(st *store.KnowledgeStore, sink domain.EventSink, logger *zap.Logger) *KnowledgeService {
	s := &KnowledgeService{
		facts:        make(map[string]*domain.Fact),
		typeIndex:    make(map[string][]string),
		contextIndex: make(map[string][]string),
		sink:         sink,
		store:        st,
		logger:       logger,
	}
	s.query = NewQueryEngine(s.facts, s.typeIndex, s.contextIndex)
	s.risk = NewRiskAnalyzer(s.facts, s.typeIndex)
	return s
}

// AddFact creates and indexes a fact seeded with one evidence, emits
// fact_added telemetry, and schedules a debounced save.
func (s *KnowledgeService) AddFact(factType string, value domain.FactValue, evidence domain.Evidence, status domain.FactStatus, contextTags, dependsOn []string) (string, error) {
	if factType == "" {
		return "", ErrFactTypeEmpty
	}
	if status == "" {
		status = domain.StatusVerified
	}
	if !domain.ValidFactStatus(string(status)) {
		return "", ErrInvalidStatus
	}

	fact := domain.NewFact(factType, value, evidence, status, contextTags, dependsOn)

	s.mu.Lock()
	s.facts[fact.ID] = fact
	s.indexFact(fact)
	data := s.snapshotLocked(false)
	s.mu.Unlock()

	s.emit(domain.KnowledgeEvent{
		EventType:   domain.EventFactAdded,
		FactID:      fact.ID,
		FactType:    factType,
		Value:       value,
		Status:      status,
		ContextTags: contextTags,
		Timestamp:   time.Now(),
	})
	s.writeSnapshot(data)
	return fact.ID, nil
}

// AddEvidence appends evidence to a fact, pools confidence, recomputes the
// status from the fixed thresholds, and cascades a fresh refutation through
// the fact's dependents.
func (s *KnowledgeService) AddEvidence(factID string, evidence domain.Evidence) error {
	s.mu.Lock()
	fact, ok := s.facts[factID]
	if !ok {
		s.mu.Unlock()
		return ErrFactNotFound
	}

	oldStatus := fact.Status
	fact.Evidences = append(fact.Evidences, evidence)
	fact.UpdatedAt = evidence.Timestamp

	// Pool confidences instead of taking the max so later weak evidence
	// cannot drop an established fact.
	pooled := 1 - (1-fact.Confidence)*(1-evidence.Strength.Weight())
	fact.Confidence = min(pooled, MaxConfidence)

	newStatus := domain.StatusForConfidence(fact.Confidence)
	if newStatus != oldStatus {
		s.logger.Info("fact status changed",
			zap.String("fact_id", factID),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(newStatus)))
		fact.Status = newStatus
		s.cascadeLocked(factID, newStatus)
	}

	data := s.snapshotLocked(false)
	s.mu.Unlock()

	s.emit(domain.KnowledgeEvent{
		EventType: domain.EventEvidenceAdded,
		FactID:    factID,
		Evidence:  &evidence,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Timestamp: time.Now(),
	})
	s.writeSnapshot(data)
	return nil
}

// AddDependency links fact -> dep in both directions. Idempotent.
func (s *KnowledgeService) AddDependency(factID, dependsOnID string) error {
	s.mu.Lock()
	fact, ok := s.facts[factID]
	if !ok {
		s.mu.Unlock()
		return ErrFactNotFound
	}
	dep, ok := s.facts[dependsOnID]
	if !ok {
		s.mu.Unlock()
		return ErrFactNotFound
	}

	var data []byte
	if !contains(fact.DependsOn, dependsOnID) {
		fact.DependsOn = append(fact.DependsOn, dependsOnID)
		if !contains(dep.RequiredFor, factID) {
			dep.RequiredFor = append(dep.RequiredFor, factID)
		}
		data = s.snapshotLocked(false)
	}
	s.mu.Unlock()

	s.writeSnapshot(data)
	return nil
}

// DependencyChain returns the fact's transitive dependencies in
// dependencies-before-self order. The visited set bounds traversal, so a
// cyclic graph is safe to walk.
func (s *KnowledgeService) DependencyChain(factID string) ([]*domain.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facts[factID]; !ok {
		return nil, ErrFactNotFound
	}

	visited := make(map[string]bool)
	var chain []*domain.Fact
	var collect func(id string)
	collect = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		fact, ok := s.facts[id]
		if !ok {
			return
		}
		for _, depID := range fact.DependsOn {
			collect(depID)
		}
		chain = append(chain, cloneFact(fact))
	}
	collect(factID)
	return chain, nil
}

// ValidateDependencies flags missing or refuted dependencies without fixing
// anything; the caller decides what to do.
func (s *KnowledgeService) ValidateDependencies(factID string) (bool, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fact, ok := s.facts[factID]
	if !ok {
		return false, nil, ErrFactNotFound
	}

	var problems []string
	for _, depID := range fact.DependsOn {
		dep, ok := s.facts[depID]
		switch {
		case !ok:
			problems = append(problems, "missing dependency: "+depID)
		case dep.Status == domain.StatusRefuted:
			problems = append(problems, "refuted dependency: "+depID)
		}
	}
	return len(problems) == 0, problems, nil
}

// RecordFailure creates a weak-evidence, refuted tool_rejection fact.
// Indexing the fact appends the matching legacy failure log entry.
func (s *KnowledgeService) RecordFailure(toolName string, arguments map[string]string, errorMessage, contextSummary string) (string, error) {
	s.mu.Lock()
	s.recordSketchLocked(toolName, arguments, errorMessage)
	s.mu.Unlock()

	ev := domain.NewEvidence("tool_execution",
		"Tool '"+toolName+"' rejected: "+errorMessage, domain.StrengthWeak)
	ev.ToolUsed = toolName
	ev.ToolArgs = arguments
	ev.ToolResult = "rejected: " + contextSummary

	return s.AddFact("tool_rejection",
		domain.ToolValue(domain.ToolOutcomeValue{Tool: toolName, Args: arguments, Reason: errorMessage}),
		ev, domain.StatusRefuted,
		[]string{"tool_execution", "user_rejection"}, nil)
}

// MarkVerified is a convenience wrapper that seeds a verified fact from a
// confidence score, choosing the evidence strength from the ladder.
func (s *KnowledgeService) MarkVerified(factType string, value domain.FactValue, content, source string, confidence float64) (string, error) {
	ev := domain.NewEvidence(source, content, domain.StrengthForConfidence(confidence))
	return s.AddFact(factType, value, ev, domain.StatusVerified, []string{source}, nil)
}

// IsVerified reports whether any fact of the given type is verified.
func (s *KnowledgeService) IsVerified(factType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.typeIndex[factType] {
		if f, ok := s.facts[id]; ok && f.Status == domain.StatusVerified {
			return true
		}
	}
	return false
}

// QueryFailures returns the legacy failure log entries for one tool.
func (s *KnowledgeService) QueryFailures(toolName string) []domain.FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FailureRecord
	for _, f := range s.failures {
		if f.ToolName == toolName {
			out = append(out, f)
		}
	}
	return out
}

// State returns the structured knowledge-state view: the five most recently
// updated verified facts and the three most recent failures.
func (s *KnowledgeService) State() domain.KnowledgeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var verified, refuted []*domain.Fact
	for _, f := range s.facts {
		switch f.Status {
		case domain.StatusVerified:
			verified = append(verified, f)
		case domain.StatusRefuted:
			refuted = append(refuted, f)
		}
	}
	sort.Slice(verified, func(i, j int) bool { return verified[i].UpdatedAt.After(verified[j].UpdatedAt) })
	sort.Slice(refuted, func(i, j int) bool { return refuted[i].UpdatedAt.After(refuted[j].UpdatedAt) })

	state := domain.KnowledgeState{}
	for _, f := range verified[:min(len(verified), 5)] {
		state.Verified = append(state.Verified, domain.StateFact{
			FactType:   f.FactType,
			Value:      f.Value,
			Confidence: f.Confidence,
		})
	}
	for _, f := range refuted[:min(len(refuted), 3)] {
		if tool := f.Value.Tool; tool != nil {
			state.Failures = append(state.Failures, domain.KnownFailure{
				Tool:   tool.Tool,
				Reason: tool.Reason,
				Args:   tool.Args,
			})
		}
	}
	return state
}

// ---------- Query / planning delegates ----------

func (s *KnowledgeService) FactsByType(factType string, minConfidence float64) []*domain.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.ByType(factType, minConfidence)
}

func (s *KnowledgeService) FactsByContext(tags []string, minConfidence float64) []*domain.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.ByContext(tags, minConfidence)
}

func (s *KnowledgeService) BuildActionPlan(goal string, contextTags []string) domain.ActionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.BuildActionPlan(goal, contextTags)
}

func (s *KnowledgeService) ContextSummary(contextTags []string) domain.ContextSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query.ContextSummary(contextTags)
}

// ---------- Risk delegates ----------

func (s *KnowledgeService) ShouldRetry(toolName string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk.ShouldRetry(toolName)
}

func (s *KnowledgeService) RelevantContext(intent string) domain.RelevantContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk.RelevantContext(intent)
}

func (s *KnowledgeService) PredictFailureRisks(proposedAction string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk.PredictFailureRisks(proposedAction)
}

func (s *KnowledgeService) SuggestVerificationSteps(proposedAction string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk.SuggestVerificationSteps(proposedAction)
}

// ---------- Persistence ----------

// Load replaces in-memory state with the on-disk snapshot and rebuilds the
// indices and the legacy failure log. A missing or malformed file starts
// from empty state; both are logged, neither is fatal.
func (s *KnowledgeService) Load() {
	if s.store == nil {
		return
	}

	facts, err := s.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			s.logger.Debug("no knowledge snapshot, starting empty",
				zap.String("path", s.store.Path()))
		} else {
			s.logger.Warn("knowledge snapshot load failed, starting empty",
				zap.String("path", s.store.Path()), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.facts)
	for id, fact := range facts {
		s.facts[id] = fact
	}
	s.rebuildIndexesLocked()
	s.logger.Info("knowledge snapshot loaded",
		zap.Int("facts", len(s.facts)), zap.String("path", s.store.Path()))
}

// Save forces an immediate snapshot write.
func (s *KnowledgeService) Save() {
	s.mu.Lock()
	data := s.snapshotLocked(true)
	s.mu.Unlock()
	s.writeSnapshot(data)
}

// FlushPending writes the snapshot if a debounced save is outstanding.
// Called by the background flusher.
func (s *KnowledgeService) FlushPending() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	data := s.snapshotLocked(true)
	s.mu.Unlock()
	s.writeSnapshot(data)
}

// Close flushes pending changes.
func (s *KnowledgeService) Close() {
	s.Save()
}

func (s *KnowledgeService) Name() string { return "knowledge" }

// ---------- Internal ----------

func (s *KnowledgeService) indexFact(fact *domain.Fact) {
	s.typeIndex[fact.FactType] = append(s.typeIndex[fact.FactType], fact.ID)
	for _, tag := range fact.ContextTags {
		s.contextIndex[tag] = append(s.contextIndex[tag], fact.ID)
	}
	if fact.FactType == "tool_rejection" && fact.Value.Tool != nil {
		s.failures = append(s.failures, domain.FailureRecord{
			ToolName:     fact.Value.Tool.Tool,
			Arguments:    fact.Value.Tool.Args,
			ErrorMessage: fact.Value.Tool.Reason,
		})
	}
}

func (s *KnowledgeService) rebuildIndexesLocked() {
	clear(s.typeIndex)
	clear(s.contextIndex)
	s.failures = s.failures[:0]
	for _, fact := range s.facts {
		s.indexFact(fact)
	}
}

// cascadeLocked propagates a fresh refutation: every dependent that is not
// itself refuted becomes uncertain, transitively. The visited set is the
// cycle guard; the graph is not guaranteed acyclic.
func (s *KnowledgeService) cascadeLocked(factID string, newStatus domain.FactStatus) {
	if newStatus != domain.StatusRefuted {
		return
	}

	visited := map[string]bool{factID: true}
	queue := append([]string(nil), s.facts[factID].RequiredFor...)
	for len(queue) > 0 {
		depID := queue[0]
		queue = queue[1:]
		if visited[depID] {
			continue
		}
		visited[depID] = true

		dependent, ok := s.facts[depID]
		if !ok || dependent.Status == domain.StatusRefuted {
			continue
		}
		s.logger.Info("cascading refutation",
			zap.String("fact_id", depID),
			zap.String("refuted_dependency", factID))
		dependent.Status = domain.StatusUncertain
		queue = append(queue, dependent.RequiredFor...)
	}
}

func (s *KnowledgeService) recordSketchLocked(toolName string, arguments map[string]string, errorMessage string) {
	keys := make([]string, 0, len(arguments))
	for k := range arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errType := errorMessage
	if idx := strings.IndexByte(errorMessage, ':'); idx >= 0 {
		errType = errorMessage[:idx]
	} else if len(errType) > 50 {
		cut := 50
		for cut > 0 && !utf8.RuneStart(errType[cut]) {
			cut--
		}
		errType = errType[:cut]
	}

	s.sketches = append(s.sketches, domain.FailureSketch{
		Tool:      toolName,
		ArgKeys:   keys,
		ErrorType: errType,
		Timestamp: time.Now(),
	})
	if len(s.sketches) > failureSketchCap {
		s.sketches = s.sketches[len(s.sketches)-failureSketchCap:]
	}
}

// FailureSketches returns a copy of the bounded failure fingerprint ring.
func (s *KnowledgeService) FailureSketches() []domain.FailureSketch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FailureSketch(nil), s.sketches...)
}

// emit delivers telemetry fire-and-forget. A panicking sink must not take
// the graph down with it.
func (s *KnowledgeService) emit(event domain.KnowledgeEvent) {
	if s.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("telemetry sink panicked", zap.Any("panic", r))
		}
	}()
	s.sink.OnKnowledgeEvent(event)
}

// snapshotLocked serializes current state under the lock. Returns nil when
// the write is debounced (dirty flag set instead) or persistence is off.
func (s *KnowledgeService) snapshotLocked(force bool) []byte {
	if s.store == nil {
		return nil
	}
	now := time.Now()
	if !force && now.Sub(s.lastSave) < PersistDebounce {
		s.dirty = true
		return nil
	}
	data, err := s.store.Encode(s.facts)
	if err != nil {
		s.logger.Warn("knowledge snapshot encode failed", zap.Error(err))
		return nil
	}
	s.lastSave = now
	s.dirty = false
	return data
}

// writeSnapshot performs the disk write outside the lock. I/O failures are
// logged and swallowed; in-memory state stays authoritative.
func (s *KnowledgeService) writeSnapshot(data []byte) {
	if data == nil || s.store == nil {
		return
	}
	if err := s.store.Write(data); err != nil {
		s.logger.Warn("knowledge snapshot write failed",
			zap.String("path", s.store.Path()), zap.Error(err))
	}
}

func cloneFact(f *domain.Fact) *domain.Fact {
	c := *f
	c.Evidences = append([]domain.Evidence(nil), f.Evidences...)
	c.DependsOn = append([]string(nil), f.DependsOn...)
	c.RequiredFor = append([]string(nil), f.RequiredFor...)
	c.ContextTags = append([]string(nil), f.ContextTags...)
	return &c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

