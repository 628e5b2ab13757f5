package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/store"
	"go.uber.org/zap"
)

var ErrToolNameEmpty = errors.New("tool_name is required")

const (
	// maxArgumentBytes caps serialized interaction arguments; bigger
	// payloads are replaced by a truncation marker.
	maxArgumentBytes = 10_000
	// maxInteractions is the eviction ceiling on retained history.
	maxInteractions = 2_000
	// manageEvery triggers memory management periodically regardless of size.
	manageEvery = 250
	// maxSequencePatterns caps the sequence map; on overflow the top
	// keepSequencePatterns by total count survive.
	maxSequencePatterns  = 10_000
	keepSequencePatterns = 5_000
	// executionTimeAlpha is the EMA factor for average execution time.
	executionTimeAlpha = 0.1
)

// InteractionInput is the caller-facing description of one tool invocation.
type InteractionInput struct {
	ToolName       string
	Arguments      map[string]any
	Outcome        domain.Outcome
	ExecutionTime  float64
	Context        domain.ContextSnapshot
	ErrorMessage   string
	Result         string
	PreConditions  []string
	PostConditions []string
	Confidence     float64
	RetryCount     int
}

// PatternService owns the interaction history, tool profiles, and sequence
// patterns. One coarse mutex serializes mutations; persistence happens
// outside the lock on an already-encoded snapshot.
type PatternService struct {
	mu sync.Mutex

	interactions  map[string]*domain.Interaction
	toolProfiles  map[string]*domain.ToolProfile
	sequences     map[domain.SequenceKey]*domain.SequencePattern
	learningCurve [][2]float64

	sequencer *SequenceAnalyzer
	predictor *Predictor

	store  *store.PatternStore
	logger *zap.Logger

	dirty    bool
	lastSave time.Time
}

// NewPatternService builds an empty analyzer. A nil store disables
// persistence.
func NewPatternService(st *store.PatternStore, logger *zap.Logger) *PatternService {
	s := &PatternService{
		interactions: make(map[string]*domain.Interaction),
		toolProfiles: make(map[string]*domain.ToolProfile),
		sequences:    make(map[domain.SequenceKey]*domain.SequencePattern),
		store:        st,
		logger:       logger,
	}
	s.sequencer = NewSequenceAnalyzer(s.interactions, s.sequences, s.toolProfiles)
	s.predictor = NewPredictor(s.interactions, s.toolProfiles, s.sequences)
	return s
}

// RecordInteraction stores one tool invocation and updates every statistical
// model under the mutation lock. Returns the interaction id.
func (s *PatternService) RecordInteraction(in InteractionInput) (string, error) {
	if in.ToolName == "" {
		return "", ErrToolNameEmpty
	}
	if in.Outcome == "" || !domain.ValidOutcome(string(in.Outcome)) {
		in.Outcome = domain.OutcomeUnclear
	}
	if in.Confidence == 0 {
		in.Confidence = 1.0
	}

	interaction := &domain.Interaction{
		ID:             uuid.NewString(),
		ToolName:       in.ToolName,
		Arguments:      truncateArguments(in.Arguments),
		Outcome:        in.Outcome,
		ExecutionTime:  in.ExecutionTime,
		Timestamp:      time.Now(),
		Context:        normalizeContext(in.Context),
		ErrorMessage:   in.ErrorMessage,
		Result:         in.Result,
		PreConditions:  in.PreConditions,
		PostConditions: in.PostConditions,
		Confidence:     in.Confidence,
		RetryCount:     in.RetryCount,
	}

	s.mu.Lock()
	s.interactions[interaction.ID] = interaction

	s.updateToolProfileLocked(interaction)
	s.sequencer.ObserveTransition(interaction)
	s.sequencer.MinePairs(interaction)
	s.capSequencesLocked()

	if len(s.interactions)%manageEvery == 0 || len(s.interactions) > maxInteractions {
		s.manageMemoryLocked()
	}

	data := s.snapshotLocked(false)
	s.mu.Unlock()

	s.writeSnapshot(data)
	return interaction.ID, nil
}

// OnKnowledgeEvent bridges knowledge telemetry into synthetic interactions:
// tool_success facts become Success interactions, tool_rejection facts
// become Failure interactions. Everything else is ignored. Never panics.
func (s *PatternService) OnKnowledgeEvent(event domain.KnowledgeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("knowledge event handling panicked", zap.Any("panic", r))
		}
	}()

	switch event.EventType {
	case domain.EventFactAdded:
		s.handleFactAdded(event)
	case domain.EventEvidenceAdded:
		// Accepted but unused: evidence changes may adjust pattern
		// confidence in a later revision.
	}
}

func (s *PatternService) handleFactAdded(event domain.KnowledgeEvent) {
	tool := event.Value.Tool
	if tool == nil || tool.Tool == "" {
		return
	}

	args := make(map[string]any, len(tool.Args))
	for k, v := range tool.Args {
		args[k] = v
	}

	switch event.FactType {
	case "tool_success":
		_, err := s.RecordInteraction(InteractionInput{
			ToolName:      tool.Tool,
			Arguments:     args,
			Outcome:       domain.OutcomeSuccess,
			ExecutionTime: tool.ExecutionTime,
			Result:        tool.Result,
		})
		if err != nil {
			s.logger.Warn("synthetic success interaction failed", zap.Error(err))
		}
	case "tool_rejection":
		reason := tool.Reason
		if reason == "" {
			reason = "Unknown"
		}
		_, err := s.RecordInteraction(InteractionInput{
			ToolName:     tool.Tool,
			Arguments:    args,
			Outcome:      domain.OutcomeFailure,
			ErrorMessage: reason,
		})
		if err != nil {
			s.logger.Warn("synthetic failure interaction failed", zap.Error(err))
		}
	}
}

// ToolProfile returns a copy of one tool's statistics.
func (s *PatternService) ToolProfile(toolName string) (domain.ToolProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.toolProfiles[toolName]
	if !ok {
		return domain.ToolProfile{}, false
	}
	return cloneProfile(p), true
}

// InteractionCount reports the retained history size.
func (s *PatternService) InteractionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interactions)
}

// ---------- Prediction delegates ----------

func (s *PatternService) PredictBestApproach(intent string, context domain.ContextSnapshot) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.PredictBestApproach(intent, context)
}

func (s *PatternService) IdentifyCommonMistakes(intent string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.IdentifyCommonMistakes(intent)
}

func (s *PatternService) SuccessSequence(goal string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor.SuccessSequence(goal)
}

func (s *PatternService) OptimizeApproach(plan []string, context domain.ContextSnapshot, goal string) domain.OptimizedPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequencer.OptimizeApproach(plan, context, goal)
}

// ---------- Internal ----------

// updateToolProfileLocked recomputes the profile from the retained history:
// Laplace-smoothed success rate, EMA execution time, nudged context
// preference, and the failure-mode histogram.
func (s *PatternService) updateToolProfileLocked(interaction *domain.Interaction) {
	profile, ok := s.toolProfiles[interaction.ToolName]
	if !ok {
		profile = domain.NewToolProfile(interaction.ToolName, interaction.ExecutionTime)
		s.toolProfiles[interaction.ToolName] = profile
	}

	total, successes := 0, 0
	for _, i := range s.interactions {
		if i.ToolName != interaction.ToolName {
			continue
		}
		total++
		if i.Outcome == domain.OutcomeSuccess {
			successes++
		}
	}
	// Bayesian estimate: (successes+1)/(total+2) keeps unseen tools at 0.5.
	profile.SuccessRate = float64(successes+1) / float64(total+2)

	// Reliability is the pessimistic bound: the Wilson lower limit stays low
	// until the rate is backed by enough samples.
	profile.ReliabilityScore, _ = ConfidenceInterval(successes, total, 0.95)

	profile.AverageExecutionTime = executionTimeAlpha*interaction.ExecutionTime +
		(1-executionTimeAlpha)*profile.AverageExecutionTime

	signature := interaction.Context.Signature()
	score, ok := profile.ContextPreferences[signature]
	if !ok {
		score = 0.5
	}
	if interaction.Outcome == domain.OutcomeSuccess {
		score += 0.1
	} else {
		score -= 0.05
	}
	profile.ContextPreferences[signature] = math.Min(0.9, math.Max(0.1, score))

	if interaction.Outcome == domain.OutcomeFailure && interaction.ErrorMessage != "" {
		profile.CommonFailureModes[CategorizeError(interaction.ErrorMessage)]++
	}
}

func (s *PatternService) capSequencesLocked() {
	if len(s.sequences) <= maxSequencePatterns {
		return
	}

	type entry struct {
		key     domain.SequenceKey
		pattern *domain.SequencePattern
	}
	entries := make([]entry, 0, len(s.sequences))
	for k, p := range s.sequences {
		entries = append(entries, entry{k, p})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].pattern.TotalCount > entries[j].pattern.TotalCount
	})

	clear(s.sequences)
	for _, e := range entries[:keepSequencePatterns] {
		s.sequences[e.key] = e.pattern
	}
	s.logger.Debug("sequence patterns capped", zap.Int("kept", keepSequencePatterns))
}

// manageMemoryLocked keeps the most informative interactions: rare outcomes,
// complex contexts, and recent history score highest. Deliberately not LRU.
func (s *PatternService) manageMemoryLocked() {
	if len(s.interactions) <= maxInteractions {
		return
	}

	outcomeCounts := make(map[domain.Outcome]int)
	for _, i := range s.interactions {
		outcomeCounts[i.Outcome]++
	}
	total := len(s.interactions)

	type scored struct {
		id    string
		value float64
	}
	values := make([]scored, 0, total)
	now := time.Now()
	for id, i := range s.interactions {
		rarity := 1.0 - float64(outcomeCounts[i.Outcome])/float64(total)
		ageHours := now.Sub(i.Timestamp).Hours()
		recency := math.Exp(-ageHours / 24)
		values = append(values, scored{id, rarity * i.Context.Complexity.Weight() * recency})
	}
	sort.Slice(values, func(i, j int) bool { return values[i].value > values[j].value })

	for _, v := range values[maxInteractions:] {
		delete(s.interactions, v.id)
	}
	s.logger.Info("interaction history evicted",
		zap.Int("kept", maxInteractions), zap.Int("dropped", total-maxInteractions))
}

// CategorizeError buckets an error message by substring match.
func CategorizeError(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "permission"):
		return "permission_denied"
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such"):
		return "resource_not_found"
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "connection"):
		return "connection_error"
	case strings.Contains(lower, "syntax"):
		return "syntax_error"
	case strings.Contains(lower, "memory"):
		return "memory_error"
	default:
		return "unknown_error"
	}
}

func truncateArguments(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	serialized, err := json.Marshal(args)
	if err != nil || len(serialized) <= maxArgumentBytes {
		return args
	}
	return map[string]any{
		"_truncated":     true,
		"_original_size": len(serialized),
		"_summary":       fmt.Sprintf("Large arguments truncated (original size: %d chars)", len(serialized)),
	}
}

func normalizeContext(ctx domain.ContextSnapshot) domain.ContextSnapshot {
	if len(ctx.RecentTools) > 5 {
		ctx.RecentTools = append([]string(nil), ctx.RecentTools[len(ctx.RecentTools)-5:]...)
	}
	if ctx.TaskType == "" {
		ctx.TaskType = "unknown"
	}
	if ctx.Complexity == "" {
		ctx.Complexity = domain.ComplexityModerate
	}
	if ctx.UserExpertise == "" {
		ctx.UserExpertise = "intermediate"
	}
	if ctx.WorkingMemoryUsage == 0 {
		ctx.WorkingMemoryUsage = 0.5
	}
	if ctx.UrgencyLevel == 0 {
		ctx.UrgencyLevel = 1
	}
	ctx.TimeOfDay = time.Now().Format("15:04")
	return ctx
}

// ---------- Persistence ----------

// Load replaces in-memory state with the on-disk snapshot. Missing or
// malformed files start empty; logged, non-fatal.
func (s *PatternService) Load() {
	if s.store == nil {
		return
	}

	state, err := s.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			s.logger.Debug("no pattern snapshot, starting empty",
				zap.String("path", s.store.Path()))
		} else {
			s.logger.Warn("pattern snapshot load failed, starting empty",
				zap.String("path", s.store.Path()), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.interactions)
	for id, i := range state.Interactions {
		s.interactions[id] = i
	}
	clear(s.toolProfiles)
	for name, p := range state.ToolProfiles {
		if p.ContextPreferences == nil {
			p.ContextPreferences = make(map[string]float64)
		}
		if p.CommonFailureModes == nil {
			p.CommonFailureModes = make(map[string]int)
		}
		s.toolProfiles[name] = p
	}
	clear(s.sequences)
	for key, p := range state.SequencePatterns {
		s.sequences[key] = p
	}
	s.learningCurve = state.LearningCurve

	s.logger.Info("pattern snapshot loaded",
		zap.Int("interactions", len(s.interactions)),
		zap.Int("tool_profiles", len(s.toolProfiles)),
		zap.Int("sequence_patterns", len(s.sequences)))
}

// Save forces an immediate snapshot write.
func (s *PatternService) Save() {
	s.mu.Lock()
	data := s.snapshotLocked(true)
	s.mu.Unlock()
	s.writeSnapshot(data)
}

// FlushPending writes the snapshot if a debounced save is outstanding.
func (s *PatternService) FlushPending() {
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
func (s *PatternService) Close() {
	s.Save()
}

func (s *PatternService) Name() string { return "patterns" }

func (s *PatternService) snapshotLocked(force bool) []byte {
	if s.store == nil {
		return nil
	}
	now := time.Now()
	if !force && now.Sub(s.lastSave) < PersistDebounce {
		s.dirty = true
		return nil
	}
	data, err := s.store.Encode(store.PatternState{
		Interactions:     s.interactions,
		ToolProfiles:     s.toolProfiles,
		SequencePatterns: s.sequences,
		LearningCurve:    s.learningCurve,
	})
	if err != nil {
		s.logger.Warn("pattern snapshot encode failed", zap.Error(err))
		return nil
	}
	s.lastSave = now
	s.dirty = false
	return data
}

func (s *PatternService) writeSnapshot(data []byte) {
	if data == nil || s.store == nil {
		return
	}
	if err := s.store.Write(data); err != nil {
		s.logger.Warn("pattern snapshot write failed",
			zap.String("path", s.store.Path()), zap.Error(err))
	}
}

func cloneProfile(p *domain.ToolProfile) domain.ToolProfile {
	c := *p
	c.ContextPreferences = make(map[string]float64, len(p.ContextPreferences))
	for k, v := range p.ContextPreferences {
		c.ContextPreferences[k] = v
	}
	c.CommonFailureModes = make(map[string]int, len(p.CommonFailureModes))
	for k, v := range p.CommonFailureModes {
		c.CommonFailureModes[k] = v
	}
	return c
}
