package store

import (
	"encoding/json"
	"fmt"

	"github.com/synaptiq/synapse/internal/domain"
)

// sequenceEntry flattens the (first, second) map key for JSON.
type sequenceEntry struct {
	First   string                  `json:"first"`
	Second  string                  `json:"second"`
	Pattern *domain.SequencePattern `json:"pattern"`
}

type patternSnapshot struct {
	Version          string                         `json:"version"`
	Interactions     map[string]*domain.Interaction `json:"interactions"`
	ToolProfiles     map[string]*domain.ToolProfile `json:"tool_profiles,omitempty"`
	SequencePatterns []sequenceEntry                `json:"sequence_patterns,omitempty"`
	LearningCurve    [][2]float64                   `json:"learning_curve,omitempty"`
}

// PatternState is everything the pattern analyzer persists.
type PatternState struct {
	Interactions     map[string]*domain.Interaction
	ToolProfiles     map[string]*domain.ToolProfile
	SequencePatterns map[domain.SequenceKey]*domain.SequencePattern
	LearningCurve    [][2]float64
}

// PatternStore persists pattern analyzer state as a versioned JSON snapshot.
type PatternStore struct {
	file *SnapshotFile
}

func NewPatternStore(path string) *PatternStore {
	return &PatternStore{file: NewSnapshotFile(path)}
}

func (s *PatternStore) Path() string {
	return s.file.Path()
}

// Encode serializes a consistent state snapshot. The caller holds the
// subsystem lock while this runs.
func (s *PatternStore) Encode(state PatternState) ([]byte, error) {
	snap := patternSnapshot{
		Version:       SnapshotVersion,
		Interactions:  state.Interactions,
		ToolProfiles:  state.ToolProfiles,
		LearningCurve: state.LearningCurve,
	}
	for key, pattern := range state.SequencePatterns {
		snap.SequencePatterns = append(snap.SequencePatterns, sequenceEntry{
			First:   key.First,
			Second:  key.Second,
			Pattern: pattern,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode pattern snapshot: %w", err)
	}
	return data, nil
}

func (s *PatternStore) Write(data []byte) error {
	return s.file.Write(data)
}

// Load reads and decodes the snapshot, reconstructing the sequence-pattern
// map from its flattened form. Missing optional sections come back as empty
// collections.
func (s *PatternStore) Load() (*PatternState, error) {
	data, err := s.file.Read()
	if err != nil {
		return nil, err
	}

	var snap patternSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode pattern snapshot: %w", err)
	}

	state := &PatternState{
		Interactions:     snap.Interactions,
		ToolProfiles:     snap.ToolProfiles,
		SequencePatterns: make(map[domain.SequenceKey]*domain.SequencePattern, len(snap.SequencePatterns)),
		LearningCurve:    snap.LearningCurve,
	}
	if state.Interactions == nil {
		state.Interactions = make(map[string]*domain.Interaction)
	}
	if state.ToolProfiles == nil {
		state.ToolProfiles = make(map[string]*domain.ToolProfile)
	}
	for _, entry := range snap.SequencePatterns {
		if entry.Pattern == nil {
			continue
		}
		state.SequencePatterns[domain.SequenceKey{First: entry.First, Second: entry.Second}] = entry.Pattern
	}
	return state, nil
}
