package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptiq/synapse/internal/domain"
)

func TestPatternStore_RoundTrip(t *testing.T) {
	s := NewPatternStore(filepath.Join(t.TempDir(), "patterns.json"))

	interaction := &domain.Interaction{
		ID:            "i1",
		ToolName:      "read_file",
		Arguments:     map[string]any{"filepath": "main.go"},
		Outcome:       domain.OutcomeSuccess,
		ExecutionTime: 0.12,
		Timestamp:     time.Now().UTC(),
		Context: domain.ContextSnapshot{
			ConversationLength: 4,
			RecentTools:        []string{"list_files"},
			TaskType:           "debugging",
			Complexity:         domain.ComplexityComplex,
			UserExpertise:      "expert",
			TimeOfDay:          "14:30",
			UrgencyLevel:       2,
		},
		Confidence: 1.0,
	}

	profile := domain.NewToolProfile("read_file", 0.12)
	profile.SuccessRate = 0.75
	profile.ContextPreferences[interaction.Context.Signature()] = 0.6
	profile.CommonFailureModes["resource_not_found"] = 2

	state := PatternState{
		Interactions: map[string]*domain.Interaction{"i1": interaction},
		ToolProfiles: map[string]*domain.ToolProfile{"read_file": profile},
		SequencePatterns: map[domain.SequenceKey]*domain.SequencePattern{
			{First: "list_files", Second: "read_file"}: {
				Successes:         4,
				Failures:          1,
				TotalCount:        5,
				ContextConditions: map[string]int{"complexity:complex": 3},
			},
		},
		LearningCurve: [][2]float64{{1, 0.5}, {2, 0.75}},
	}

	data, err := s.Encode(state)
	require.NoError(t, err)
	require.NoError(t, s.Write(data))

	loaded, err := s.Load()
	require.NoError(t, err)

	got, ok := loaded.Interactions["i1"]
	require.True(t, ok, "interaction missing after load")
	assert.Equal(t, "read_file", got.ToolName)
	assert.Equal(t, domain.OutcomeSuccess, got.Outcome)
	assert.Equal(t, domain.ComplexityComplex, got.Context.Complexity)
	assert.Equal(t, []string{"list_files"}, got.Context.RecentTools)

	gotProfile, ok := loaded.ToolProfiles["read_file"]
	require.True(t, ok, "profile missing after load")
	assert.Equal(t, 0.75, gotProfile.SuccessRate)
	assert.Equal(t, 0.6, gotProfile.ContextPreferences[interaction.Context.Signature()])
	assert.Equal(t, 2, gotProfile.CommonFailureModes["resource_not_found"])

	pattern, ok := loaded.SequencePatterns[domain.SequenceKey{First: "list_files", Second: "read_file"}]
	require.True(t, ok, "sequence pattern missing after load")
	assert.Equal(t, 4, pattern.Successes)
	assert.Equal(t, 5, pattern.TotalCount)
	assert.Equal(t, 3, pattern.ContextConditions["complexity:complex"])

	require.Len(t, loaded.LearningCurve, 2)
	assert.Equal(t, 0.75, loaded.LearningCurve[1][1])
}

func TestPatternStore_SequenceKeysFlattened(t *testing.T) {
	s := NewPatternStore(filepath.Join(t.TempDir(), "patterns.json"))

	state := PatternState{
		Interactions: map[string]*domain.Interaction{},
		ToolProfiles: map[string]*domain.ToolProfile{},
		SequencePatterns: map[domain.SequenceKey]*domain.SequencePattern{
			{First: "a", Second: "b"}: {Successes: 1, TotalCount: 1},
		},
	}

	data, err := s.Encode(state)
	require.NoError(t, err)

	// The pair key must serialize as explicit fields, not a struct map key.
	var raw struct {
		SequencePatterns []struct {
			First  string `json:"first"`
			Second string `json:"second"`
		} `json:"sequence_patterns"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.SequencePatterns, 1)
	assert.Equal(t, "a", raw.SequencePatterns[0].First)
	assert.Equal(t, "b", raw.SequencePatterns[0].Second)
}

func TestPatternStore_MissingFile(t *testing.T) {
	s := NewPatternStore(filepath.Join(t.TempDir(), "absent.json"))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestPatternStore_MalformedFile(t *testing.T) {
	s := NewPatternStore(filepath.Join(t.TempDir(), "patterns.json"))
	require.NoError(t, s.Write([]byte("[]")))

	_, err := s.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode pattern snapshot")
}

func TestPatternStore_SparseSnapshotNormalized(t *testing.T) {
	sparse := `{
	  "version": "2.0",
	  "sequence_patterns": [
	    {"first": "a", "second": "b", "pattern": null},
	    {"first": "c", "second": "d", "pattern": {"successes": 1, "failures": 0, "total_count": 1}}
	  ]
	}`

	s := NewPatternStore(filepath.Join(t.TempDir(), "patterns.json"))
	require.NoError(t, s.Write([]byte(sparse)))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.NotNil(t, loaded.Interactions)
	assert.NotNil(t, loaded.ToolProfiles)
	require.Len(t, loaded.SequencePatterns, 1, "nil pattern entry should be dropped")
	assert.Contains(t, loaded.SequencePatterns, domain.SequenceKey{First: "c", Second: "d"})
}
