package store

import (
	"encoding/json"
	"fmt"

	"github.com/synaptiq/synapse/internal/domain"
)

// SnapshotVersion is the persisted file format version for both subsystems.
const SnapshotVersion = "2.0"

type knowledgeSnapshot struct {
	Version string                  `json:"version"`
	Facts   map[string]*domain.Fact `json:"facts"`
}

// KnowledgeStore persists the fact map as a versioned JSON snapshot. Indices
// and the legacy failure log are derived state and are never written; the
// loader's caller rebuilds them.
type KnowledgeStore struct {
	file *SnapshotFile
}

func NewKnowledgeStore(path string) *KnowledgeStore {
	return &KnowledgeStore{file: NewSnapshotFile(path)}
}

func (s *KnowledgeStore) Path() string {
	return s.file.Path()
}

// Encode serializes a consistent fact snapshot. The caller holds the
// subsystem lock while this runs.
func (s *KnowledgeStore) Encode(facts map[string]*domain.Fact) ([]byte, error) {
	snap := knowledgeSnapshot{Version: SnapshotVersion, Facts: facts}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode knowledge snapshot: %w", err)
	}
	return data, nil
}

func (s *KnowledgeStore) Write(data []byte) error {
	return s.file.Write(data)
}

// Load reads and decodes the snapshot. A missing file returns ErrNoSnapshot;
// a malformed file returns a decode error. Both are non-fatal to callers.
func (s *KnowledgeStore) Load() (map[string]*domain.Fact, error) {
	data, err := s.file.Read()
	if err != nil {
		return nil, err
	}

	var snap knowledgeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode knowledge snapshot: %w", err)
	}
	if snap.Facts == nil {
		snap.Facts = make(map[string]*domain.Fact)
	}
	return snap.Facts, nil
}
