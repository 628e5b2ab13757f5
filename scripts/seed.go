// Seed script for creating demo snapshots for Synapse.
// Run with: go run ./scripts/seed.go
package main

import (
	"fmt"
	"log"

	"github.com/synaptiq/synapse/internal/config"
	"github.com/synaptiq/synapse/internal/domain"
	"github.com/synaptiq/synapse/internal/store"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	seedKnowledge()
	seedPatterns()

	fmt.Println("Seed complete.")
	fmt.Printf("  knowledge: %s\n", config.KnowledgePath())
	fmt.Printf("  patterns:  %s\n", config.PatternsPath())
}

func seedKnowledge() {
	facts := map[string]*domain.Fact{}

	add := func(f *domain.Fact) {
		facts[f.ID] = f
	}

	dir := domain.NewFact(
		"directory_exists",
		domain.ScalarValue("src"),
		domain.NewEvidence("direct_observation", "ls showed src/", domain.StrengthConclusive),
		domain.StatusVerified,
		[]string{"file_operations"},
		nil,
	)
	add(dir)

	file := domain.NewFact(
		"file_exists",
		domain.ScalarValue("src/main.go"),
		domain.NewEvidence("direct_observation", "ls src showed main.go", domain.StrengthStrong),
		domain.StatusVerified,
		[]string{"file_operations"},
		[]string{dir.ID},
	)
	dir.RequiredFor = append(dir.RequiredFor, file.ID)
	add(file)

	add(domain.NewFact(
		"tool_rejection",
		domain.ToolValue(domain.ToolOutcomeValue{
			Tool:   "execute_command",
			Args:   map[string]string{"command": "rm -rf build"},
			Reason: "Permission denied",
		}),
		domain.NewEvidence("tool_execution", "Permission denied", domain.StrengthStrong),
		domain.StatusRefuted,
		[]string{"tool_failure", "tool_execute_command"},
		nil,
	))

	ks := store.NewKnowledgeStore(config.KnowledgePath())
	data, err := ks.Encode(facts)
	if err != nil {
		log.Fatalf("Failed to encode knowledge snapshot: %v", err)
	}
	if err := ks.Write(data); err != nil {
		log.Fatalf("Failed to write knowledge snapshot: %v", err)
	}
	fmt.Printf("Seeded %d facts\n", len(facts))
}

func seedPatterns() {
	listProfile := domain.NewToolProfile("list_files", 0.04)
	listProfile.SuccessRate = 0.9
	readProfile := domain.NewToolProfile("read_file", 0.1)
	readProfile.SuccessRate = 0.8
	readProfile.CommonFailureModes["resource_not_found"] = 2

	state := store.PatternState{
		Interactions: map[string]*domain.Interaction{},
		ToolProfiles: map[string]*domain.ToolProfile{
			"list_files": listProfile,
			"read_file":  readProfile,
		},
		SequencePatterns: map[domain.SequenceKey]*domain.SequencePattern{
			{First: "list_files", Second: "read_file"}: {
				Successes:  8,
				Failures:   1,
				TotalCount: 9,
			},
		},
	}

	ps := store.NewPatternStore(config.PatternsPath())
	data, err := ps.Encode(state)
	if err != nil {
		log.Fatalf("Failed to encode pattern snapshot: %v", err)
	}
	if err := ps.Write(data); err != nil {
		log.Fatalf("Failed to write pattern snapshot: %v", err)
	}
	fmt.Printf("Seeded %d tool profiles, %d sequence patterns\n",
		len(state.ToolProfiles), len(state.SequencePatterns))
}
