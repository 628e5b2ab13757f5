package domain

import "time"

type EventType string

const (
	EventFactAdded     EventType = "fact_added"
	EventEvidenceAdded EventType = "evidence_added"
)

// KnowledgeEvent is the telemetry contract between the knowledge graph and
// the pattern analyzer. Delivery is in-process, fire-and-forget, at most
// once per event; consumers must not panic and must ignore unknown types.
type KnowledgeEvent struct {
	EventType   EventType  `json:"event_type"`
	FactID      string     `json:"fact_id"`
	FactType    string     `json:"fact_type,omitempty"`
	Value       FactValue  `json:"value,omitempty"`
	Status      FactStatus `json:"status,omitempty"`
	ContextTags []string   `json:"context_tags,omitempty"`
	OldStatus   FactStatus `json:"old_status,omitempty"`
	NewStatus   FactStatus `json:"new_status,omitempty"`
	Evidence    *Evidence  `json:"evidence,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// EventSink receives knowledge telemetry. Registered at construction time;
// there is no ambient global observer.
type EventSink interface {
	OnKnowledgeEvent(event KnowledgeEvent)
}
