package models

import "time"

// Finding is a single research result produced by an agent instance.
type Finding struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
	Source  string `json:"source,omitempty"`
}

// OutputRecord is the structured output of one completed task. Instance
// tasks produce one keyed by instance id; reduce tasks produce one keyed
// by sub-stage id.
type OutputRecord struct {
	ObjectivesCompleted []string  `json:"objectives_completed"`
	Findings            []Finding `json:"findings"`
	EntitiesDiscovered  []string  `json:"entities_discovered"`
	FileRefs            []string  `json:"file_refs"`
}

// StoredOutput wraps an output record with its storage key.
type StoredOutput struct {
	MissionID string        `json:"mission_id"`
	Key       string        `json:"key"`
	Record    *OutputRecord `json:"record"`
	CreatedAt time.Time     `json:"created_at"`
}
