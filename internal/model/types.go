package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// EditRecord is the audit trail of one example during an editing session:
// what the cluster store decided and which block the example was assigned.
type EditRecord struct {
	VersionedRecord
	SessionID string  `json:"session_id"`
	Seq       int     `json:"seq"`
	Batch     int     `json:"batch"`
	Action    string  `json:"action"`
	Cluster   int     `json:"cluster"`
	Block     int     `json:"block"`
	Distance  float64 `json:"distance"`
}

// SessionSummary aggregates one editing session. It records what happened
// to the store, never the store contents; a summary cannot rebuild memory.
type SessionSummary struct {
	VersionedRecord
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Mode         string         `json:"mode"`
	Batches      int            `json:"batches"`
	Examples     int            `json:"examples"`
	Clusters     int            `json:"clusters"`
	Conflicts    int            `json:"conflicts"`
	Forgotten    int            `json:"forgotten"`
	LookupFaults int            `json:"lookup_faults"`
	GuidanceLoss float64        `json:"guidance_loss"`
	Config       map[string]any `json:"config,omitempty"`
}
