package model

import "time"

// Phase names a separately schedulable pipeline step.
type Phase string

const (
	PhaseHarvest Phase = "harvest"
	PhaseIngest  Phase = "ingest"
)

// RunStatus represents the state of a recorded phase run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunEntry is one row of the run log.
type RunEntry struct {
	ID          string         `json:"id"`
	Phase       Phase          `json:"phase"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Rows        int64          `json:"rows"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
