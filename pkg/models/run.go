package models

import "time"

// RunStatus is the lifecycle status of a Run. Terminal statuses
// (Completed, Failed, Stopped) are sticky: once set they never change.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunStopped:
		return true
	default:
		return false
	}
}

// Run records exactly one invocation of the turn orchestrator.
type Run struct {
	RunID         string     `json:"run_id"`
	SessionKey    string     `json:"session_key"`
	SessionID     string     `json:"session_id"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
	InputTokens   int64      `json:"input_tokens"`
	OutputTokens  int64      `json:"output_tokens"`
	TotalTokens   int64      `json:"total_tokens"`
	InputPreview  string     `json:"input_preview"`
	OutputPreview string     `json:"output_preview"`
	Error         string     `json:"error,omitempty"`
	Nodes         []string   `json:"nodes,omitempty"`
	LoopCount     int        `json:"loop_count"`
}

// RunEventType discriminates the kinds of events broadcast by the run store.
type RunEventType string

const (
	RunEventStatus       RunEventType = "run_status"
	RunEventNodeStarted  RunEventType = "node_started"
	RunEventNodeComplete RunEventType = "node_completed"
	RunEventNodeFailed   RunEventType = "node_failed"
	RunEventLog          RunEventType = "log"
	RunEventUsage        RunEventType = "usage"
	RunEventLagged       RunEventType = "lagged"
)

// RunEvent is one item on a Run's broadcast channel.
type RunEvent struct {
	Type      RunEventType `json:"type"`
	RunID     string       `json:"run_id"`
	Status    RunStatus    `json:"status,omitempty"`
	NodeID    string       `json:"node_id,omitempty"`
	Message   string       `json:"message,omitempty"`
	Usage     *TokenTotals `json:"usage,omitempty"`
	Lagged    int          `json:"lagged,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
