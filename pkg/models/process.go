package models

import "time"

// ProcessStatus is the lifecycle state of a managed child process. Once
// FinishedAt is set the status is terminal.
type ProcessStatus string

const (
	ProcessRunning  ProcessStatus = "running"
	ProcessFinished ProcessStatus = "finished"
	ProcessKilled   ProcessStatus = "killed"
	ProcessTimedOut ProcessStatus = "timed_out"
	ProcessFailed   ProcessStatus = "failed"
)

// ProcessSession is a tracked foreground or background child process.
type ProcessSession struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	Workdir    string        `json:"workdir,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     ProcessStatus `json:"status"`
	ExitCode   *int          `json:"exit_code,omitempty"`
}

// IsTerminal reports whether FinishedAt has been set.
func (p ProcessSession) IsTerminal() bool { return p.FinishedAt != nil }
