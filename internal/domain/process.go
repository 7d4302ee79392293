package domain

import "time"

// ProcessStatus represents the lifecycle state of a launched agent process.
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusCompleted ProcessStatus = "completed"
	ProcessStatusFailed    ProcessStatus = "failed"
)

// ProcessSession is one additional agent process started by the launcher.
type ProcessSession struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	PID       int           `json:"pid"`
	LogPath   string        `json:"log_path,omitempty"`
	Status    ProcessStatus `json:"status"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	ParentID  string        `json:"parent_id,omitempty"`
}
