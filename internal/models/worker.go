package models

import "time"

// WorkerStatus is a phase in a platform worker's lifecycle.
type WorkerStatus string

const (
	StatusInitializing WorkerStatus = "initializing"
	StatusNavigating   WorkerStatus = "navigating"
	StatusSearching    WorkerStatus = "searching"
	StatusExtracting   WorkerStatus = "extracting"
	StatusCompleted    WorkerStatus = "completed"
	StatusError        WorkerStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s WorkerStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// LogType tags a log entry for display.
type LogType string

const (
	LogInfo    LogType = "info"
	LogAction  LogType = "action"
	LogSuccess LogType = "success"
	LogError   LogType = "error"
	LogWarning LogType = "warning"
)

// LogEntry is one timestamped line of worker activity.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      LogType   `json:"type"`
}

// WorkerState is a point-in-time copy of one platform worker. Values handed
// out by the session package are copies and safe to read without locking.
type WorkerState struct {
	Platform      string       `json:"platform"`
	Status        WorkerStatus `json:"status"`
	Progress      int          `json:"progress"`
	CurrentAction string       `json:"currentAction"`
	LiveViewURL   string       `json:"liveViewUrl,omitempty"`
	Logs          []LogEntry   `json:"logs"`
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	Contractors   []Contractor `json:"contractors"`
}
