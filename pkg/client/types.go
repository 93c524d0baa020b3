package client

import "time"

// Status mirrors the watchdog snapshot served at {base}/status.
type Status struct {
	Name        string     `json:"name"`
	OwnPID      int        `json:"ownProcessId"`
	OwnSlot     int        `json:"ownSlotIndex"`
	TargetPath  string     `json:"targetPath"`
	PeerPID     int        `json:"peerProcessId"`
	PeerSlot    int        `json:"peerSlotIndex"`
	PeerRunning bool       `json:"peerRunning"`
	State       string     `json:"state"`
	AutoRestart bool       `json:"autoRestart"`
	Restarts    int        `json:"restarts"`
	LastRestart time.Time  `json:"lastRestart,omitzero"`
	LastCheck   time.Time  `json:"lastCheck,omitzero"`
	LastError   string     `json:"lastError,omitempty"`
	PeerUsage   *PeerUsage `json:"peerUsage,omitempty"`
}

// CycleResult is the outcome of POST {base}/check.
type CycleResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	PeerPID   int           `json:"peerProcessId"`
	PeerAlive bool          `json:"peerAlive"`
	Action    string        `json:"action"`
	Redeploy  string        `json:"redeploy,omitempty"`
	NewPID    int           `json:"newProcessId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Health is the body of GET {base}/healthz.
type Health struct {
	OK    bool   `json:"ok"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// PeerUsage is one resource sample of the peer process.
type PeerUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
