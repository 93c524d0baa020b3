package watchdog

import (
	"context"
	"time"

	"github.com/loykin/pairwatch/internal/metrics"
)

// Status is a read-only view of a Controller for status displays.
type Status struct {
	Name        string    `json:"name"`
	OwnPID      int       `json:"ownProcessId"`
	OwnSlot     int       `json:"ownSlotIndex"`
	TargetPath  string    `json:"targetPath"`
	PeerPID     int       `json:"peerProcessId"`
	PeerSlot    int       `json:"peerSlotIndex"`
	PeerRunning bool      `json:"peerRunning"`
	State       string    `json:"state"`
	AutoRestart bool      `json:"autoRestart"`
	Restarts    int       `json:"restarts"`
	LastRestart time.Time `json:"lastRestart,omitzero"`
	LastCheck   time.Time `json:"lastCheck,omitzero"`
	LastError   string    `json:"lastError,omitempty"`

	PeerUsage *metrics.PeerUsage `json:"peerUsage,omitempty"`
}

// Snapshot returns the current status. PeerRunning is probed at call time
// for the last known peer id; Snapshot never touches the record.
func (c *Controller) Snapshot() Status {
	peer := int(c.peerPID.Load())
	st := Status{
		Name:        c.cfg.Name,
		OwnPID:      c.ownPID,
		OwnSlot:     c.cfg.OwnSlot,
		TargetPath:  c.cfg.Target.Path,
		PeerPID:     peer,
		PeerSlot:    c.cfg.Target.Slot,
		PeerRunning: c.prober.Alive(context.Background(), peer),
		State:       c.State().String(),
		AutoRestart: !c.cfg.DisableAutoRestart,
	}
	c.statsMu.Lock()
	st.Restarts = c.restarts
	st.LastRestart = c.lastRestart
	st.LastCheck = c.lastCheck
	st.LastError = c.lastError
	c.statsMu.Unlock()
	if u, ok := c.usage.Latest(c.cfg.Name); ok {
		st.PeerUsage = &u
	}
	return st
}
