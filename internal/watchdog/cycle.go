package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/pairwatch/internal/history"
	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
)

// Action is what a check cycle did about the peer.
type Action string

const (
	ActionNone           Action = "none"          // peer alive
	ActionReported       Action = "reported"      // peer dead, auto-restart off
	ActionRestarted      Action = "restarted"     // peer relaunched
	ActionUnavailable    Action = "unavailable"   // artifact missing and not restorable
	ActionLaunchFailed   Action = "launch_failed" // artifact present, start failed
	ActionSkipped        Action = "skipped"       // controller stopping or stopped
	ActionPanicRecovered Action = "panic"         // cycle aborted by a recovered panic
)

// CycleResult reports one check cycle.
type CycleResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	PeerPID   int           `json:"peerProcessId"`
	PeerAlive bool          `json:"peerAlive"`
	Action    Action        `json:"action"`
	Redeploy  string        `json:"redeploy,omitempty"`
	NewPID    int           `json:"newProcessId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// CheckCycle runs one check now, outside the loop's schedule. It is
// serialized with the loop and does nothing once the controller is
// stopping.
func (c *Controller) CheckCycle(ctx context.Context) CycleResult {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	if st := c.State(); st == StateStopping || st == StateStopped {
		return CycleResult{StartedAt: time.Now(), PeerPID: int(c.peerPID.Load()), Action: ActionSkipped}
	}
	return c.cycle(ctx)
}

// cycle must be called with cycleMu held.
func (c *Controller) cycle(ctx context.Context) (res CycleResult) {
	start := time.Now()
	res = CycleResult{StartedAt: start, PeerPID: record.NoPID, Action: ActionNone}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Check cycle panicked", "panic", r)
			res.Action = ActionPanicRecovered
			res.Error = fmt.Sprint(r)
			c.setLastError(fmt.Errorf("panic: %v", r))
		}
		res.Duration = time.Since(start)
		c.statsMu.Lock()
		c.lastCheck = start
		c.statsMu.Unlock()
		metrics.ObserveCheck(c.cfg.Name, res.Duration.Seconds())
	}()

	peer, err := c.store.ReadPeerID(c.cfg.Target.Slot)
	if err != nil {
		// missing or corrupt record: treat the peer as not running
		c.logger.Warn("Coordination record unreadable", "error", err)
		metrics.IncRecordError(c.cfg.Name, "read")
		peer = record.NoPID
	}
	res.PeerPID = peer
	c.peerPID.Store(int64(peer))

	alive := c.prober.Alive(ctx, peer)
	res.PeerAlive = alive
	metrics.SetPeerAlive(c.cfg.Name, alive)
	if alive {
		if c.usage.Enabled() {
			_, _ = c.usage.Sample(ctx, c.cfg.Name, peer)
		}
		return res
	}
	c.usage.Forget(c.cfg.Name)

	if c.cfg.DisableAutoRestart {
		c.logger.Warn("Target killed", "peer_pid", peer, "target", c.cfg.Target.Path)
		res.Action = ActionReported
		return res
	}
	c.restart(ctx, peer, &res)
	return res
}

func (c *Controller) restart(ctx context.Context, oldPID int, res *CycleResult) {
	t := c.cfg.Target
	lg := c.logger.With("peer_pid", oldPID, "target", t.Path)
	lg.Warn("Peer not running, restarting")

	result, err := c.redeployer.EnsurePresent(t.Path, t.Backup)
	res.Redeploy = result.String()
	switch result {
	case redeploy.Unavailable:
		lg.Error("Peer artifact unavailable, skipping restart", "backup", t.Backup, "error", err)
		metrics.IncRedeploy(c.cfg.Name, result.String())
		c.failed(ctx, history.EventRedeployFailed, oldPID, err, res, ActionUnavailable)
		return
	case redeploy.Restored:
		lg.Info("Peer artifact restored from backup", "backup", t.Backup)
		metrics.IncRedeploy(c.cfg.Name, result.String())
		c.emit(ctx, history.EventRedeploy, history.Record{OldPID: oldPID, NewPID: oldPID})
	}

	newPID, err := c.launcher.Launch(ctx, t.Execution)
	if err != nil {
		// the stale id stays in the record; the next cycle retries
		lg.Error("Failed to launch peer", "execution", t.Execution, "error", err)
		metrics.IncLaunchFailure(c.cfg.Name)
		c.failed(ctx, history.EventLaunchFailed, oldPID, err, res, ActionLaunchFailed)
		return
	}
	res.NewPID = newPID
	res.Action = ActionRestarted
	c.peerPID.Store(int64(newPID))

	if err := c.store.WriteBoth(c.cfg.OwnSlot, c.ownPID, newPID); err != nil {
		lg.Error("Failed to write coordination record", "new_pid", newPID, "error", err)
		metrics.IncRecordError(c.cfg.Name, "write")
		res.Error = err.Error()
		c.setLastError(err)
	}

	c.statsMu.Lock()
	c.restarts++
	c.lastRestart = time.Now()
	c.statsMu.Unlock()
	metrics.IncRestart(c.cfg.Name)
	lg.Info("Peer restarted", "new_pid", newPID)
	c.emit(ctx, history.EventRestart, history.Record{OldPID: oldPID, NewPID: newPID, Error: res.Error})
}

func (c *Controller) failed(ctx context.Context, t history.EventType, oldPID int, err error, res *CycleResult, a Action) {
	if err == nil {
		err = fmt.Errorf("%s", a)
	}
	res.Action = a
	res.Error = err.Error()
	c.setLastError(err)
	c.emit(ctx, t, history.Record{OldPID: oldPID, NewPID: oldPID, Error: err.Error()})
}
