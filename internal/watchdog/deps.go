package watchdog

import (
	"context"

	"github.com/loykin/pairwatch/internal/detector"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
)

// RecordStore reads and writes the shared coordination record.
type RecordStore interface {
	Read() (record.Pair, error)
	ReadPeerID(slot int) (int, error)
	WriteBoth(ownSlot, ownID, peerID int) error
}

// Prober answers whether pid is the live peer.
type Prober interface {
	Alive(ctx context.Context, pid int) bool
}

// Redeployer makes sure the peer artifact exists.
type Redeployer interface {
	EnsurePresent(target, backup string) (redeploy.Result, error)
}

// Launcher starts the peer and returns its process id.
type Launcher interface {
	Launch(ctx context.Context, execution string) (int, error)
}

// RedeployFunc adapts a function to Redeployer.
type RedeployFunc func(target, backup string) (redeploy.Result, error)

func (f RedeployFunc) EnsurePresent(target, backup string) (redeploy.Result, error) {
	return f(target, backup)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, pid int) bool

func (f ProberFunc) Alive(ctx context.Context, pid int) bool { return f(ctx, pid) }

// PIDProber is the default Prober: process-table lookup, optionally pinned
// to an executable path, with fallback detectors.
type PIDProber struct {
	ExpectExe string
	Fallback  []detector.Detector
}

func (p PIDProber) Alive(ctx context.Context, pid int) bool {
	if p.pidAlive(ctx, pid) {
		return true
	}
	for _, d := range p.Fallback {
		if ok, err := d.Alive(); err == nil && ok {
			return true
		}
	}
	return false
}

func (p PIDProber) pidAlive(ctx context.Context, pid int) bool {
	if p.ExpectExe == "" {
		return detector.IsAliveContext(ctx, pid)
	}
	ok, err := detector.ExeDetector{PID: pid, Exe: p.ExpectExe}.Alive()
	return err == nil && ok
}
