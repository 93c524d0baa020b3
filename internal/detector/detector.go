package detector

import (
	"context"
	"math"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Detector is a strategy that determines if a process is running.
// Implementations may check a PID number, a PID file, or a custom script.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// IsAlive reports whether pid refers to a live entry in the process table.
// Non-positive identifiers (including the -1 "unknown" sentinel) are never
// alive. A zombie counts as dead: it has exited and only waits to be reaped.
// A recycled PID owned by an unrelated process reads as alive; use
// ExeDetector when that matters.
func IsAlive(pid int) bool {
	return IsAliveContext(context.Background(), pid)
}

// IsAliveContext is IsAlive with a caller-supplied context for the
// process-table queries.
func IsAliveContext(ctx context.Context, pid int) bool {
	id, ok := pid32(pid)
	if !ok {
		return false
	}
	exists, err := gopsproc.PidExistsWithContext(ctx, id)
	if err != nil || !exists {
		return false
	}
	return !isZombie(ctx, id)
}

// pid32 narrows pid to the process-table type. Identifiers outside the
// positive int32 range name no process and must not wrap onto one.
func pid32(pid int) (int32, bool) {
	if pid <= 0 || pid > math.MaxInt32 {
		return 0, false
	}
	return int32(pid), true
}

func isZombie(ctx context.Context, pid int32) bool {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}
	st, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(st, gopsproc.Zombie)
}
