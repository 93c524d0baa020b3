package detector

import (
	"context"
	"fmt"
	"path/filepath"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return IsAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }

// ExeDetector is a stricter PIDDetector: the PID must also be running the
// executable at Exe. It rejects a PID that was recycled by an unrelated
// program after the watched process exited.
type ExeDetector struct {
	PID int
	Exe string
}

func (d ExeDetector) Alive() (bool, error) {
	ctx := context.Background()
	if !IsAliveContext(ctx, d.PID) {
		return false, nil
	}
	if d.Exe == "" {
		return true, nil
	}
	id, _ := pid32(d.PID)
	p, err := gopsproc.NewProcessWithContext(ctx, id)
	if err != nil {
		return false, nil
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		// exe link unreadable (permissions); fall back to the plain PID answer
		return true, nil
	}
	return SamePath(exe, d.Exe), nil
}

func (d ExeDetector) Describe() string { return fmt.Sprintf("pid:%d exe:%s", d.PID, d.Exe) }

// SamePath compares two executable paths after cleaning and resolving symlinks.
func SamePath(a, b string) bool {
	return resolve(a) == resolve(b)
}

func resolve(p string) string {
	p = filepath.Clean(p)
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}
