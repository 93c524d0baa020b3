package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PIDFileDetector detects a process via a PID file. The first line holds the
// PID; any later line may carry a JSON meta object with the process start
// time, used to reject a reused PID.
type PIDFileDetector struct {
	PIDFile string
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

func (d PIDFileDetector) Alive() (bool, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}

	ctx := context.Background()
	for _, l := range lines[1:] {
		var m pidMeta
		if json.Unmarshal([]byte(strings.TrimSpace(l)), &m) != nil || m.StartUnix <= 0 {
			continue
		}
		if cur := startUnix(ctx, pid); cur > 0 && cur != m.StartUnix {
			return false, nil // PID reused; not our process
		}
		break
	}
	return IsAliveContext(ctx, pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// startUnix returns the process start time in Unix seconds, or 0 when unknown.
func startUnix(ctx context.Context, pid int) int64 {
	id, ok := pid32(pid)
	if !ok {
		return 0
	}
	p, err := gopsproc.NewProcessWithContext(ctx, id)
	if err != nil {
		return 0
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
