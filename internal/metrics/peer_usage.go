package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// PeerUsage is one resource sample of a watched peer process.
type PeerUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// PeerUsageConfig holds configuration for peer resource sampling.
type PeerUsageConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxHistory int  `mapstructure:"max_history"`
}

// PeerUsageCollector samples CPU and memory of peers found alive by a
// check cycle and keeps a bounded history per watchdog.
type PeerUsageCollector struct {
	enabled    bool
	maxHistory int

	mu      sync.RWMutex
	history map[string][]PeerUsage // watchdog -> samples, oldest first

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewPeerUsageCollector creates a collector; a disabled one ignores Sample.
func NewPeerUsageCollector(cfg PeerUsageConfig) *PeerUsageCollector {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peer",
			Name:      name,
			Help:      help,
		}, []string{"watchdog"})
	}
	return &PeerUsageCollector{
		enabled:    cfg.Enabled,
		maxHistory: maxHistory,
		history:    make(map[string][]PeerUsage),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the watched peer."),
		memoryMB:   gauge("memory_mb", "Resident memory of the watched peer in MB."),
		numThreads: gauge("num_threads", "Number of threads of the watched peer."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of the watched peer (Unix only)."),
	}
}

// Enabled reports whether sampling is on.
func (c *PeerUsageCollector) Enabled() bool { return c != nil && c.enabled }

// RegisterMetrics registers the peer gauges with the provided registerer.
func (c *PeerUsageCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.Enabled() {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Sample reads the current usage of pid, updates the gauges for watchdog and
// appends to its history.
func (c *PeerUsageCollector) Sample(ctx context.Context, watchdog string, pid int) (PeerUsage, error) {
	if !c.Enabled() {
		return PeerUsage{}, nil
	}
	if pid <= 0 || pid > math.MaxInt32 {
		return PeerUsage{}, fmt.Errorf("pid %d out of range", pid)
	}
	u, err := readUsage(ctx, int32(pid))
	if err != nil {
		slog.Debug("Failed to sample peer usage", "watchdog", watchdog, "pid", pid, "error", err)
		return PeerUsage{}, err
	}

	c.cpuPercent.WithLabelValues(watchdog).Set(u.CPUPercent)
	c.memoryMB.WithLabelValues(watchdog).Set(u.MemoryMB)
	c.numThreads.WithLabelValues(watchdog).Set(float64(u.NumThreads))
	if runtime.GOOS != "windows" && u.NumFDs > 0 {
		c.numFDs.WithLabelValues(watchdog).Set(float64(u.NumFDs))
	}

	c.mu.Lock()
	h := append(c.history[watchdog], u)
	if len(h) > c.maxHistory {
		h = h[len(h)-c.maxHistory:]
	}
	c.history[watchdog] = h
	c.mu.Unlock()
	return u, nil
}

// Forget drops gauges and history of watchdog, e.g. once its peer died.
func (c *PeerUsageCollector) Forget(watchdog string) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	delete(c.history, watchdog)
	c.mu.Unlock()
	c.cpuPercent.DeleteLabelValues(watchdog)
	c.memoryMB.DeleteLabelValues(watchdog)
	c.numThreads.DeleteLabelValues(watchdog)
	c.numFDs.DeleteLabelValues(watchdog)
}

// History returns a copy of the samples kept for watchdog, oldest first.
func (c *PeerUsageCollector) History(watchdog string) []PeerUsage {
	if !c.Enabled() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[watchdog]
	out := make([]PeerUsage, len(h))
	copy(out, h)
	return out
}

// Latest returns the most recent sample for watchdog.
func (c *PeerUsageCollector) Latest(watchdog string) (PeerUsage, bool) {
	if !c.Enabled() {
		return PeerUsage{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[watchdog]
	if len(h) == 0 {
		return PeerUsage{}, false
	}
	return h[len(h)-1], true
}

func readUsage(ctx context.Context, pid int32) (PeerUsage, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return PeerUsage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	// CPU percent is relative to the process lifetime on the first call.
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return PeerUsage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	u := PeerUsage{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}
