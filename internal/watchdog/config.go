package watchdog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/pairwatch/internal/detector"
	"github.com/loykin/pairwatch/internal/process"
	"github.com/loykin/pairwatch/internal/record"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultGraceDelay = 1 * time.Second
	// DefaultHistoryTimeout bounds a single history sink delivery.
	DefaultHistoryTimeout = 5 * time.Second
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid watchdog config")

// Target describes the peer this watchdog keeps alive.
type Target struct {
	// Path of the peer's executable artifact; checked and restored before launch.
	Path string
	// Execution is the command line used to start the peer.
	Execution string
	// Backup archive (.zip, .tar.gz) restoring Path; optional.
	Backup string
	// Slot of the peer in the coordination record.
	Slot int
}

// Config is the immutable configuration of one Controller.
type Config struct {
	// Name labels logs, metrics and history; defaults to "slot<OwnSlot>".
	Name       string
	OwnSlot    int
	RecordPath string
	Target     Target

	Interval   time.Duration // zero means DefaultInterval
	GraceDelay time.Duration // zero means DefaultGraceDelay

	// DisableAutoRestart only logs a dead peer instead of relaunching it.
	// The zero value restarts, so a literal Config behaves like DefaultConfig.
	DisableAutoRestart bool
	// DisableAnnounce skips writing our own id into the record when the
	// loop starts.
	DisableAnnounce bool

	// ExpectExe, when set, makes a PID count as the peer only if its
	// executable resolves to this path.
	ExpectExe string
	// Detectors are consulted when the recorded PID is not alive; any of
	// them reporting alive suppresses the restart.
	Detectors []detector.Detector

	// Launch carries workdir, env and stdio settings for the peer.
	// Its Command is ignored in favour of Target.Execution.
	Launch process.Spec
	// CleanEnv starts the peer with only Launch.Env instead of inheriting
	// the watchdog's environment.
	CleanEnv bool

	HistoryTimeout time.Duration // zero means DefaultHistoryTimeout
}

// DefaultConfig returns a Config with the default timings filled in.
// Auto-restart and announce are on.
func DefaultConfig() Config {
	return Config{
		Interval:       DefaultInterval,
		GraceDelay:     DefaultGraceDelay,
		HistoryTimeout: DefaultHistoryTimeout,
	}
}

// Validate checks the config without touching the filesystem.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RecordPath) == "" {
		return fmt.Errorf("%w: record path is required", ErrInvalidConfig)
	}
	if !record.ValidSlot(c.OwnSlot) {
		return fmt.Errorf("%w: own slot %d out of range", ErrInvalidConfig, c.OwnSlot)
	}
	if !record.ValidSlot(c.Target.Slot) {
		return fmt.Errorf("%w: peer slot %d out of range", ErrInvalidConfig, c.Target.Slot)
	}
	if c.OwnSlot == c.Target.Slot {
		return fmt.Errorf("%w: own slot and peer slot are both %d", ErrInvalidConfig, c.OwnSlot)
	}
	if strings.TrimSpace(c.Target.Path) == "" {
		return fmt.Errorf("%w: target path is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Target.Execution) == "" {
		return fmt.Errorf("%w: target execution is required", ErrInvalidConfig)
	}
	if c.Interval < 0 || c.GraceDelay < 0 || c.HistoryTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	for i, kv := range c.Launch.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("%w: env[%d] %q is not KEY=VALUE", ErrInvalidConfig, i, kv)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = fmt.Sprintf("slot%d", c.OwnSlot)
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.HistoryTimeout == 0 {
		c.HistoryTimeout = DefaultHistoryTimeout
	}
	if c.Launch.Name == "" {
		c.Launch.Name = c.Name + "-peer"
	}
	return c
}
