// Package config loads a watchdog definition from TOML with environment
// overrides (PAIRWATCH_ prefix, nested keys joined by "_").
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/pairwatch/internal/detector"
	"github.com/loykin/pairwatch/internal/env"
	"github.com/loykin/pairwatch/internal/logger"
	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/process"
	"github.com/loykin/pairwatch/internal/record"
	pwtls "github.com/loykin/pairwatch/internal/tls"
	"github.com/loykin/pairwatch/internal/watchdog"
)

// EnvPrefix is the prefix of environment overrides, e.g. PAIRWATCH_TARGET_PATH.
const EnvPrefix = "PAIRWATCH"

// FileConfig represents the top-level TOML structure.
//
//	name = "a"
//	own_slot = 0
//	record = "/var/lib/pairwatch/pair.rec"
//
//	[target]
//	slot = 1
//	path = "/opt/b/app"
//	execution = "/opt/b/app --serve"
//	backup = "/opt/backup/b.zip"
type FileConfig struct {
	Name        string           `mapstructure:"name"`
	OwnSlot     int              `mapstructure:"own_slot"`
	Record      string           `mapstructure:"record"`
	Interval    time.Duration    `mapstructure:"interval"`
	GraceDelay  time.Duration    `mapstructure:"grace_delay"`
	AutoRestart bool             `mapstructure:"auto_restart"`
	Announce    bool             `mapstructure:"announce"`
	ExpectExe   string           `mapstructure:"expect_exe"`
	Target      TargetConfig     `mapstructure:"target"`
	Detectors   []DetectorEntry  `mapstructure:"detectors"`
	Log         logger.LogConfig `mapstructure:"log"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Server      ServerConfig     `mapstructure:"server"`
	History     HistoryConfig    `mapstructure:"history"`
}

// TargetConfig describes the peer and how it is launched.
type TargetConfig struct {
	Slot      int           `mapstructure:"slot"` // -1 means "the other slot"
	Path      string        `mapstructure:"path"`
	Execution string        `mapstructure:"execution"`
	Backup    string        `mapstructure:"backup"`
	WorkDir   string        `mapstructure:"workdir"`
	Env       []string      `mapstructure:"env"`
	EnvFiles  []string      `mapstructure:"env_files"`
	CleanEnv  bool          `mapstructure:"clean_env"`
	Log       logger.Config `mapstructure:"log"`
}

type DetectorEntry struct {
	Type    string        `mapstructure:"type"`
	Path    string        `mapstructure:"path"`
	PID     int           `mapstructure:"pid"`
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled   bool                    `mapstructure:"enabled"`
	Listen    string                  `mapstructure:"listen"`
	PeerUsage metrics.PeerUsageConfig `mapstructure:"peer_usage"`
}

type ServerConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Listen   string       `mapstructure:"listen"`
	BasePath string       `mapstructure:"base_path"`
	TLS      pwtls.Config `mapstructure:"tls"`
}

type HistoryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Sinks   []string      `mapstructure:"sinks"` // DSNs, see history/factory
	Timeout time.Duration `mapstructure:"timeout"`
}

// Config is a loaded and validated configuration.
type Config struct {
	Watchdog watchdog.Config
	Log      logger.LogConfig
	Metrics  MetricsConfig
	Server   ServerConfig
	History  HistoryConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "")
	v.SetDefault("own_slot", 0)
	v.SetDefault("record", "")
	v.SetDefault("interval", watchdog.DefaultInterval)
	v.SetDefault("grace_delay", watchdog.DefaultGraceDelay)
	v.SetDefault("auto_restart", true)
	v.SetDefault("announce", true)
	v.SetDefault("expect_exe", "")
	v.SetDefault("target.slot", -1)
	v.SetDefault("target.path", "")
	v.SetDefault("target.execution", "")
	v.SetDefault("target.backup", "")
	v.SetDefault("target.workdir", "")
	v.SetDefault("target.clean_env", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")
	v.SetDefault("metrics.peer_usage.enabled", false)
	v.SetDefault("metrics.peer_usage.max_history", 0)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8089")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.timeout", watchdog.DefaultHistoryTimeout)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads path (optional: an empty path uses defaults and environment
// only) and returns the validated configuration.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fc.Build(baseDir(path))
}

// Parse decodes TOML from a string; relative paths resolve against dir.
func Parse(data, dir string) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(strings.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fc.Build(dir)
}

func baseDir(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

// Build converts the file form into runtime configuration. Relative env
// file paths resolve against dir.
func (fc FileConfig) Build(dir string) (*Config, error) {
	peerSlot := fc.Target.Slot
	if peerSlot == -1 {
		peerSlot = record.Other(fc.OwnSlot)
	}
	dets, err := buildDetectors(fc.Detectors)
	if err != nil {
		return nil, err
	}
	launchEnv, err := buildEnv(fc.Target, dir)
	if err != nil {
		return nil, err
	}

	wc := watchdog.Config{
		Name:       fc.Name,
		OwnSlot:    fc.OwnSlot,
		RecordPath: fc.Record,
		Target: watchdog.Target{
			Path:      fc.Target.Path,
			Execution: fc.Target.Execution,
			Backup:    fc.Target.Backup,
			Slot:      peerSlot,
		},
		Interval:           fc.Interval,
		GraceDelay:         fc.GraceDelay,
		DisableAutoRestart: !fc.AutoRestart,
		DisableAnnounce:    !fc.Announce,
		ExpectExe:          fc.ExpectExe,
		Detectors:          dets,
		Launch: process.Spec{
			WorkDir: fc.Target.WorkDir,
			Env:     launchEnv,
			Log:     fc.Target.Log,
		},
		CleanEnv:       fc.Target.CleanEnv,
		HistoryTimeout: fc.History.Timeout,
	}
	if err := wc.Validate(); err != nil {
		return nil, err
	}
	if _, err := logger.ParseLevel(fc.Log.Level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if err := fc.Server.TLS.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if fc.History.Enabled && len(fc.History.Sinks) == 0 {
		return nil, errors.New("history enabled but no sinks configured")
	}
	return &Config{
		Watchdog: wc,
		Log:      fc.Log,
		Metrics:  fc.Metrics,
		Server:   fc.Server,
		History:  fc.History,
	}, nil
}

func buildDetectors(entries []DetectorEntry) ([]detector.Detector, error) {
	dets := make([]detector.Detector, 0, len(entries))
	for i, d := range entries {
		switch d.Type {
		case "pidfile":
			if d.Path == "" {
				return nil, fmt.Errorf("detector[%d] pidfile requires path", i)
			}
			dets = append(dets, detector.PIDFileDetector{PIDFile: d.Path})
		case "pid":
			if d.PID <= 0 {
				return nil, fmt.Errorf("detector[%d] pid requires positive pid", i)
			}
			dets = append(dets, detector.PIDDetector{PID: d.PID})
		case "command":
			if d.Command == "" {
				return nil, fmt.Errorf("detector[%d] command requires command", i)
			}
			dets = append(dets, detector.CommandDetector{Command: d.Command, Timeout: d.Timeout})
		default:
			return nil, fmt.Errorf("unknown detector type %q at detector[%d]", d.Type, i)
		}
	}
	return dets, nil
}

// buildEnv loads env files in order, then applies the inline env list.
func buildEnv(t TargetConfig, dir string) ([]string, error) {
	e := env.Isolated()
	for _, p := range t.EnvFiles {
		if dir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		kvs, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
		for _, kv := range kvs {
			k, v, _ := strings.Cut(kv, "=")
			e.Set(k, v)
		}
	}
	for _, kv := range t.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("target env entry %q must be KEY=VALUE", kv)
		}
		e.Set(k, v)
	}
	if len(e.Var) == 0 {
		return nil, nil
	}
	// no expansion here: references resolve against the launch-time environment
	out := make([]string, 0, len(e.Var))
	for k, v := range e.Var {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out, nil
}
