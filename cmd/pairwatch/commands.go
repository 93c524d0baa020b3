package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/pairwatch"
	"github.com/loykin/pairwatch/internal/logger"
	"github.com/loykin/pairwatch/internal/record"
	"github.com/loykin/pairwatch/internal/redeploy"
	"github.com/loykin/pairwatch/internal/watchdog"
	"github.com/loykin/pairwatch/pkg/client"
)

const shutdownTimeout = 10 * time.Second

type command struct {
	out io.Writer
}

func configArg(path string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return path
}

// Run loads the config and supervises the peer until SIGINT/SIGTERM.
func (c command) Run(f RunFlags, args []string) error {
	path := configArg(f.ConfigPath, args)
	cfg, err := pairwatch.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.Daemonize {
		return daemonize(f.PidFile, f.LogFile)
	}

	lg, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	prev := slog.Default()
	slog.SetDefault(lg)
	defer slog.SetDefault(prev)

	svc, err := pairwatch.NewService(cfg, lg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.StopAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.StopAfter)
		defer cancel()
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		lg.Info("Shutting down")
	case <-svc.Controller().Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = svc.Stop(sctx)
	if rerr := removePidFile(f.PidFile); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		lg.Warn("Failed to remove pid file", "path", f.PidFile, "error", rerr)
	}
	return err
}

// Check runs a single check cycle from the config and prints its result.
func (c command) Check(f CheckFlags, args []string) error {
	cfg, err := pairwatch.LoadConfig(configArg(f.ConfigPath, args))
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	svc, err := pairwatch.NewService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	res := svc.Controller().CheckCycle(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

// RecordShow prints both slots of the coordination record.
func (c command) RecordShow(f RecordFlags) error {
	pair, err := record.Read(f.Path)
	if err != nil {
		return err
	}
	printJSON(c.out, map[string]any{
		"path":   f.Path,
		"slot0":  pair[0],
		"slot1":  pair[1],
		"record": pair.String(),
	})
	return nil
}

// RecordWrite stores own and peer ids, own id at f.Slot.
func (c command) RecordWrite(f RecordFlags) error {
	if err := record.WriteBoth(f.Path, f.Slot, f.OwnID, f.PeerID); err != nil {
		return err
	}
	return c.RecordShow(f)
}

// Probe reports whether pid is alive, optionally checking its executable.
func (c command) Probe(f ProbeFlags) error {
	if f.PID <= 0 {
		return errors.New("--pid must be positive")
	}
	p := watchdog.PIDProber{ExpectExe: f.Exe}
	printJSON(c.out, map[string]any{
		"pid":   f.PID,
		"exe":   f.Exe,
		"alive": p.Alive(context.Background(), f.PID),
	})
	return nil
}

// Redeploy makes sure the target exists, restoring it from the backup.
func (c command) Redeploy(f RedeployFlags) error {
	if f.Target == "" {
		return errors.New("--target is required")
	}
	res, err := redeploy.EnsurePresent(f.Target, f.Backup)
	printJSON(c.out, map[string]any{"target": f.Target, "result": res.String()})
	return err
}

// Status queries a running watchdog's status API.
func (c command) Status(f StatusFlags) error {
	apiURL := f.APIUrl
	if apiURL == "" {
		apiURL = client.DefaultConfig().BaseURL
	}
	cl, err := client.New(client.Config{
		BaseURL:  apiURL,
		Timeout:  f.APITimeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("watchdog not reachable at %s", apiURL)
	}
	if f.Check {
		res, err := cl.Check(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, res)
		return nil
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}
