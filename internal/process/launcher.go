package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/pairwatch/internal/env"
)

// ErrLaunch wraps every failure to start a peer process.
var ErrLaunch = errors.New("launch failed")

// Launcher starts peer processes detached from the caller's session, so a
// closed terminal or a killed watchdog does not take the peer down with it.
// Launched children are reaped in the background and never linger as zombies.
type Launcher struct {
	// Defaults applied to every launch; Command is taken from the Launch call.
	Base   Spec
	Logger *slog.Logger
	// Env is the base environment; nil inherits the watchdog's own.
	Env *env.Env
}

// NewLauncher returns a Launcher using base for workdir, env and stdio.
func NewLauncher(base Spec, lg *slog.Logger) *Launcher {
	if lg == nil {
		lg = slog.Default()
	}
	return &Launcher{Base: base, Logger: lg}
}

// Launch starts execution and returns the new process id. It does not wait
// for the process beyond a successful start.
func (l *Launcher) Launch(ctx context.Context, execution string) (int, error) {
	spec := l.Base
	spec.Command = execution
	if err := spec.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 || l.Env != nil {
		e := l.Env
		if e == nil {
			e = env.New()
		}
		cmd.Env = e.Merge(spec.Env)
	}
	configureSysProcAttr(cmd)

	// The child writes to the files itself; a pipe would break once the
	// watchdog exits.
	stdout, stderr, err := spec.Log.OpenFiles(logName(spec))
	if err != nil {
		return 0, fmt.Errorf("%w: open log files: %v", ErrLaunch, err)
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	closeFiles := func() {
		if stdout != nil {
			_ = stdout.Close()
		}
		if stderr != nil && stderr != stdout {
			_ = stderr.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		closeFiles()
		return 0, fmt.Errorf("%w: %s: %v", ErrLaunch, execution, err)
	}
	// the child holds its own descriptors now
	closeFiles()

	pid := cmd.Process.Pid
	lg := l.logger()
	lg.Info("Peer process launched", "command", execution, "pid", pid)
	go func() {
		err := cmd.Wait()
		lg.Info("Launched peer exited", "pid", pid, "error", err)
	}()
	return pid, nil
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func logName(s Spec) string {
	if n := strings.TrimSpace(s.Name); n != "" {
		return n
	}
	return "peer"
}
