//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/pairwatch/internal/detector"
	"github.com/loykin/pairwatch/internal/env"
	"github.com/loykin/pairwatch/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func killPID(t *testing.T, pid int) {
	t.Helper()
	t.Cleanup(func() { _ = syscall.Kill(pid, syscall.SIGKILL) })
}

func TestLaunchStartsDetachedProcess(t *testing.T) {
	l := NewLauncher(Spec{}, nil)
	pid, err := l.Launch(context.Background(), "sleep 5")
	require.NoError(t, err)
	killPID(t, pid)

	assert.Greater(t, pid, 0)
	assert.True(t, detector.IsAlive(pid))

	// setsid makes the child the leader of its own process group
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "launched process must lead its own group")
	assert.NotEqual(t, syscall.Getpgrp(), pgid)
}

func TestConfigureSysProcAttrSetsid(t *testing.T) {
	cmd := exec.Command("true")
	configureSysProcAttr(cmd)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
}

func TestLaunchReapsExitedChild(t *testing.T) {
	l := NewLauncher(Spec{}, nil)
	pid, err := l.Launch(context.Background(), "sh -c 'exit 0'")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !detector.IsAlive(pid) }, 3*time.Second, 20*time.Millisecond)
}

func TestLaunchErrors(t *testing.T) {
	l := NewLauncher(Spec{}, nil)

	_, err := l.Launch(context.Background(), "__definitely_not_a_binary__ --flag")
	assert.True(t, errors.Is(err, ErrLaunch), "missing binary: %v", err)

	_, err = l.Launch(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrLaunch), "empty command: %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Launch(ctx, "sleep 1")
	assert.True(t, errors.Is(err, ErrLaunch), "cancelled ctx: %v", err)
}

func TestLaunchAppliesWorkDirEnvAndLogs(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	logs := filepath.Join(dir, "logs")

	l := NewLauncher(Spec{
		Name:    "peer-b",
		WorkDir: work,
		Env:     []string{"PAIRWATCH_TEST=hello"},
		Log:     logger.Config{Dir: logs},
	}, nil)
	pid, err := l.Launch(context.Background(), "sh -c 'pwd; echo $PAIRWATCH_TEST; echo oops 1>&2'")
	require.NoError(t, err)
	killPID(t, pid)

	outPath := filepath.Join(logs, "peer-b.stdout.log")
	errPath := filepath.Join(logs, "peer-b.stderr.log")
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(outPath)
		return err == nil && strings.Contains(string(b), "hello") && strings.Contains(string(b), work)
	}, 3*time.Second, 20*time.Millisecond, "stdout log should contain workdir and env value")
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(errPath)
		return err == nil && strings.Contains(string(b), "oops")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLaunchUsesBaseEnvWithExpansion(t *testing.T) {
	logs := t.TempDir()
	l := NewLauncher(Spec{
		Name: "peer-env",
		Env:  []string{"DERIVED=${BASE_ONLY}-y"},
		Log:  logger.Config{StdoutPath: filepath.Join(logs, "out.log")},
	}, nil)
	l.Env = env.Isolated().WithSet("BASE_ONLY", "x")

	pid, err := l.Launch(context.Background(), "sh -c 'echo $DERIVED; echo home=$HOME'")
	require.NoError(t, err)
	killPID(t, pid)

	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(logs, "out.log"))
		return err == nil && strings.Contains(string(b), "x-y") && strings.Contains(string(b), "home=\n")
	}, 3*time.Second, 20*time.Millisecond, "isolated base must not leak the OS environment")
}
