//go:build !windows

package pairwatch

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pairwatch/internal/history"
	"github.com/loykin/pairwatch/internal/history/sqlite"
)

func TestServiceRestartsPeerAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "peer.sh")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	db := filepath.Join(dir, "history.db")

	c, err := LoadConfig(writeConfig(t, dir, `
name = "b"
own_slot = 1
record = "`+filepath.Join(dir, "pair.rec")+`"
interval = "50ms"
grace_delay = "10ms"
[target]
path = "`+target+`"
execution = "`+target+`"
[history]
enabled = true
sinks = ["sqlite://`+db+`"]
[metrics.peer_usage]
enabled = true
`))
	require.NoError(t, err)

	s, err := NewService(c, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	var peer int
	require.Eventually(t, func() bool {
		st := s.Controller().Snapshot()
		peer = st.PeerPID
		return st.Restarts >= 1 && st.PeerRunning
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = syscall.Kill(peer, syscall.SIGKILL) })

	pair, err := ReadRecord(c.Watchdog.RecordPath)
	require.NoError(t, err)
	assert.Equal(t, RecordPair{peer, os.Getpid()}, pair)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	sink, err := sqlite.New("sqlite://" + db)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	n, err := sink.Count(context.Background(), "b", history.EventRestart)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func writeConfig(t *testing.T, dir, data string) string {
	t.Helper()
	p := filepath.Join(dir, "pairwatch.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}
