//go:build !windows

package process

import "os/exec"

// shellCommand runs script through the POSIX shell. The absolute path keeps
// it independent of PATH in a replaced environment.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// trueCommand returns a command that always succeeds on Unix systems
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
