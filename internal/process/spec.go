package process

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/loykin/pairwatch/internal/logger"
)

// Spec describes how a peer process is launched. Command is the exact
// execution string from the target descriptor; it is never derived from the
// artifact path.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Command string        `json:"command" mapstructure:"command"`
	WorkDir string        `json:"work_dir" mapstructure:"work_dir"`
	Env     []string      `json:"env" mapstructure:"env"`
	Log     logger.Config `json:"log" mapstructure:"log"`
}

// Validate checks that the spec can be launched.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("launch spec requires command")
	}
	for _, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || strings.TrimSpace(k) == "" {
			return errors.New("launch spec env entry " + kv + " must be KEY=VALUE")
		}
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return trueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		return strings.Fields(p)[0], unquoteScript(trim[len(p):]), true
	}
	return "", "", false
}

// unquoteScript strips one pair of outer quotes when they enclose the whole
// script. "'a' 'b'" is left alone: its first and last quotes belong to
// different words.
func unquoteScript(s string) string {
	n := len(s)
	if n < 2 {
		return s
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[n-1] != q {
		return s
	}
	inner := s[1 : n-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] != q {
			continue
		}
		// no escapes inside single quotes; \" stays inside double quotes
		if q == '"' && i > 0 && inner[i-1] == '\\' {
			continue
		}
		return s
	}
	return inner
}
