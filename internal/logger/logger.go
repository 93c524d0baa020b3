package logger

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config describes where a launched peer's stdout and stderr go.
// If StdoutPath/StderrPath are empty and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. With nothing set the
// streams are discarded.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout" mapstructure:"stdout"`
	StderrPath string `json:"stderr" mapstructure:"stderr"`
}

// Paths returns the stdout and stderr file paths for name; empty means discard.
func (c Config) Paths(name string) (string, string) {
	stdout, stderr := c.StdoutPath, c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	return stdout, stderr
}

// OpenFiles opens the stdio files for name in append mode. Plain files are
// handed to the child instead of rotating writers: the child keeps writing
// to its own descriptor after the process that launched it is gone. When
// both streams resolve to the same path a single file is returned twice.
func (c Config) OpenFiles(name string) (*os.File, *os.File, error) {
	outPath, errPath := c.Paths(name)
	out, err := openAppend(outPath)
	if err != nil {
		return nil, nil, err
	}
	if errPath == outPath {
		return out, out, nil
	}
	errF, err := openAppend(errPath)
	if err != nil {
		if out != nil {
			_ = out.Close()
		}
		return nil, nil, err
	}
	return out, errF, nil
}

func openAppend(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// #nosec G304
	return os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}
