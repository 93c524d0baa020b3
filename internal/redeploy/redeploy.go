// Package redeploy restores a deleted peer artifact from its backup archive.
package redeploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Result is the outcome of EnsurePresent.
type Result int

const (
	// Unavailable means the artifact is missing and could not be restored.
	Unavailable Result = iota
	// Present means the artifact already existed; nothing was extracted.
	Present
	// Restored means the artifact was extracted from the backup archive.
	Restored
)

func (r Result) String() string {
	switch r {
	case Present:
		return "present"
	case Restored:
		return "restored"
	default:
		return "unavailable"
	}
}

var (
	// ErrUnavailable is returned with an Unavailable result.
	ErrUnavailable = errors.New("artifact unavailable")
	// ErrUnsupportedArchive is returned for backup files of an unknown format.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

// EnsurePresent makes sure target exists. A missing target is restored by
// extracting the whole backup archive into target's parent directory, so the
// archive holds the target's directory tree relative to that directory.
// Extraction problems are reported as Unavailable with an error describing
// them; nothing here is fatal to the caller.
func EnsurePresent(target, backup string) (Result, error) {
	if exists(target) {
		return Present, nil
	}
	if strings.TrimSpace(backup) == "" {
		return Unavailable, fmt.Errorf("%w: %s missing and no backup configured", ErrUnavailable, target)
	}
	if !exists(backup) {
		return Unavailable, fmt.Errorf("%w: %s missing and backup %s not found", ErrUnavailable, target, backup)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Unavailable, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}
	if err := Extract(backup, dir); err != nil {
		return Unavailable, fmt.Errorf("%w: extract %s: %v", ErrUnavailable, backup, err)
	}
	if !exists(target) {
		return Unavailable, fmt.Errorf("%w: %s not contained in backup %s", ErrUnavailable, target, backup)
	}
	return Restored, nil
}

// Extract unpacks archive into dir, choosing the format by file extension.
func Extract(archive, dir string) error {
	lower := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archive, dir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTarGz(archive, dir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(archive))
	}
}

func exists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// safeJoin resolves an archive entry name under dir and rejects names that
// would escape it.
func safeJoin(dir, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	target := filepath.Join(dir, filepath.FromSlash(name))
	cleanDir := filepath.Clean(dir)
	if target != cleanDir && !strings.HasPrefix(target, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path: '%s'", name)
	}
	return target, nil
}
