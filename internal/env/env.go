// Package env composes the environment handed to a launched peer.
package env

import (
	"bufio"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type Var map[string]string

// Env layers variables over a base taken from the OS environment.
type Env struct {
	Var    Var // overrides (K->V)
	base   Var
	withOS bool
}

// New returns an Env whose base is the current process environment.
func New() *Env {
	return &Env{Var: make(Var), withOS: true}
}

// Isolated returns an Env without the OS environment as base.
func Isolated() *Env {
	return &Env{Var: make(Var)}
}

// WithSet returns e after setting K=V; convenient for chaining.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// Set sets an override K=V. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes an override.
func (e *Env) Unset(k string) { delete(e.Var, k) }

// Merge composes the final environment in "K=V" form, sorted by key:
// the OS base (unless isolated), then the overrides, then extra.
// ${VAR} references in values are expanded once against the composed map;
// unknown references are left in place.
func (e *Env) Merge(extra []string) []string {
	m := make(Var)
	if e.withOS {
		if e.base == nil {
			e.base = parse(os.Environ())
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range parse(extra) {
		m[k] = v
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	slices.Sort(out)
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
}

// LoadFile parses a simple .env file with KEY=VALUE lines. Blank lines and
// lines starting with # are ignored, as is a leading "export ".
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, k+"="+strings.TrimSpace(v))
	}
	return out, sc.Err()
}
