package env

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// FuzzLoadFileMerge feeds arbitrary dotenv content through LoadFile and
// Merge, the path a peer's env_files take before launch.
func FuzzLoadFileMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x\n", "C=${B}-y")
	f.Add("export FOO=bar\n# comment\n\n", "FOO=${FOO}")
	f.Add("X=${Y}\nY=${X}\n", "")
	f.Add("U=${\n=novalue\nnoequals\n", "V=}${")

	f.Fuzz(func(t *testing.T, file, inline string) {
		if len(file) > 4096 || strings.ContainsRune(file, 0) {
			return
		}
		p := filepath.Join(t.TempDir(), "peer.env")
		if err := os.WriteFile(p, []byte(file), 0o600); err != nil {
			t.Fatal(err)
		}
		kvs, err := LoadFile(p)
		if err != nil {
			// only scanner errors (overlong lines) are possible here
			return
		}
		e := Isolated()
		for _, kv := range kvs {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" || strings.HasPrefix(k, "#") || k != strings.TrimSpace(k) {
				t.Fatalf("LoadFile returned bad entry %q", kv)
			}
			e.Set(k, v)
		}

		extra := strings.Split(inline, "\n")
		overridden := map[string]bool{}
		for _, kv := range extra {
			if k, _, ok := strings.Cut(kv, "="); ok {
				overridden[k] = true
			}
		}

		out := e.Merge(extra)
		if !slices.IsSorted(out) {
			t.Fatalf("merged env not sorted: %q", out)
		}
		seen := map[string]bool{}
		for _, kv := range out {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q", k)
			}
			seen[k] = true
			src, ok := e.Var[k]
			if ok && !overridden[k] && !strings.Contains(src, "${") && v != src {
				t.Fatalf("value without references changed: %q -> %q", src, v)
			}
		}
	})
}
