package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/subosito/gotenv"
)

type Var map[string]string

// Env composes the environment handed to spawned programs.
type Env struct {
	Var Var // global variables (K->V)
	env Var // base, from the OS when enabled
}

func New() *Env {
	return &Env{Var: make(Var), env: make(Var)}
}

// FromOS uses the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitPair(kv); ok {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := splitPair(kv); ok {
			e.Set(k, v)
		}
	}
}

// LoadFile applies a .env file. Parsing follows gotenv: # comments, an
// optional "export " prefix, quoted values, and ${VAR} references resolved
// while the file is read. Malformed lines are an error.
func (e *Env) LoadFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for k, v := range vars {
		e.Set(k, v)
	}
	return nil
}

// Merge composes the final environment: base, then globals, then perProc
// overrides. ${VAR} references are expanded against the composed set;
// unknown references are left as written. The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var, len(e.env)+len(e.Var)+len(perProc))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perProc {
		if k, v, ok := splitPair(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Empty reports whether nothing would be added to an empty environment.
func (e *Env) Empty() bool { return len(e.env) == 0 && len(e.Var) == 0 }

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}

func splitPair(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
