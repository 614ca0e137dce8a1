// Package env composes the environment passed to spawned tunnel engine
// processes. The OS environment is the base; supervisor-wide pairs layer on
// top, and per-process pairs layer last. Values may reference other
// variables as ${VAR}; references are resolved against the composed map.
package env

import (
	"os"
	"strings"
)

// Var maps environment keys to values.
type Var map[string]string

// Env holds supervisor-wide overrides plus a cached copy of the base
// environment.
type Env struct {
	overrides Var
	base      Var
}

func New() *Env {
	return &Env{overrides: make(Var)}
}

// FromOS snapshots the current process environment as the base. Merge calls
// it lazily when no snapshot exists yet.
func (e *Env) FromOS() {
	e.base = parsePairs(os.Environ())
}

// Set records one supervisor-wide override.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.overrides == nil {
		e.overrides = make(Var)
	}
	e.overrides[k] = v
}

// Unset drops a supervisor-wide override. The base environment is not
// touched.
func (e *Env) Unset(k string) {
	delete(e.overrides, k)
}

// Merge builds the final "K=V" environment for one process: base, then
// supervisor-wide overrides, then perProc pairs, with ${VAR} references
// expanded once against the composed map. Malformed perProc entries
// (no '=', or an empty key) are skipped.
func (e *Env) Merge(perProc []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.overrides)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.overrides {
		m[k] = v
	}
	for k, v := range parsePairs(perProc) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func parsePairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// expand substitutes ${VAR} occurrences. Single pass, no recursion; unknown
// names are left as written.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
