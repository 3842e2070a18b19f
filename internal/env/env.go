// Package env composes the environment handed to the worker process.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers configured variables over a base environment.
type Env struct {
	Var  Var // configured variables (K->V)
	base Var // cached base, normally the supervisor's own environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// Merge composes the final environment: base, then e.Var, then extra
// ("K=V") overrides. ${VAR} references are expanded once against the
// composed map. The result is sorted for stable output.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse splits "K=V" entries into a map, skipping entries without '=' or
// with an empty key.
func Parse(kvs []string) Var {
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

// expand substitutes ${KEY} references found in m; unknown references are
// left untouched.
func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		end := i + 2 + j
		b.WriteString(s[:i])
		if v, ok := m[s[i+2:end]]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : end+1])
		}
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}
