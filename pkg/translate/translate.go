// Package translate implements the optional address Translator (spec
// §4.9): a 1:1 Addr rewrite map applied to a Flow before it reaches the
// Sampler and Flow Queue.
package translate

import "github.com/flowtap/flowtap/pkg/flow"

// Translator rewrites flow.Src/Dst according to a fixed set of 1:1 address
// rewrite rules, configured via --translate (spec §6).
type Translator struct {
	rules map[flow.Addr]flow.Addr
}

// New builds a Translator from a set of rewrite rules.
func New(rules map[flow.Addr]flow.Addr) *Translator {
	if rules == nil {
		rules = map[flow.Addr]flow.Addr{}
	}
	return &Translator{rules: rules}
}

// Translate rewrites f.Key.Src and/or f.Key.Dst in place if a matching rule
// exists; unmatched addresses are left untouched.
func (t *Translator) Translate(f *flow.Flow) {
	if len(t.rules) == 0 {
		return
	}
	if to, ok := t.rules[f.Key.Src]; ok {
		f.Key.Src = to
	}
	if to, ok := t.rules[f.Key.Dst]; ok {
		f.Key.Dst = to
	}
}

// Len reports the number of configured rewrite rules.
func (t *Translator) Len() int { return len(t.rules) }
