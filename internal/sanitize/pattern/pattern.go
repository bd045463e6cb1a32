// Package pattern provides an Extractor backed by a set of named regular
// expressions. Each pattern yields its own leftmost, non-overlapping matches;
// matches of different patterns may overlap freely, so results must pass
// through sanitize.Merge before substitution.
package pattern

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// Spec is an uncompiled label → expression pair.
type Spec struct {
	Label string
	Expr  string
}

// Defaults is the built-in pattern set.
var Defaults = []Spec{
	{"EMAIL", `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`},
	{"PHONE", `\b(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{2,4}\)?[-.\s]?)?\d{3,4}[-.\s]?\d{3,4}\b|\b1[3-9]\d{9}\b`},
	{"IDCN", `\b\d{17}[\dXx]\b|\b\d{15}\b`},
	{"IPV4", `\b(?:\d{1,3}\.){3}\d{1,3}\b`},
	{"CREDIT_CARD", `\b(?:\d{4}[-\s]?){3}\d{4}\b`},
	{"BANK_ACCOUNT", `\b\d{16,19}\b`},
	{"URL", `https?://[^\s<>"]+`},
}

type compiled struct {
	label string
	re    *regexp.Regexp
}

// Extractor matches compiled patterns in registration order.
type Extractor struct {
	mu       sync.RWMutex
	patterns []compiled
}

// New compiles specs. A malformed expression or an invalid label is a
// configuration error; nothing is registered in that case.
func New(specs []Spec) (*Extractor, error) {
	e := &Extractor{}
	for _, s := range specs {
		if err := e.Add(s.Label, s.Expr); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Default returns an Extractor with Defaults followed by extra. An extra spec
// reusing a default label replaces that default in place. Matches of
// different patterns starting at the same offset are resolved in
// registration order, so a default beats an extra pattern there.
func Default(extra ...Spec) (*Extractor, error) {
	specs := make([]Spec, 0, len(Defaults)+len(extra))
	specs = append(specs, Defaults...)
	specs = append(specs, extra...)
	return New(specs)
}

// Add compiles expr and registers it under label. An existing label keeps its
// position and gets the new expression.
func (e *Extractor) Add(label, expr string) error {
	if !sanitize.ValidLabel(label) {
		return sanitize.ConfigError("pattern "+label, sanitize.ErrInvalidLabel)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return sanitize.ConfigError("pattern "+label, fmt.Errorf("compile %q: %w", expr, err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.patterns {
		if e.patterns[i].label == label {
			e.patterns[i].re = re
			return nil
		}
	}
	e.patterns = append(e.patterns, compiled{label: label, re: re})
	return nil
}

// Labels returns the registered labels in extraction order.
func (e *Extractor) Labels() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.patterns))
	for i, p := range e.patterns {
		out[i] = p.label
	}
	return out
}

// Extract returns every match of every pattern. Empty matches are skipped.
func (e *Extractor) Extract(_ context.Context, text string) ([]sanitize.Entity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var entities []sanitize.Entity
	for _, p := range e.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			entities = append(entities, sanitize.Entity{
				Text:       text[loc[0]:loc[1]],
				Label:      p.label,
				Start:      loc[0],
				End:        loc[1],
				Confidence: 1.0,
			})
		}
	}
	return entities, nil
}
