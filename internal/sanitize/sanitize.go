// Package sanitize is the reversible redaction engine. Extractors propose
// sensitive entities, a Masker replaces each with a stable salted placeholder
// token, and the returned Mapping restores the originals in text that comes
// back from an untrusted model.
//
// Usage:
//
//	tk, _ := sanitize.NewTokenizer(salt)
//	m, _ := sanitize.NewMasker(extractor, tk)
//	res, err := m.Mask(ctx, text)
//	// send res.Text upstream
//	answer, err = m.Unmask(answer, res.Mapping)
package sanitize

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
)

// Result is the outcome of one Mask call.
type Result struct {
	Text     string   // masked text
	Mapping  Mapping  // token → original value
	Entities []Entity // applied entities, descending by Start
}

// Masker substitutes extracted entities with tokens. It holds no per-call
// state and is safe for concurrent use when its Extractor is.
type Masker struct {
	extractor Extractor
	tokens    *Tokenizer
	logger    hclog.Logger
}

// Option configures a Masker.
type Option func(*Masker)

// WithLogger sets the logger used for collision and substitution messages.
func WithLogger(l hclog.Logger) Option {
	return func(m *Masker) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMasker creates a Masker. The extractor must produce non-overlapping
// entities; wrap bare pattern extractors in a Hybrid to get that guarantee.
func NewMasker(extractor Extractor, tokenizer *Tokenizer, opts ...Option) (*Masker, error) {
	if extractor == nil {
		return nil, ConfigError("masker", ErrNoExtractors)
	}
	if tokenizer == nil {
		return nil, ConfigError("masker", ErrShortSalt)
	}
	m := &Masker{
		extractor: extractor,
		tokens:    tokenizer,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Extractor returns the configured extractor.
func (m *Masker) Extractor() Extractor { return m.extractor }

// Tokenizer returns the configured tokenizer.
func (m *Masker) Tokenizer() *Tokenizer { return m.tokens }

// Entities runs extraction only.
func (m *Masker) Entities(ctx context.Context, text string) ([]Entity, error) {
	entities, err := m.extractor.Extract(ctx, text)
	if err != nil {
		return nil, ExtractionError("extract", err)
	}
	return entities, nil
}

// Mask replaces every extracted entity with its token. Entities are applied
// from the highest Start down so that offsets of the ones still pending stay
// valid against the partially substituted string. Any failure aborts the
// call without a partial result.
func (m *Masker) Mask(ctx context.Context, text string) (*Result, error) {
	entities, err := m.Entities(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return &Result{Text: text, Mapping: Mapping{}}, nil
	}

	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	for i, e := range sorted {
		if !e.ValidFor(text) {
			return nil, MaskingError("mask", fmt.Errorf("%w: %s", ErrInvalidSpan, e))
		}
		if i > 0 && e.End > sorted[i-1].Start {
			return nil, MaskingError("mask", fmt.Errorf("%w: %s and %s", ErrOverlap, e, sorted[i-1]))
		}
	}

	mapping := make(Mapping)
	masked := text
	for _, e := range sorted {
		token := m.tokens.Token(e.Label, e.Text)
		if !mapping.Add(token, e.Text) && mapping[token] != e.Text {
			m.logger.Warn("token collision, keeping first value", "token", token, "label", e.Label)
		}
		masked = masked[:e.Start] + token + masked[e.End:]
	}

	m.logger.Debug("masked text", "entities", len(sorted), "tokens", len(mapping))
	return &Result{Text: masked, Mapping: mapping, Entities: sorted}, nil
}

// Unmask replaces every token of mapping found in text with its original
// value. Token-shaped substrings that are not keys of mapping are left as is.
func (m *Masker) Unmask(text string, mapping Mapping) (string, error) {
	return Unmask(text, mapping)
}

// UnmaskLabels restores only tokens whose label is in labels.
func (m *Masker) UnmaskLabels(text string, mapping Mapping, labels []string) (string, error) {
	return Unmask(text, mapping.FilterLabels(labels))
}

// Unmask is the Masker-independent form of Masker.Unmask; restoring needs
// nothing but the mapping.
func Unmask(text string, mapping Mapping) (string, error) {
	if len(mapping) == 0 || text == "" {
		return text, nil
	}
	if _, ok := mapping[""]; ok {
		return "", UnmaskingError("unmask", ErrEmptyToken)
	}
	return restore(text, mapping.Tokens(), mapping), nil
}
