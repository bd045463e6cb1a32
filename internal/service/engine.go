package service

import (
	"github.com/hashicorp/go-hclog"

	"github.com/gonkalabs/ragguard/internal/config"
	"github.com/gonkalabs/ragguard/internal/pipeline"
	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/sanitize/llmextractor"
	"github.com/gonkalabs/ragguard/internal/sanitize/ner"
	"github.com/gonkalabs/ragguard/internal/sanitize/pattern"
)

// Engine is a Masker together with the extractors behind it.
type Engine struct {
	Masker    *sanitize.Masker
	Patterns  *pattern.Extractor      // nil for delegated_only
	Delegated *llmextractor.Extractor // nil when no completion function is wired
	NER       *ner.Client             // nil unless the hybrid strategy has a sidecar
	Strategy  config.Strategy
	MergeMode sanitize.MergeMode
}

// NewEngine builds the extractor stack for cfg.Strategy. Every strategy
// routes through a Hybrid so overlapping candidates are always merged before
// substitution:
//
//	pattern_only:   Hybrid(pattern)
//	delegated_only: Hybrid(delegated), complete is required
//	hybrid:         Hybrid(pattern, [ner], [delegated])
func NewEngine(cfg *config.Cfg, complete llmextractor.CompleteFunc, logger hclog.Logger) (*Engine, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tk, err := sanitize.NewTokenizer(cfg.Salt)
	if err != nil {
		return nil, err
	}

	eng := &Engine{Strategy: cfg.Strategy, MergeMode: cfg.MergeMode}

	newPatterns := func() error {
		extra := make([]pattern.Spec, len(cfg.Patterns))
		for i, p := range cfg.Patterns {
			extra[i] = pattern.Spec{Label: p.Label, Expr: p.Match}
		}
		eng.Patterns, err = pattern.Default(extra...)
		return err
	}
	newDelegated := func() error {
		threshold := cfg.ConfidenceThreshold
		eng.Delegated, err = llmextractor.New(llmextractor.Config{
			Complete:      complete,
			Labels:        cfg.EntityLabels,
			Threshold:     &threshold,
			MaxTextLength: cfg.MaxTextLength,
			Logger:        logger.Named("delegated"),
		})
		return err
	}

	var extractors []sanitize.Extractor
	switch cfg.Strategy {
	case config.PatternOnly:
		if err := newPatterns(); err != nil {
			return nil, err
		}
		extractors = append(extractors, eng.Patterns)

	case config.DelegatedOnly:
		if err := newDelegated(); err != nil {
			return nil, err
		}
		extractors = append(extractors, eng.Delegated)

	case config.Hybrid:
		if err := newPatterns(); err != nil {
			return nil, err
		}
		extractors = append(extractors, eng.Patterns)
		if cfg.NERURL != "" {
			eng.NER = ner.New(cfg.NERURL, logger.Named("ner"))
			extractors = append(extractors, eng.NER)
		}
		if complete != nil {
			if err := newDelegated(); err != nil {
				return nil, err
			}
			extractors = append(extractors, eng.Delegated)
		} else {
			logger.Warn("hybrid strategy without completion function, delegated extraction disabled")
		}

	default:
		_, err := config.ParseStrategy(string(cfg.Strategy))
		return nil, err
	}

	h, err := sanitize.NewHybrid(cfg.MergeMode, logger.Named("hybrid"), extractors...)
	if err != nil {
		return nil, err
	}
	eng.Masker, err = sanitize.NewMasker(h, tk, sanitize.WithLogger(logger.Named("masker")))
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// Info describes the extractor stack.
func (e *Engine) Info() pipeline.Info {
	info := pipeline.Info{
		Strategy:  string(e.Strategy),
		MergeMode: e.MergeMode.String(),
		NER:       e.NER != nil,
	}
	if e.Patterns != nil {
		info.PatternLabels = e.Patterns.Labels()
	}
	if e.Delegated != nil {
		info.DelegatedLabels = e.Delegated.Labels()
	}
	return info
}
