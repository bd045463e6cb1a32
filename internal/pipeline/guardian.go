package pipeline

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/sanitize/pattern"
)

// maskedText replaces entity text in reports when debug output is off.
const maskedText = "[MASKED]"

// Info describes the active extraction setup.
type Info struct {
	Strategy        string   `json:"strategy"`
	MergeMode       string   `json:"merge_mode"`
	PatternLabels   []string `json:"pattern_labels"`
	DelegatedLabels []string `json:"delegated_labels,omitempty"`
	NER             bool     `json:"ner"`
}

// Stats summarises one ProtectAndQuery call.
type Stats struct {
	Chunks         int    `json:"chunks_count"`
	MaskedEntities int    `json:"masked_entities"`
	PromptLength   int    `json:"prompt_length"`
	PromptTokens   int    `json:"prompt_tokens_estimate"`
	ResponseLength int    `json:"response_length"`
	Strategy       string `json:"strategy"`
}

// Answer is the result of ProtectAndQuery. Mapping is only filled when debug
// output is enabled.
type Answer struct {
	Answer       string           `json:"answer"`
	MaskedChunks []string         `json:"masked_chunks"`
	Prompt       string           `json:"prompt"`
	RawResponse  string           `json:"raw_response"`
	Mapping      sanitize.Mapping `json:"mapping"`
	Stats        Stats            `json:"stats"`
}

// MaskReport is the result of MaskText. Entity text reads [MASKED] and
// Mapping is empty unless debug output is enabled.
type MaskReport struct {
	MaskedText string            `json:"masked_text"`
	Mapping    sanitize.Mapping  `json:"mapping"`
	Entities   []sanitize.Entity `json:"entities_found"`
	Info       Info              `json:"ner_info"`
}

// GuardianConfig wires a Guardian.
type GuardianConfig struct {
	Masker   *sanitize.Masker
	Patterns *pattern.Extractor // target of AddPattern; nil disables it
	Info     Info               // PatternLabels is filled from Patterns on each call
	Options  Options
	Debug    bool // include mappings and entity text in results
}

// Guardian is the one-call entry point: mask, query, restore.
type Guardian struct {
	pipeline *Pipeline
	patterns *pattern.Extractor
	info     Info
	debug    bool
	logger   hclog.Logger
}

// NewGuardian creates a Guardian.
func NewGuardian(cfg GuardianConfig) *Guardian {
	p := New(cfg.Masker, cfg.Options)
	return &Guardian{
		pipeline: p,
		patterns: cfg.Patterns,
		info:     cfg.Info,
		debug:    cfg.Debug,
		logger:   p.opts.Logger,
	}
}

// Pipeline returns the underlying pipeline.
func (g *Guardian) Pipeline() *Pipeline { return g.pipeline }

// ProtectAndQuery masks chunks, sends the prompt to generate and restores the
// answer when unmask is set.
func (g *Guardian) ProtectAndQuery(ctx context.Context, chunks []string, question string, generate Generator, unmask bool) (*Answer, error) {
	if generate == nil {
		return nil, sanitize.ConfigError("query", sanitize.ErrNoCompleteFunc)
	}
	g.logger.Info("query started", "chunks", len(chunks), "strategy", g.info.Strategy)

	masked, mapping, err := g.pipeline.PrepareChunks(ctx, chunks)
	if err != nil {
		g.logger.Error("query failed", "stage", "mask", "error", err)
		return nil, errors.Wrap(err, "mask context")
	}

	prompt := g.pipeline.BuildPrompt(question, masked)

	raw, err := generate(ctx, prompt)
	if err != nil {
		g.logger.Error("query failed", "stage", "generate", "error", err)
		return nil, errors.Wrap(err, "generate answer")
	}

	answer, err := g.pipeline.Postprocess(raw, mapping, unmask, nil)
	if err != nil {
		g.logger.Error("query failed", "stage", "restore", "error", err)
		return nil, errors.Wrap(err, "restore answer")
	}

	g.logger.Info("query finished", "masked_entities", len(mapping))
	out := &Answer{
		Answer:       answer,
		MaskedChunks: masked,
		Prompt:       prompt,
		RawResponse:  raw,
		Mapping:      sanitize.Mapping{},
		Stats: Stats{
			Chunks:         len(chunks),
			MaskedEntities: len(mapping),
			PromptLength:   len([]rune(prompt)),
			PromptTokens:   EstimateTokens(prompt),
			ResponseLength: len([]rune(raw)),
			Strategy:       g.info.Strategy,
		},
	}
	if g.debug {
		out.Mapping = mapping
	}
	return out, nil
}

// MaskText masks a single text and reports what was found.
func (g *Guardian) MaskText(ctx context.Context, text string) (*MaskReport, error) {
	res, err := g.pipeline.masker.Mask(ctx, text)
	if err != nil {
		return nil, err
	}

	entities := make([]sanitize.Entity, len(res.Entities))
	for i, e := range res.Entities {
		g.logger.Debug("entity", "entity", e.String())
		if !g.debug {
			e.Text = maskedText
		}
		entities[i] = e
	}

	report := &MaskReport{
		MaskedText: res.Text,
		Mapping:    sanitize.Mapping{},
		Entities:   entities,
		Info:       g.Info(),
	}
	if g.debug {
		report.Mapping = res.Mapping
	}
	return report, nil
}

// AddPattern registers an extra pattern on the pattern extractor.
func (g *Guardian) AddPattern(label, expr string) error {
	if g.patterns == nil {
		return sanitize.ConfigError("add pattern", errors.New("strategy has no pattern extractor"))
	}
	if err := g.patterns.Add(label, expr); err != nil {
		return err
	}
	g.logger.Info("pattern added", "label", label)
	return nil
}

// Info returns the active extraction setup.
func (g *Guardian) Info() Info {
	info := g.info
	if g.patterns != nil {
		info.PatternLabels = g.patterns.Labels()
	}
	info.DelegatedLabels = append([]string(nil), g.info.DelegatedLabels...)
	return info
}
