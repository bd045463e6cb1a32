// Package llmextractor provides an Extractor that delegates recognition to an
// external text-completion function (usually an LLM) and treats its reply as
// untrusted input.
//
// The model is asked for character offsets and the exact entity text. Every
// candidate is re-verified against the source before it becomes an Entity;
// anything the model invented or mis-located is dropped.
package llmextractor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// CompleteFunc sends prompt to a text-completion service and returns its
// reply. It is supplied by the caller, who owns retries, rate limits and
// authentication.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

const (
	// DefaultThreshold is the minimum confidence a candidate needs.
	DefaultThreshold = 0.7
	// DefaultMaxTextLength is the input limit in characters.
	DefaultMaxTextLength = 2000
	// TruncationMarker is appended to input cut at the length limit.
	TruncationMarker = "...[truncated]"
)

// DefaultLabels are requested when Config.Labels is empty.
var DefaultLabels = []string{
	"PERSON",
	"EMAIL",
	"PHONE",
	"ID_NUMBER",
	"IDCN",
	"CREDIT_CARD",
	"BANK_ACCOUNT",
	"ADDRESS",
	"ORGANIZATION",
	"COMPANY",
	"LICENSE_PLATE",
	"IP_ADDRESS",
	"URL",
	"LOCATION",
	"FINANCIAL_INFO",
}

// Config configures an Extractor.
type Config struct {
	Complete      CompleteFunc
	Labels        []string // requested entity labels; DefaultLabels when empty
	Threshold     *float64 // candidates below this confidence are dropped; DefaultThreshold when nil
	MaxTextLength int      // characters; DefaultMaxTextLength when <= 0
	Logger        hclog.Logger
}

// Extractor asks a completion function for entities.
type Extractor struct {
	complete  CompleteFunc
	labels    []string
	threshold float64
	maxLen    int
	logger    hclog.Logger
}

// New validates cfg and creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Complete == nil {
		return nil, sanitize.ExtractionError("llm extractor", sanitize.ErrNoCompleteFunc)
	}
	threshold := DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, sanitize.ConfigError("llm extractor", fmt.Errorf("confidence threshold %v outside [0,1]", threshold))
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	for _, l := range labels {
		if !sanitize.ValidLabel(l) {
			return nil, sanitize.ConfigError("llm extractor label "+l, sanitize.ErrInvalidLabel)
		}
	}
	maxLen := cfg.MaxTextLength
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Extractor{
		complete:  cfg.Complete,
		labels:    append([]string(nil), labels...),
		threshold: threshold,
		maxLen:    maxLen,
		logger:    logger,
	}, nil
}

// Labels returns the requested entity labels.
func (e *Extractor) Labels() []string { return append([]string(nil), e.labels...) }

// Threshold returns the confidence threshold.
func (e *Extractor) Threshold() float64 { return e.threshold }

// Truncate cuts text to the length limit and appends TruncationMarker.
// covered is the number of leading characters that are identical to text.
func (e *Extractor) Truncate(text string) (prompted string, covered int, truncated bool) {
	n := utf8.RuneCountInString(text)
	if n <= e.maxLen {
		return text, n, false
	}
	cut := 0
	for i := range text {
		if cut == e.maxLen {
			return text[:i] + TruncationMarker, e.maxLen, true
		}
		cut++
	}
	return text, n, false
}

// Extract calls the completion function once and returns the verified
// entities above the threshold. Blank text is not sent. A reply without a
// decodable JSON block yields no entities; a failing completion call fails
// the extraction.
func (e *Extractor) Extract(ctx context.Context, text string) ([]sanitize.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	prompted, covered, truncated := e.Truncate(text)
	if truncated {
		e.logger.Debug("input truncated", "limit", e.maxLen, "chars", utf8.RuneCountInString(text))
	}

	reply, err := e.complete(ctx, e.BuildPrompt(prompted))
	if err != nil {
		return nil, sanitize.ExtractionError("llm extractor: complete", err)
	}

	candidates, err := DecodeReply(reply)
	if err != nil {
		e.logger.Debug("unparseable reply, no entities", "err", err, "reply_len", len(reply))
		return nil, nil
	}

	entities, rej := e.validate(candidates, prompted, covered)
	e.logger.Debug("delegated extraction", "candidates", len(candidates), "kept", len(entities),
		"bad_span", rej.span, "bad_label", rej.label, "below_threshold", rej.threshold)
	return entities, nil
}

// rejections counts dropped candidates by reason.
type rejections struct {
	span      int
	label     int
	threshold int
}

// normalizeLabel upper-cases label and joins its words with underscores,
// so "ip address" becomes IP_ADDRESS.
func normalizeLabel(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), "_"))
}

// validate keeps the candidates that describe prompted exactly, lie within
// the first covered characters, carry a usable label and reach the
// threshold. Offsets are converted from characters to bytes.
func (e *Extractor) validate(candidates []Candidate, prompted string, covered int) ([]sanitize.Entity, rejections) {
	offsets := runeOffsets(prompted)
	runeLen := len(offsets) - 1

	var (
		out []sanitize.Entity
		rej rejections
	)
	for _, c := range candidates {
		if c.Start < 0 || c.Start >= c.End || c.End > runeLen || c.End > covered {
			rej.span++
			continue
		}
		bs, be := offsets[c.Start], offsets[c.End]
		if prompted[bs:be] != c.Text {
			rej.span++
			continue
		}
		label := normalizeLabel(c.Label)
		if !sanitize.ValidLabel(label) {
			rej.label++
			e.logger.Debug("candidate label cannot form a token", "label", c.Label)
			continue
		}
		if c.Confidence < e.threshold {
			rej.threshold++
			continue
		}
		out = append(out, sanitize.Entity{
			Text:       c.Text,
			Label:      label,
			Start:      bs,
			End:        be,
			Confidence: c.Confidence,
		})
	}
	return out, rej
}

// runeOffsets returns the byte offset of every character of s followed by
// len(s), so offsets[i] is where character i starts.
func runeOffsets(s string) []int {
	out := make([]int, 0, len(s)+1)
	for i := range s {
		out = append(out, i)
	}
	return append(out, len(s))
}
