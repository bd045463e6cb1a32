package sanitize

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Hybrid runs several extractors in order and merges their output into one
// non-overlapping entity sequence.
type Hybrid struct {
	extractors []Extractor
	mode       MergeMode
	logger     hclog.Logger
}

// NewHybrid creates a Hybrid over the non-nil extractors given. At least one
// is required. A nil logger discards output.
func NewHybrid(mode MergeMode, logger hclog.Logger, extractors ...Extractor) (*Hybrid, error) {
	var subs []Extractor
	for _, e := range extractors {
		if e != nil {
			subs = append(subs, e)
		}
	}
	if len(subs) == 0 {
		return nil, ConfigError("hybrid", ErrNoExtractors)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hybrid{extractors: subs, mode: mode, logger: logger}, nil
}

// Extractors returns the sub-extractors in the order they run.
func (h *Hybrid) Extractors() []Extractor {
	out := make([]Extractor, len(h.extractors))
	copy(out, h.extractors)
	return out
}

// Mode returns the merge mode.
func (h *Hybrid) Mode() MergeMode { return h.mode }

// Extract unions all sub-extractor results and merges them. A failing
// sub-extractor fails the whole call, even if others already succeeded.
func (h *Hybrid) Extract(ctx context.Context, text string) ([]Entity, error) {
	var all []Entity
	for _, e := range h.extractors {
		found, err := e.Extract(ctx, text)
		if err != nil {
			return nil, ExtractionError("hybrid", err)
		}
		all = append(all, found...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	if h.logger.IsDebug() {
		for _, c := range OverlapClusters(all, 3) {
			h.logger.Debug("order-dependent overlap cluster", "size", len(c), "start", c[0].Start, "mode", h.mode)
		}
	}

	merged := Merge(all, h.mode)
	h.logger.Trace("merged entities", "candidates", len(all), "kept", len(merged))
	return merged, nil
}
