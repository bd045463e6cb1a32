// Package service is the transport-independent front of ragguard. HTTP and
// NATS handlers decode a request, call one Service method and encode the
// result.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gonkalabs/ragguard/internal/metrics"
	"github.com/gonkalabs/ragguard/internal/pipeline"
	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/vault"
)

// ErrInvalidRequest marks malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

type MaskRequest struct {
	Text  string `json:"text"`
	Store bool   `json:"store,omitempty"` // keep the mapping server-side and return a session id
}

type MaskResponse struct {
	Text      string            `json:"text"`
	Mapping   sanitize.Mapping  `json:"mapping,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Entities  []sanitize.Entity `json:"entities"`
}

type UnmaskRequest struct {
	Text      string           `json:"text"`
	Mapping   sanitize.Mapping `json:"mapping,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Labels    []string         `json:"labels,omitempty"` // restore only these labels
	Forget    bool             `json:"forget,omitempty"` // delete the session afterwards
}

type UnmaskResponse struct {
	Text string `json:"text"`
}

type EntitiesRequest struct {
	Text string `json:"text"`
}

type EntitiesResponse struct {
	Entities []sanitize.Entity `json:"entities"`
}

type QueryRequest struct {
	Chunks   []string `json:"chunks"`
	Question string   `json:"question"`
	Unmask   *bool    `json:"unmask,omitempty"` // defaults to true
}

type ReportRequest struct {
	Text string `json:"text"`
}

type PatternRequest struct {
	Label   string `json:"label"`
	Pattern string `json:"pattern"`
}

type PatternResponse struct {
	Labels []string `json:"labels"` // pattern labels after the change
}

type HealthResponse struct {
	Status string        `json:"status"`
	Info   pipeline.Info `json:"info"`
}

// Options configures a Service.
type Options struct {
	Engine   *Engine
	Store    vault.Store        // nil disables sessions
	Metrics  *metrics.Metrics   // nil disables metrics
	Generate pipeline.Generator // answers /query prompts; nil disables Query
	Pipeline pipeline.Options
	Debug    bool // reveal entity text and mappings in reports
	Logger   hclog.Logger
}

// Service implements the ragguard operations.
type Service struct {
	engine   *Engine
	guardian *pipeline.Guardian
	store    vault.Store
	metrics  *metrics.Metrics
	generate pipeline.Generator
	debug    bool
	logger   hclog.Logger
}

// New creates a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	store := opts.Store
	if store == nil {
		store = vault.Noop{}
	}
	popts := opts.Pipeline
	if popts.Logger == nil {
		popts.Logger = logger.Named("pipeline")
	}
	return &Service{
		engine: opts.Engine,
		guardian: pipeline.NewGuardian(pipeline.GuardianConfig{
			Masker:   opts.Engine.Masker,
			Patterns: opts.Engine.Patterns,
			Info:     opts.Engine.Info(),
			Options:  popts,
			Debug:    opts.Debug,
		}),
		store:    store,
		metrics:  opts.Metrics,
		generate: opts.Generate,
		debug:    opts.Debug,
		logger:   logger,
	}
}

// Engine returns the extractor stack.
func (s *Service) Engine() *Engine { return s.engine }

// Guardian returns the pipeline front.
func (s *Service) Guardian() *pipeline.Guardian { return s.guardian }

// Metrics returns the metrics sink, possibly nil.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Health reports the active configuration.
func (s *Service) Health() HealthResponse {
	return HealthResponse{Status: "ok", Info: s.guardian.Info()}
}

// Mask masks req.Text. The mapping is returned inline, or saved to the store
// when req.Store is set.
func (s *Service) Mask(ctx context.Context, req MaskRequest) (resp *MaskResponse, err error) {
	defer func(start time.Time) { s.metrics.Observe("mask", start, err) }(time.Now())

	res, err := s.engine.Masker.Mask(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	s.metrics.CountEntities(res.Entities)

	resp = &MaskResponse{Text: res.Text, Entities: s.reveal(res.Entities)}
	if !req.Store {
		resp.Mapping = res.Mapping
		return resp, nil
	}
	resp.SessionID, err = s.store.Save(ctx, res.Mapping)
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.logger.Debug("session saved", "session", resp.SessionID, "tokens", len(res.Mapping))
	return resp, nil
}

// Unmask restores req.Text from the inline mapping or the stored session.
func (s *Service) Unmask(ctx context.Context, req UnmaskRequest) (resp *UnmaskResponse, err error) {
	defer func(start time.Time) { s.metrics.Observe("unmask", start, err) }(time.Now())

	mapping := req.Mapping
	if req.SessionID != "" {
		if len(mapping) > 0 {
			return nil, fmt.Errorf("%w: mapping and session_id are exclusive", ErrInvalidRequest)
		}
		if mapping, err = s.store.Load(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	var text string
	if len(req.Labels) > 0 {
		text, err = s.engine.Masker.UnmaskLabels(req.Text, mapping, req.Labels)
	} else {
		text, err = s.engine.Masker.Unmask(req.Text, mapping)
	}
	if err != nil {
		return nil, err
	}
	if text != req.Text {
		s.metrics.CountRestore()
	}

	if req.Forget && req.SessionID != "" {
		if err := s.store.Delete(ctx, req.SessionID); err != nil {
			s.logger.Warn("session delete failed", "session", req.SessionID, "error", err)
		}
	}
	return &UnmaskResponse{Text: text}, nil
}

// Entities runs extraction only.
func (s *Service) Entities(ctx context.Context, req EntitiesRequest) (resp *EntitiesResponse, err error) {
	defer func(start time.Time) { s.metrics.Observe("entities", start, err) }(time.Now())

	entities, err := s.engine.Masker.Entities(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return &EntitiesResponse{Entities: s.reveal(entities)}, nil
}

// Query masks the chunks, asks the upstream model and restores its answer.
func (s *Service) Query(ctx context.Context, req QueryRequest) (resp *pipeline.Answer, err error) {
	defer func(start time.Time) { s.metrics.Observe("query", start, err) }(time.Now())

	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	unmask := req.Unmask == nil || *req.Unmask
	return s.guardian.ProtectAndQuery(ctx, req.Chunks, req.Question, s.generate, unmask)
}

// Report masks req.Text and describes what was found. Entity text and the
// mapping are only included with debug output on.
func (s *Service) Report(ctx context.Context, req ReportRequest) (resp *pipeline.MaskReport, err error) {
	defer func(start time.Time) { s.metrics.Observe("report", start, err) }(time.Now())

	resp, err = s.guardian.MaskText(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	s.metrics.CountEntities(resp.Entities)
	return resp, nil
}

// AddPattern registers or replaces a pattern on the running pattern
// extractor. It applies to every later request.
func (s *Service) AddPattern(_ context.Context, req PatternRequest) (resp *PatternResponse, err error) {
	defer func(start time.Time) { s.metrics.Observe("add_pattern", start, err) }(time.Now())

	if req.Label == "" || req.Pattern == "" {
		return nil, fmt.Errorf("%w: label and pattern are required", ErrInvalidRequest)
	}
	if err := s.guardian.AddPattern(req.Label, req.Pattern); err != nil {
		return nil, err
	}
	return &PatternResponse{Labels: s.guardian.Info().PatternLabels}, nil
}

// MaskMessages masks an OpenAI chat body for the proxy.
func (s *Service) MaskMessages(ctx context.Context, body []byte) (out []byte, mapping sanitize.Mapping, err error) {
	defer func(start time.Time) { s.metrics.Observe("proxy_mask", start, err) }(time.Now())
	return s.engine.Masker.MaskMessages(ctx, body)
}

// reveal hides entity text unless debug output is on.
func (s *Service) reveal(entities []sanitize.Entity) []sanitize.Entity {
	out := make([]sanitize.Entity, len(entities))
	copy(out, entities)
	if !s.debug {
		for i := range out {
			out[i].Text = "[MASKED]"
		}
	}
	return out
}
