package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/ragguard/internal/config"
	"github.com/gonkalabs/ragguard/internal/metrics"
	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/vault"
)

const (
	input       = "Alice wrote from alice@example.com"
	aliceEmail  = "<RG:EMAIL:2to5g2dl>"
	alicePerson = "<RG:PERSON:b6sb6pa6>"
)

func testCfg(strategy config.Strategy) *config.Cfg {
	return &config.Cfg{
		Salt:                "s0000000",
		Strategy:            strategy,
		MergeMode:           sanitize.PairwiseGreedy,
		ConfidenceThreshold: 0.7,
		MaxTextLength:       2000,
	}
}

// fakeComplete finds "Alice" at character offset 0.
func fakeComplete(_ context.Context, _ string) (string, error) {
	return `{"entities":[{"text":"Alice","label":"PERSON","start":0,"end":5,"confidence":0.9}]}`, nil
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine(testCfg(config.PatternOnly), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, eng.Patterns)
	assert.Nil(t, eng.Delegated)
	assert.Nil(t, eng.NER)
	info := eng.Info()
	assert.Equal(t, "pattern_only", info.Strategy)
	assert.Equal(t, "pairwise_greedy", info.MergeMode)
	assert.Contains(t, info.PatternLabels, "EMAIL")

	cfg := testCfg(config.Hybrid)
	cfg.NERURL = "http://127.0.0.1:1"
	cfg.Patterns = []config.PatternCfg{{Label: "TICKET", Match: `TKT-\d+`}}
	eng, err = NewEngine(cfg, fakeComplete, nil)
	require.NoError(t, err)
	assert.NotNil(t, eng.NER)
	assert.NotNil(t, eng.Delegated)
	assert.True(t, eng.Info().NER)
	assert.Contains(t, eng.Info().PatternLabels, "TICKET")
	assert.Equal(t, 0.7, eng.Delegated.Threshold())

	// An explicit zero threshold reaches the extractor unchanged.
	cfg = testCfg(config.DelegatedOnly)
	cfg.ConfidenceThreshold = 0
	eng, err = NewEngine(cfg, fakeComplete, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, eng.Delegated.Threshold())

	// Hybrid without a completion function keeps the other extractors.
	eng, err = NewEngine(testCfg(config.Hybrid), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, eng.Delegated)
	assert.NotNil(t, eng.Patterns)
}

func TestNewEngine_Errors(t *testing.T) {
	_, err := NewEngine(testCfg(config.DelegatedOnly), nil, nil)
	assert.True(t, sanitize.IsKind(err, sanitize.KindExtraction))
	assert.ErrorIs(t, err, sanitize.ErrNoCompleteFunc)

	cfg := testCfg(config.PatternOnly)
	cfg.Salt = "short"
	_, err = NewEngine(cfg, nil, nil)
	assert.ErrorIs(t, err, sanitize.ErrShortSalt)

	_, err = NewEngine(testCfg("bogus"), nil, nil)
	assert.ErrorIs(t, err, sanitize.ErrUnknownStrategy)

	cfg = testCfg(config.PatternOnly)
	cfg.Patterns = []config.PatternCfg{{Label: "X", Match: "("}}
	_, err = NewEngine(cfg, nil, nil)
	assert.True(t, sanitize.IsKind(err, sanitize.KindConfig))
}

func newService(t *testing.T, strategy config.Strategy, store vault.Store) (*Service, *metrics.Metrics) {
	t.Helper()
	eng, err := NewEngine(testCfg(strategy), fakeComplete, nil)
	require.NoError(t, err)
	m := metrics.New()
	return New(Options{
		Engine:  eng,
		Store:   store,
		Metrics: m,
		Generate: func(_ context.Context, prompt string) (string, error) {
			return "Ask " + alicePerson + " at " + aliceEmail, nil
		},
	}), m
}

func TestMaskUnmask_Inline(t *testing.T) {
	svc, m := newService(t, config.Hybrid, nil)
	ctx := context.Background()

	res, err := svc.Mask(ctx, MaskRequest{Text: input})
	require.NoError(t, err)
	assert.Equal(t, alicePerson+" wrote from "+aliceEmail, res.Text)
	assert.Equal(t, sanitize.Mapping{alicePerson: "Alice", aliceEmail: "alice@example.com"}, res.Mapping)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "[MASKED]", res.Entities[0].Text)

	out, err := svc.Unmask(ctx, UnmaskRequest{Text: res.Text, Mapping: res.Mapping})
	require.NoError(t, err)
	assert.Equal(t, input, out.Text)

	out, err = svc.Unmask(ctx, UnmaskRequest{Text: res.Text, Mapping: res.Mapping, Labels: []string{"EMAIL"}})
	require.NoError(t, err)
	assert.Equal(t, alicePerson+" wrote from alice@example.com", out.Text)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("mask", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmask", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Entities.WithLabelValues("PERSON")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Restored))
}

func TestMaskUnmask_Session(t *testing.T) {
	store, err := vault.NewFileStore(t.TempDir(), time.Hour)
	require.NoError(t, err)
	svc, _ := newService(t, config.PatternOnly, store)
	ctx := context.Background()

	res, err := svc.Mask(ctx, MaskRequest{Text: input, Store: true})
	require.NoError(t, err)
	assert.Empty(t, res.Mapping)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Alice wrote from "+aliceEmail, res.Text)

	_, err = svc.Unmask(ctx, UnmaskRequest{Text: res.Text, SessionID: res.SessionID, Mapping: sanitize.Mapping{"a": "b"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	out, err := svc.Unmask(ctx, UnmaskRequest{Text: res.Text, SessionID: res.SessionID, Forget: true})
	require.NoError(t, err)
	assert.Equal(t, input, out.Text)

	_, err = svc.Unmask(ctx, UnmaskRequest{Text: res.Text, SessionID: res.SessionID})
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestMask_NoStore(t *testing.T) {
	svc, m := newService(t, config.PatternOnly, nil)
	_, err := svc.Mask(context.Background(), MaskRequest{Text: input, Store: true})
	assert.ErrorIs(t, err, vault.ErrDisabled)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("mask", "error")))
}

func TestUnmask_EmptyToken(t *testing.T) {
	svc, m := newService(t, config.PatternOnly, nil)
	_, err := svc.Unmask(context.Background(), UnmaskRequest{Text: "x", Mapping: sanitize.Mapping{"": "v"}})
	assert.True(t, sanitize.IsKind(err, sanitize.KindUnmasking))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmask", "unmasking")))
}

func TestEntities(t *testing.T) {
	svc, _ := newService(t, config.DelegatedOnly, nil)
	res, err := svc.Entities(context.Background(), EntitiesRequest{Text: input})
	require.NoError(t, err)
	assert.Equal(t, []sanitize.Entity{{Text: "[MASKED]", Label: "PERSON", Start: 0, End: 5, Confidence: 0.9}}, res.Entities)
}

func TestEntities_Debug(t *testing.T) {
	eng, err := NewEngine(testCfg(config.PatternOnly), nil, nil)
	require.NoError(t, err)
	svc := New(Options{Engine: eng, Debug: true})
	res, err := svc.Entities(context.Background(), EntitiesRequest{Text: input})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "alice@example.com", res.Entities[0].Text)
}

func TestQuery(t *testing.T) {
	svc, _ := newService(t, config.Hybrid, nil)
	ans, err := svc.Query(context.Background(), QueryRequest{Chunks: []string{input}, Question: "Who wrote?"})
	require.NoError(t, err)
	assert.Equal(t, "Ask Alice at alice@example.com", ans.Answer)
	assert.NotContains(t, ans.Prompt, "alice@example.com")

	no := false
	ans, err = svc.Query(context.Background(), QueryRequest{Chunks: []string{input}, Question: "Who wrote?", Unmask: &no})
	require.NoError(t, err)
	assert.Equal(t, "Ask "+alicePerson+" at "+aliceEmail, ans.Answer)

	_, err = svc.Query(context.Background(), QueryRequest{Chunks: []string{input}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestQuery_NoGenerator(t *testing.T) {
	eng, err := NewEngine(testCfg(config.PatternOnly), nil, nil)
	require.NoError(t, err)
	svc := New(Options{Engine: eng})
	_, err = svc.Query(context.Background(), QueryRequest{Question: "q"})
	assert.True(t, sanitize.IsKind(err, sanitize.KindConfig))
}

func TestExtractionFailure(t *testing.T) {
	eng, err := NewEngine(testCfg(config.DelegatedOnly), func(context.Context, string) (string, error) {
		return "", errors.New("upstream down")
	}, nil)
	require.NoError(t, err)
	svc := New(Options{Engine: eng})
	_, err = svc.Mask(context.Background(), MaskRequest{Text: input})
	assert.True(t, sanitize.IsKind(err, sanitize.KindExtraction))
}

func TestHealth(t *testing.T) {
	svc, _ := newService(t, config.Hybrid, nil)
	h := svc.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "hybrid", h.Info.Strategy)
	assert.NotEmpty(t, h.Info.DelegatedLabels)
}

func TestReport(t *testing.T) {
	svc, m := newService(t, config.PatternOnly, nil)
	rep, err := svc.Report(context.Background(), ReportRequest{Text: input})
	require.NoError(t, err)
	assert.Equal(t, "Alice wrote from "+aliceEmail, rep.MaskedText)
	assert.Empty(t, rep.Mapping)
	require.Len(t, rep.Entities, 1)
	assert.Equal(t, "[MASKED]", rep.Entities[0].Text)
	assert.Equal(t, "pattern_only", rep.Info.Strategy)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("report", "ok")))
}

func TestAddPattern(t *testing.T) {
	svc, _ := newService(t, config.PatternOnly, nil)
	ctx := context.Background()

	resp, err := svc.AddPattern(ctx, PatternRequest{Label: "NAME", Pattern: `\bAlice\b`})
	require.NoError(t, err)
	assert.Contains(t, resp.Labels, "NAME")

	res, err := svc.Mask(ctx, MaskRequest{Text: input})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "<RG:NAME:")

	_, err = svc.AddPattern(ctx, PatternRequest{Label: "NAME"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	svc, _ = newService(t, config.DelegatedOnly, nil)
	_, err = svc.AddPattern(ctx, PatternRequest{Label: "NAME", Pattern: "x"})
	assert.True(t, sanitize.IsKind(err, sanitize.KindConfig))
}
