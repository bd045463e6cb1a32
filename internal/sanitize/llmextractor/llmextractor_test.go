package llmextractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// replying returns a CompleteFunc that records the prompt it was given.
func replying(reply string, prompt *string) CompleteFunc {
	return func(_ context.Context, p string) (string, error) {
		if prompt != nil {
			*prompt = p
		}
		return reply, nil
	}
}

func threshold(v float64) *float64 { return &v }

func newExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, sanitize.ErrNoCompleteFunc)
	assert.True(t, sanitize.IsKind(err, sanitize.KindExtraction))

	_, err = New(Config{Complete: replying("", nil), Threshold: threshold(1.5)})
	assert.True(t, sanitize.IsKind(err, sanitize.KindConfig))

	_, err = New(Config{Complete: replying("", nil), Threshold: threshold(-0.1)})
	assert.True(t, sanitize.IsKind(err, sanitize.KindConfig))

	_, err = New(Config{Complete: replying("", nil), Labels: []string{"OK", "NOT OK"}})
	assert.ErrorIs(t, err, sanitize.ErrInvalidLabel)

	e, err := New(Config{Complete: replying("", nil)})
	require.NoError(t, err)
	assert.Equal(t, DefaultLabels, e.Labels())
	assert.Equal(t, 0.7, e.Threshold())

	e, err = New(Config{Complete: replying("", nil), Threshold: threshold(0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, e.Threshold())
}

func TestExtract_ConvertsCharacterOffsets(t *testing.T) {
	text := "联系张三，邮箱 zs@example.com"
	reply := `{"entities":[
		{"text":"张三","label":"PERSON","start":2,"end":4,"confidence":0.95},
		{"text":"zs@example.com","label":"EMAIL","start":8,"end":22,"confidence":0.99}
	]}`
	e := newExtractor(t, Config{Complete: replying(reply, nil)})

	got, err := e.Extract(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, ent := range got {
		assert.True(t, ent.ValidFor(text), ent.String())
	}
	assert.Equal(t, sanitize.Entity{Text: "张三", Label: "PERSON", Start: 6, End: 12, Confidence: 0.95}, got[0])
	assert.Equal(t, 22, got[1].Start)
}

func TestExtract_RejectsUnverifiedCandidates(t *testing.T) {
	text := "Alice met Bob"
	reply := "Sure! Here you go:\n```json\n" + `{"entities":[
		{"text":"Alice","label":"PERSON","start":0,"end":5,"confidence":0.9},
		{"text":"Bob","label":"PERSON","start":0,"end":3,"confidence":0.9},
		{"text":"Carol","label":"PERSON","start":20,"end":25,"confidence":0.9},
		{"text":"Bob","label":"PERSON","start":10,"end":13,"confidence":0.5},
		{"text":"met","label":"BAD:LABEL","start":6,"end":9,"confidence":0.9},
		{"text":"Bob","label":"PERSON","start":13,"end":10,"confidence":0.9},
		{"label":"PERSON","start":10,"end":13}
	]}` + "\n```"
	e := newExtractor(t, Config{Complete: replying(reply, nil)})

	got, err := e.Extract(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []sanitize.Entity{{Text: "Alice", Label: "PERSON", Start: 0, End: 5, Confidence: 0.9}}, got)
}

func TestExtract_NormalizesLabels(t *testing.T) {
	text := "host 10.0.0.1 for Alice"
	reply := `{"entities":[
		{"text":"10.0.0.1","label":"ip address","start":5,"end":13,"confidence":0.9},
		{"text":"Alice","label":"person","start":18,"end":23,"confidence":0.9}
	]}`
	e := newExtractor(t, Config{Complete: replying(reply, nil)})

	got, err := e.Extract(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []sanitize.Entity{
		{Text: "10.0.0.1", Label: "IP_ADDRESS", Start: 5, End: 13, Confidence: 0.9},
		{Text: "Alice", Label: "PERSON", Start: 18, End: 23, Confidence: 0.9},
	}, got)
}

func TestNormalizeLabel(t *testing.T) {
	tcs := map[string]string{
		"PERSON":         "PERSON",
		"ip address":     "IP_ADDRESS",
		"  Credit  Card": "CREDIT_CARD",
		"bad:label":      "BAD:LABEL",
	}
	for in, want := range tcs {
		assert.Equal(t, want, normalizeLabel(in), in)
	}
}

func TestExtract_Threshold(t *testing.T) {
	reply := `{"entities":[{"text":"Bob","label":"PERSON","start":0,"end":3}]}`

	e := newExtractor(t, Config{Complete: replying(reply, nil)})
	got, err := e.Extract(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Empty(t, got, "default confidence is below the default threshold")

	low := `{"entities":[{"text":"Bob","label":"PERSON","start":0,"end":3,"confidence":0.1}]}`
	e = newExtractor(t, Config{Complete: replying(low, nil)})
	got, err = e.Extract(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Empty(t, got, "an unset threshold filters low-confidence candidates")

	e = newExtractor(t, Config{Complete: replying(low, nil), Threshold: threshold(0)})
	got, err = e.Extract(context.Background(), "Bob")
	require.NoError(t, err)
	assert.Len(t, got, 1, "a zero threshold keeps every candidate")

	e = newExtractor(t, Config{Complete: replying(reply, nil), Threshold: threshold(0.5)})
	got, err = e.Extract(context.Background(), "Bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Confidence)
}

func TestExtract_BlankTextSkipsCompletion(t *testing.T) {
	called := false
	e := newExtractor(t, Config{Complete: func(context.Context, string) (string, error) {
		called = true
		return "", nil
	}})
	got, err := e.Extract(context.Background(), " \n\t")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, called)
}

func TestExtract_UnparseableReply(t *testing.T) {
	for _, reply := range []string{"no entities found", "{not json}", "<think>{\"entities\":[]}"} {
		e := newExtractor(t, Config{Complete: replying(reply, nil)})
		got, err := e.Extract(context.Background(), "Alice")
		require.NoError(t, err, reply)
		assert.Nil(t, got, reply)
	}
}

func TestExtract_CompletionError(t *testing.T) {
	boom := errors.New("upstream down")
	e := newExtractor(t, Config{Complete: func(context.Context, string) (string, error) { return "", boom }})
	_, err := e.Extract(context.Background(), "Alice")
	assert.ErrorIs(t, err, boom)
	assert.True(t, sanitize.IsKind(err, sanitize.KindExtraction))
}

func TestExtract_Truncation(t *testing.T) {
	var prompt string
	text := "Alice" + strings.Repeat("x", 10) + "Bob"
	reply := `{"entities":[
		{"text":"Alice","label":"PERSON","start":0,"end":5,"confidence":0.9},
		{"text":"Bob","label":"PERSON","start":15,"end":18,"confidence":0.9}
	]}`
	e := newExtractor(t, Config{Complete: replying(reply, &prompt), MaxTextLength: 8})

	got, err := e.Extract(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", got[0].Text)
	assert.Contains(t, prompt, "Text:\nAlicexxx"+TruncationMarker+"\n")
}

func TestTruncate(t *testing.T) {
	e := newExtractor(t, Config{Complete: replying("", nil), MaxTextLength: 3})

	out, covered, truncated := e.Truncate("abc")
	assert.Equal(t, "abc", out)
	assert.Equal(t, 3, covered)
	assert.False(t, truncated)

	out, covered, truncated = e.Truncate("张三李四")
	assert.Equal(t, "张三李"+TruncationMarker, out)
	assert.Equal(t, 3, covered)
	assert.True(t, truncated)
}

func TestBuildPrompt(t *testing.T) {
	e := newExtractor(t, Config{Complete: replying("", nil), Labels: []string{"PERSON", "EMPLOYEE_ID"}})
	p := e.BuildPrompt("some text")
	assert.Contains(t, p, "Entity types to identify: PERSON, EMPLOYEE_ID\n")
	assert.Contains(t, p, "- PERSON: personal names")
	assert.Contains(t, p, "- EMPLOYEE_ID: entities of type EMPLOYEE_ID\n")
	assert.Contains(t, p, "Text:\nsome text\n\n")
	assert.Contains(t, p, `"entities"`)
}

func TestDecodeReply(t *testing.T) {
	tcs := []struct {
		name   string
		reply  string
		expect []Candidate
		err    bool
	}{
		{
			name:   "plain",
			reply:  `{"entities":[{"text":"a","label":"X","start":0,"end":1,"confidence":0.8}]}`,
			expect: []Candidate{{Text: "a", Label: "X", Start: 0, End: 1, Confidence: 0.8}},
		},
		{
			name:   "think block and prose",
			reply:  "<think>let me {see}</think>\nResult: {\"entities\":[{\"text\":\"a\",\"start\":0,\"end\":1}]} done",
			expect: []Candidate{{Text: "a", Label: "UNKNOWN", Start: 0, End: 1, Confidence: 0.5}},
		},
		{
			name:   "bad entries skipped",
			reply:  `{"entities":[{"text":1,"start":0,"end":1},{"text":"a","start":"0","end":1},{"text":"a","start":0,"end":1,"confidence":2}]}`,
			expect: []Candidate{},
		},
		{name: "empty", reply: `{"entities":[]}`, expect: []Candidate{}},
		{name: "no object", reply: "nothing", err: true},
		{name: "broken object", reply: "{oops}", err: true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeReply(tc.reply)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
	_, err := DecodeReply("nothing")
	assert.ErrorIs(t, err, ErrNoJSON)
}
