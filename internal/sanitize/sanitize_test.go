package sanitize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	email      = "alice@example.com"
	phone      = "13812345678"
	emailToken = "<RG:EMAIL:2to5g2dl>"
	phoneToken = "<RG:PHONE:jrz35n2u>"
)

// finder reports every occurrence of the given values.
func finder(values map[string]string) Extractor {
	return ExtractorFunc(func(_ context.Context, text string) ([]Entity, error) {
		var out []Entity
		for value, label := range values {
			from := 0
			for {
				i := strings.Index(text[from:], value)
				if i < 0 {
					break
				}
				start := from + i
				out = append(out, Entity{Text: value, Label: label, Start: start, End: start + len(value), Confidence: 1})
				from = start + len(value)
			}
		}
		return Merge(out, PairwiseGreedy), nil
	})
}

func newMasker(t *testing.T, ex Extractor) *Masker {
	t.Helper()
	tk, err := NewTokenizer("s0000000")
	require.NoError(t, err)
	m, err := NewMasker(ex, tk)
	require.NoError(t, err)
	return m
}

func TestMasker_RoundTrip(t *testing.T) {
	m := newMasker(t, finder(map[string]string{email: "EMAIL", phone: "PHONE"}))
	in := "Contact alice@example.com or 13812345678."

	res, err := m.Mask(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Contact "+emailToken+" or "+phoneToken+".", res.Text)
	assert.Equal(t, Mapping{emailToken: email, phoneToken: phone}, res.Mapping)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "PHONE", res.Entities[0].Label, "entities are applied from the end")
	assert.Equal(t, 29, res.Entities[0].Start)
	assert.Equal(t, 8, res.Entities[1].Start)

	out, err := m.Unmask(res.Text, res.Mapping)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = m.UnmaskLabels(res.Text, res.Mapping, []string{"PHONE"})
	require.NoError(t, err)
	assert.Equal(t, "Contact "+emailToken+" or 13812345678.", out)
}

func TestMasker_MultiByteText(t *testing.T) {
	m := newMasker(t, finder(map[string]string{"张三": "PERSON"}))
	res, err := m.Mask(context.Background(), "联系张三，谢谢")
	require.NoError(t, err)
	assert.Equal(t, "联系<RG:PERSON:corswdqd>，谢谢", res.Text)
}

func TestMasker_NoEntities(t *testing.T) {
	m := newMasker(t, fixed())
	for _, in := range []string{"", "nothing to see"} {
		res, err := m.Mask(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, in, res.Text)
		assert.NotNil(t, res.Mapping)
		assert.Empty(t, res.Mapping)
	}
}

func TestMasker_SameValueSharesToken(t *testing.T) {
	m := newMasker(t, finder(map[string]string{email: "EMAIL"}))
	res, err := m.Mask(context.Background(), email+" and "+email)
	require.NoError(t, err)
	assert.Equal(t, emailToken+" and "+emailToken, res.Text)
	assert.Len(t, res.Mapping, 1)
	assert.Len(t, res.Entities, 2)
}

func TestMasker_Errors(t *testing.T) {
	text := "Contact alice@example.com"
	tcs := []struct {
		name   string
		ex     Extractor
		kind   Kind
		target error
	}{
		{
			name:   "overlap",
			ex:     fixed(Entity{Text: "alice", Label: "PERSON", Start: 8, End: 13}, Entity{Text: email, Label: "EMAIL", Start: 8, End: 25}),
			kind:   KindMasking,
			target: ErrOverlap,
		},
		{
			name:   "span mismatch",
			ex:     fixed(Entity{Text: "bob", Label: "PERSON", Start: 8, End: 13}),
			kind:   KindMasking,
			target: ErrInvalidSpan,
		},
		{
			name:   "span out of range",
			ex:     fixed(Entity{Text: "x", Label: "PERSON", Start: 30, End: 31}),
			kind:   KindMasking,
			target: ErrInvalidSpan,
		},
		{
			name:   "extractor failure",
			ex:     ExtractorFunc(func(context.Context, string) ([]Entity, error) { return nil, io.ErrUnexpectedEOF }),
			kind:   KindExtraction,
			target: io.ErrUnexpectedEOF,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			res, err := newMasker(t, tc.ex).Mask(context.Background(), text)
			assert.Nil(t, res)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestNewMasker_Errors(t *testing.T) {
	tk, err := NewTokenizer("s0000000")
	require.NoError(t, err)
	_, err = NewMasker(nil, tk)
	assert.ErrorIs(t, err, ErrNoExtractors)
	_, err = NewMasker(fixed(), nil)
	assert.True(t, IsKind(err, KindConfig))
}

func TestUnmask(t *testing.T) {
	mapping := Mapping{emailToken: email}

	out, err := Unmask("unknown <RG:EMAIL:aaaaaaaa> stays, "+emailToken+" goes", mapping)
	require.NoError(t, err)
	assert.Equal(t, "unknown <RG:EMAIL:aaaaaaaa> stays, alice@example.com goes", out)

	out, err = Unmask("", mapping)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Unmask(emailToken, nil)
	require.NoError(t, err)
	assert.Equal(t, emailToken, out)

	_, err = Unmask("x", Mapping{"": "v"})
	assert.True(t, IsKind(err, KindUnmasking))
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestMapping(t *testing.T) {
	m := Mapping{}
	assert.True(t, m.Add(emailToken, email))
	assert.False(t, m.Add(emailToken, "other"))
	assert.Equal(t, email, m[emailToken])

	m.Merge(Mapping{emailToken: "other", phoneToken: phone, "<RG:X:abcdefgh>": "y"})
	assert.Equal(t, email, m[emailToken], "merge never overwrites")
	assert.Len(t, m, 3)

	assert.Equal(t, []string{"EMAIL", "PHONE", "X"}, m.Labels())
	assert.Equal(t, Mapping{phoneToken: phone}, m.FilterLabels([]string{"PHONE"}))
	assert.Empty(t, m.FilterLabels(nil))

	assert.Equal(t, []string{emailToken, phoneToken, "<RG:X:abcdefgh>"}, m.Tokens())
	assert.Equal(t, []Redaction{
		{Token: emailToken, Original: email},
		{Token: phoneToken, Original: phone},
		{Token: "<RG:X:abcdefgh>", Original: "y"},
	}, m.Redactions())
}

func TestMapping_ForJSON(t *testing.T) {
	m := Mapping{emailToken: `a"b<c>`}
	j := m.ForJSON()
	assert.Len(t, j, 2)

	body := `{"a":"` + emailToken + `","b":"\u003cRG:EMAIL:2to5g2dl\u003e"}`
	out, err := Unmask(body, j)
	require.NoError(t, err)

	var doc map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, `a"b<c>`, doc["a"])
	assert.Equal(t, `a"b<c>`, doc["b"])
}

func TestRestoringReader(t *testing.T) {
	mapping := Mapping{emailToken: email, phoneToken: phone}
	in := "to " + emailToken + ", call " + phoneToken + " or <RG:EMAIL:aaaaaaaa>. trailing <RG:PH"
	expect := "to alice@example.com, call 13812345678 or <RG:EMAIL:aaaaaaaa>. trailing <RG:PH"

	t.Run("one byte reads", func(t *testing.T) {
		b, err := io.ReadAll(NewRestoringReader(iotest.OneByteReader(strings.NewReader(in)), mapping))
		require.NoError(t, err)
		assert.Equal(t, expect, string(b))
	})

	t.Run("half reads", func(t *testing.T) {
		b, err := io.ReadAll(NewRestoringReader(iotest.HalfReader(strings.NewReader(in)), mapping))
		require.NoError(t, err)
		assert.Equal(t, expect, string(b))
	})

	t.Run("small destination", func(t *testing.T) {
		r := NewRestoringReader(strings.NewReader(in), mapping)
		var sb strings.Builder
		buf := make([]byte, 3)
		for {
			n, err := r.Read(buf)
			sb.Write(buf[:n])
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
		}
		assert.Equal(t, expect, sb.String())
	})

	t.Run("source error", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRestoringReader(io.MultiReader(strings.NewReader(emailToken), iotest.ErrReader(boom)), mapping)
		b, err := io.ReadAll(r)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, email, string(b))
	})

	src := strings.NewReader(in)
	assert.Equal(t, io.Reader(src), NewRestoringReader(src, nil))
}

func TestMaskMessages(t *testing.T) {
	m := newMasker(t, finder(map[string]string{email: "EMAIL", phone: "PHONE"}))
	ctx := context.Background()

	body := `{"model":"m","stream":true,"messages":[` +
		`{"role":"system","content":"be nice"},` +
		`{"role":"user","content":"mail alice@example.com"},` +
		`{"role":"user","content":[{"type":"text","text":"call 13812345678"},{"type":"image_url","image_url":{"url":"x"}}]}]}`

	out, mapping, err := m.MaskMessages(ctx, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, Mapping{emailToken: email, phoneToken: phone}, mapping)
	assert.NotContains(t, string(out), email)
	assert.Contains(t, string(out), emailToken, "tokens are not HTML escaped")

	var req struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, "m", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 3)
	assert.JSONEq(t, `"be nice"`, string(req.Messages[0].Content))
	assert.JSONEq(t, `"mail `+emailToken+`"`, string(req.Messages[1].Content))
	assert.JSONEq(t, `[{"type":"text","text":"call `+phoneToken+`"},{"type":"image_url","image_url":{"url":"x"}}]`, string(req.Messages[2].Content))
}

func TestMaskMessages_Passthrough(t *testing.T) {
	m := newMasker(t, finder(map[string]string{email: "EMAIL"}))
	ctx := context.Background()

	for _, body := range []string{`{"model":"m"}`, `{"messages":[{"role":"user","content":"hi"}]}`, `{"messages":"odd"}`} {
		out, mapping, err := m.MaskMessages(ctx, []byte(body))
		require.NoError(t, err)
		assert.Equal(t, body, string(out))
		assert.Empty(t, mapping)
	}

	out, mapping, err := m.MaskMessages(ctx, []byte("plain alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "plain "+emailToken, string(out))
	assert.Len(t, mapping, 1)
}
