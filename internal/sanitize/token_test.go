package sanitize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer_Token(t *testing.T) {
	tcs := []struct {
		salt, label, value string
		expect             string
	}{
		{"s0000000", "EMAIL", "alice@example.com", "<RG:EMAIL:2to5g2dl>"},
		{"s0000000", "PHONE", "13812345678", "<RG:PHONE:jrz35n2u>"},
		{"s0000000", "EMAIL", "bob@example.org", "<RG:EMAIL:u2n4p3ie>"},
		{"s0000000", "IPV4", "10.0.0.1", "<RG:IPV4:do4nkd7x>"},
		{"s0000000", "PERSON", "张三", "<RG:PERSON:corswdqd>"},
		{"s0000000", "PERSON", "Alice", "<RG:PERSON:b6sb6pa6>"},
		{"s1111111", "EMAIL", "alice@example.com", "<RG:EMAIL:kyb6cljx>"},
		{"s1111111", "PHONE", "13812345678", "<RG:PHONE:ojyi4ar3>"},
		{"s1111111", "EMAIL", "bob@example.org", "<RG:EMAIL:ac5mfe7r>"},
		{"s1111111", "IPV4", "10.0.0.1", "<RG:IPV4:pcuohe5l>"},
		{"s1111111", "PERSON", "张三", "<RG:PERSON:imcwbajh>"},
		{"s1111111", "PERSON", "Alice", "<RG:PERSON:mpj7aymc>"},
	}
	for _, tc := range tcs {
		tk, err := NewTokenizer(tc.salt)
		require.NoError(t, err)
		got := tk.Token(tc.label, tc.value)
		assert.Equal(t, tc.expect, got, "%s/%s", tc.salt, tc.label)
		assert.Regexp(t, TokenPattern, got)
	}
}

func TestTokenizer_LabelIsPartOfTheDigest(t *testing.T) {
	tk, err := NewTokenizer("s0000000")
	require.NoError(t, err)
	_, a, _ := ParseToken(tk.Token("EMAIL", "x"))
	_, b, _ := ParseToken(tk.Token("PHONE", "x"))
	assert.NotEqual(t, a, b)
}

func TestNewTokenizer_Salt(t *testing.T) {
	_, err := NewTokenizer("1234567")
	assert.ErrorIs(t, err, ErrShortSalt)
	assert.True(t, IsKind(err, KindConfig))

	// Length is counted in characters, not bytes.
	_, err = NewTokenizer("盐盐盐盐盐盐盐")
	assert.ErrorIs(t, err, ErrShortSalt)
	_, err = NewTokenizer("盐盐盐盐盐盐盐盐")
	assert.NoError(t, err)
}

func TestParseToken(t *testing.T) {
	tcs := []struct {
		in    string
		label string
		hash  string
		ok    bool
	}{
		{"<RG:EMAIL:2to5g2dl>", "EMAIL", "2to5g2dl", true},
		{"<RG:EMPLOYEE_ID:abcdefgh>", "EMPLOYEE_ID", "abcdefgh", true},
		{"<RG::abcdefgh>", "", "", false},
		{"<RG:EMAIL:>", "", "", false},
		{"<RG:EMAIL>", "", "", false},
		{"RG:EMAIL:abcdefgh", "", "", false},
		{"<RG:A:b:c>", "", "", false},
	}
	for _, tc := range tcs {
		label, hash, ok := ParseToken(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.label, label, tc.in)
		assert.Equal(t, tc.hash, hash, tc.in)
	}
}

func TestErrors(t *testing.T) {
	err := MaskingError("mask", ErrOverlap)
	assert.Equal(t, "masking error: mask: entities overlap", err.Error())
	assert.ErrorIs(t, err, ErrOverlap)
	assert.Equal(t, KindMasking, KindOf(err))

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "mask", se.Op)

	// The innermost stage wins.
	assert.Equal(t, KindMasking, KindOf(ExtractionError("outer", err)))

	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindConfig))
	assert.Equal(t, "configuration error: x", ConfigError("x", nil).Error())

	for k, s := range map[Kind]string{
		KindConfig:     "configuration",
		KindExtraction: "extraction",
		KindMasking:    "masking",
		KindUnmasking:  "unmasking",
		Kind(42):       "unknown",
	} {
		assert.Equal(t, s, k.String())
	}
}

func TestValidLabel(t *testing.T) {
	for _, l := range []string{"EMAIL", "employee_id", "ID-2"} {
		assert.True(t, ValidLabel(l), l)
	}
	for _, l := range []string{"", "A B", "A:B", "Ü"} {
		assert.False(t, ValidLabel(l), l)
	}
}
