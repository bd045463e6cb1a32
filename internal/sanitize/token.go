package sanitize

import (
	"crypto/sha1" // #nosec G505 -- digest keeps tokens compatible with existing mappings, secrecy comes from the salt
	"encoding/base32"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinSaltLength is the minimum salt length in characters.
const MinSaltLength = 8

const (
	tokenPrefix = "<RG:"
	tokenSuffix = ">"
	hashLength  = 8
)

// TokenPattern matches the textual shape of a placeholder token. A match is
// only restored when the exact token is a key of the mapping.
var TokenPattern = regexp.MustCompile(`<RG:[A-Za-z0-9_-]+:[a-z2-7]{8}>`)

// Tokenizer derives placeholders of the form <RG:{LABEL}:{HASH8}>.
//
// HASH8 is the first 8 characters of the lower-cased base32 SHA-1 digest of
// salt+label+value. Identical (label, value) pairs always share a token under
// one salt. Distinct values can collide on 8 characters; when that happens the
// first value inserted into a mapping wins.
type Tokenizer struct {
	salt string
}

// NewTokenizer validates salt and returns a Tokenizer.
func NewTokenizer(salt string) (*Tokenizer, error) {
	if utf8.RuneCountInString(salt) < MinSaltLength {
		return nil, ConfigError("tokenizer", ErrShortSalt)
	}
	return &Tokenizer{salt: salt}, nil
}

// Token returns the placeholder for value under label.
func (t *Tokenizer) Token(label, value string) string {
	return tokenPrefix + label + ":" + t.hash(label, value) + tokenSuffix
}

func (t *Tokenizer) hash(label, value string) string {
	sum := sha1.Sum([]byte(t.salt + label + value)) // #nosec G401
	enc := base32.StdEncoding.EncodeToString(sum[:])
	return strings.ToLower(strings.TrimRight(enc, "="))[:hashLength]
}

// ParseToken splits a token into its label and hash parts.
func ParseToken(token string) (label, hash string, ok bool) {
	inner, found := strings.CutPrefix(token, tokenPrefix)
	if !found {
		return "", "", false
	}
	inner, found = strings.CutSuffix(inner, tokenSuffix)
	if !found {
		return "", "", false
	}
	label, hash, found = strings.Cut(inner, ":")
	if !found || label == "" || hash == "" || strings.Contains(hash, ":") {
		return "", "", false
	}
	return label, hash, true
}
