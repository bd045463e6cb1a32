package sanitize

import (
	"sort"
	"strings"
)

// Mapping associates placeholder tokens with the original values they stand
// for. It is owned by the caller; the engine keeps no copy.
type Mapping map[string]string

// Add records token → value unless token is already present. It reports
// whether the entry was inserted.
func (m Mapping) Add(token, value string) bool {
	if _, ok := m[token]; ok {
		return false
	}
	m[token] = value
	return true
}

// Merge copies entries from other without overwriting existing tokens.
func (m Mapping) Merge(other Mapping) {
	for tok, v := range other {
		m.Add(tok, v)
	}
}

// FilterLabels returns the subset of m whose token label is in labels.
func (m Mapping) FilterLabels(labels []string) Mapping {
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}
	out := make(Mapping)
	for tok, v := range m {
		if label, _, ok := ParseToken(tok); ok && allowed[label] {
			out[tok] = v
		}
	}
	return out
}

// Labels returns the distinct token labels in m, sorted.
func (m Mapping) Labels() []string {
	seen := make(map[string]bool)
	var out []string
	for tok := range m {
		if label, _, ok := ParseToken(tok); ok && !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

// Tokens returns the keys of m longest first, ties broken lexically, so one
// token's literal text can never be consumed as part of another's.
func (m Mapping) Tokens() []string {
	out := make([]string, 0, len(m))
	for tok := range m {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Redaction describes a single redacted value for display.
type Redaction struct {
	Token    string `json:"token"`
	Original string `json:"original"`
}

// Redactions returns all entries ordered by token.
func (m Mapping) Redactions() []Redaction {
	out := make([]Redaction, 0, len(m))
	for tok, orig := range m {
		out = append(out, Redaction{Token: tok, Original: orig})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// ForJSON returns a mapping for restoring tokens inside a JSON document.
// Each token is also matched in its HTML-escaped form (\u003c...\u003e) and
// values are JSON string escaped so the document stays valid.
func (m Mapping) ForJSON() Mapping {
	out := make(Mapping, len(m)*2)
	for tok, v := range m {
		escaped := jsonEscape(v)
		out[tok] = escaped
		out[htmlEscaper.Replace(tok)] = escaped
	}
	return out
}

var htmlEscaper = strings.NewReplacer("<", `\u003c`, ">", `\u003e`)

// jsonEscape returns s as the body of a JSON string literal.
func jsonEscape(s string) string {
	b, _ := marshalRaw(s)
	return string(b[1 : len(b)-1])
}

// restore replaces every token of m found in text, in the order given.
func restore(text string, tokens []string, m Mapping) string {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			text = strings.ReplaceAll(text, tok, m[tok])
		}
	}
	return text
}
