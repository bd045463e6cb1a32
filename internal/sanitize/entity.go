package sanitize

import (
	"context"
	"fmt"
	"regexp"
)

// Entity describes a sensitive substring detected within a text.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`      // e.g. "EMAIL", "PERSON"; open set
	Start      int     `json:"start"`      // byte offset of the first character (UTF-8)
	End        int     `json:"end"`        // byte offset one past the last character
	Confidence float64 `json:"confidence"` // in [0,1]; 1.0 for pattern matches
}

// Overlaps reports whether the two spans share at least one byte.
func (e Entity) Overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// ValidFor reports whether e still describes source[e.Start:e.End].
func (e Entity) ValidFor(source string) bool {
	if e.Start < 0 || e.Start >= e.End || e.End > len(source) {
		return false
	}
	if !isRuneBoundary(source, e.Start) || !isRuneBoundary(source, e.End) {
		return false
	}
	return source[e.Start:e.End] == e.Text
}

// String omits the entity text so entities can be logged safely.
func (e Entity) String() string {
	return fmt.Sprintf("%s[%d:%d]@%.2f", e.Label, e.Start, e.End, e.Confidence)
}

var labelRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidLabel reports whether label can be embedded in a token.
func ValidLabel(label string) bool {
	return labelRe.MatchString(label)
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

// Extractor detects sensitive entities in a text string.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, text string) ([]Entity, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, text string) ([]Entity, error) {
	return f(ctx, text)
}
