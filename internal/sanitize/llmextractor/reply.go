package llmextractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoJSON is returned by DecodeReply when the reply holds no {...} block.
var ErrNoJSON = errors.New("no JSON object in reply")

const (
	defaultConfidence = 0.5
	unknownLabel      = "UNKNOWN"
)

// Candidate is one decoded, not yet verified, entity proposal.
type Candidate struct {
	Text       string
	Label      string
	Start      int // character offset
	End        int // character offset, exclusive
	Confidence float64
}

type replyDoc struct {
	Entities []json.RawMessage `json:"entities"`
}

type candidateDoc struct {
	Text       *string  `json:"text"`
	Label      string   `json:"label"`
	Start      *int     `json:"start"`
	End        *int     `json:"end"`
	Confidence *float64 `json:"confidence"`
}

// DecodeReply locates the JSON object embedded in a model reply (tolerating
// surrounding prose, <think> blocks and code fences) and decodes its
// entities. Individual entries with missing or mistyped fields are skipped;
// a missing label becomes UNKNOWN and a missing confidence 0.5.
func DecodeReply(reply string) ([]Candidate, error) {
	content := stripThinkBlock(strings.TrimSpace(reply))
	content = stripCodeFence(content)

	block, ok := extractJSONObject(content)
	if !ok {
		return nil, ErrNoJSON
	}

	var doc replyDoc
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	out := make([]Candidate, 0, len(doc.Entities))
	for _, raw := range doc.Entities {
		var cd candidateDoc
		if err := json.Unmarshal(raw, &cd); err != nil {
			continue
		}
		if cd.Text == nil || cd.Start == nil || cd.End == nil {
			continue
		}
		c := Candidate{
			Text:       *cd.Text,
			Label:      strings.TrimSpace(cd.Label),
			Start:      *cd.Start,
			End:        *cd.End,
			Confidence: defaultConfidence,
		}
		if c.Label == "" {
			c.Label = unknownLabel
		}
		if cd.Confidence != nil {
			c.Confidence = *cd.Confidence
		}
		if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// extractJSONObject returns the span from the first '{' to the last '}'.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return "", false
	}
	return s[start : end+1], true
}

// stripThinkBlock removes a <think>...</think> block that reasoning models
// emit before the actual answer.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		// Unclosed block - drop everything from <think> onwards.
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
