// Package ner provides an Extractor that calls an NER sidecar over HTTP. The
// sidecar answers POST /classify {"text": ...} with byte-offset spans. Spans
// are verified against the request text before they are trusted.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// Client calls the NER sidecar's /classify endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger hclog.Logger
}

// New creates a NER Client pointing at the given base URL
// (e.g. "http://sanitize-ner:8001"). A nil logger discards output.
func New(baseURL string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		url: strings.TrimRight(baseURL, "/") + "/classify",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

type nerSpan struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Label string   `json:"label"`
	Text  string   `json:"text"`
	Score *float64 `json:"score"`
}

// Extract sends text to the sidecar. Transport and status failures are
// extraction errors; spans that do not match text are dropped.
func (c *Client) Extract(ctx context.Context, text string) ([]sanitize.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, sanitize.ExtractionError("ner: marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, sanitize.ExtractionError("ner: request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sanitize.ExtractionError("ner: sidecar unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, sanitize.ExtractionError("ner: classify", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, sanitize.ExtractionError("ner: decode", err)
	}

	entities := make([]sanitize.Entity, 0, len(result.Spans))
	for _, s := range result.Spans {
		e := sanitize.Entity{
			Text:       s.Text,
			Label:      s.Label,
			Start:      s.Start,
			End:        s.End,
			Confidence: 1.0,
		}
		if s.Score != nil {
			e.Confidence = *s.Score
		}
		if e.Text == "" && s.Start >= 0 && s.Start < s.End && s.End <= len(text) {
			e.Text = text[s.Start:s.End]
		}
		if !e.ValidFor(text) || !sanitize.ValidLabel(e.Label) || e.Confidence < 0 || e.Confidence > 1 {
			c.logger.Debug("dropping unverifiable span", "label", s.Label, "start", s.Start, "end", s.End)
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}
