// Package upstream talks to an OpenAI-compatible completion service. It backs
// the delegated extractor (Complete) and the chat proxy (Do, DoStream).
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-rootcerts"
)

// HeaderSigner produces the authentication headers for a request body.
// *signer.Signer and *signer.Pool implement it.
type HeaderSigner interface {
	Headers(payload []byte, target string) (map[string]string, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string // e.g. http://localhost:11434; request paths start with /v1
	Model   string // model used by Complete
	APIKey  string // sent as a bearer token when no Signer is set
	Signer  HeaderSigner
	Timeout time.Duration // non-streaming requests; streaming has none
	CAFile  string
	CAPath  string
	Logger  hclog.Logger
}

// Client sends requests to the upstream with either bearer or signature
// authentication.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	signer  HeaderSigner
	logger  hclog.Logger

	http   *http.Client
	stream *http.Client
}

// New creates an upstream Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("upstream: base URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if err := rootcerts.ConfigureTLS(tlsCfg, &rootcerts.Config{
		CAFile: opts.CAFile,
		CAPath: opts.CAPath,
	}); err != nil {
		return nil, fmt.Errorf("upstream: tls: %w", err)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsCfg,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		apiKey:  opts.APIKey,
		signer:  opts.Signer,
		logger:  logger,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		// No overall timeout: streaming responses can run for a long time.
		stream: &http.Client{Transport: transport},
	}, nil
}

// Model returns the model used by Complete.
func (c *Client) Model() string { return c.model }

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message at temperature 0 and returns
// the first choice's content. It satisfies llmextractor.CompleteFunc and the
// pipeline's generator.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("upstream: marshal: %w", err)
	}

	body, status, err := c.Do(ctx, http.MethodPost, "/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("upstream: status %d: %s", status, truncate(body, 512))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("upstream: decode: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("upstream: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// FetchModels returns the raw model list from GET /v1/models.
func (c *Client) FetchModels(ctx context.Context) ([]json.RawMessage, error) {
	body, status, err := c.Do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("upstream %d: %s", status, truncate(body, 512))
	}
	var result struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return result.Data, nil
}

// Do sends a non-streaming request and returns the full response body.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, 0, err
	}
	c.logger.Debug("upstream request", "method", method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("upstream: read body: %w", err)
	}
	return b, resp.StatusCode, nil
}

// DoStream sends a request and returns the raw *http.Response for streaming.
// The caller must close resp.Body.
func (c *Client) DoStream(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("upstream stream request", "method", method, "url", req.URL.String())

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	url := c.baseURL + path

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch {
	case c.signer != nil:
		headers, err := c.signer.Headers(payload, c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
