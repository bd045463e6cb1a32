package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gonkalabs/ragguard/internal/pipeline"
	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/service"
	"github.com/gonkalabs/ragguard/internal/vault"
)

// maxBodySize caps request bodies.
const maxBodySize = 10 << 20

// Upstream is the completion service behind the chat proxy.
type Upstream interface {
	Do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error)
	DoStream(ctx context.Context, method, path string, payload []byte) (*http.Response, error)
	FetchModels(ctx context.Context) ([]json.RawMessage, error)
}

// Handler implements all HTTP endpoints.
type Handler struct {
	svc      *service.Service
	upstream Upstream // nil disables the chat proxy
	logger   hclog.Logger

	mu     sync.RWMutex
	models []json.RawMessage // cached raw model objects from upstream
}

// New creates a Handler. A nil upstream disables /v1/models and
// /v1/chat/completions.
func New(svc *service.Service, up Upstream, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{svc: svc, upstream: up, logger: logger}
}

// Register mounts routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /v1/mask", h.mask)
	mux.HandleFunc("POST /v1/unmask", h.unmask)
	mux.HandleFunc("POST /v1/entities", h.entities)
	mux.HandleFunc("POST /v1/query", h.query)
	mux.HandleFunc("POST /v1/report", h.report)
	mux.HandleFunc("POST /v1/patterns", h.addPattern)
	if h.upstream != nil {
		mux.HandleFunc("GET /v1/models", h.listModels)
		mux.HandleFunc("POST /v1/chat/completions", h.chatCompletions)
	}
	if m := h.svc.Metrics(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
}

// ---------- endpoints ----------

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func (h *Handler) mask(w http.ResponseWriter, r *http.Request) {
	var req service.MaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Mask(r.Context(), req)
	h.respond(w, "mask", resp, err)
}

func (h *Handler) unmask(w http.ResponseWriter, r *http.Request) {
	var req service.UnmaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Unmask(r.Context(), req)
	h.respond(w, "unmask", resp, err)
}

func (h *Handler) entities(w http.ResponseWriter, r *http.Request) {
	var req service.EntitiesRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Entities(r.Context(), req)
	h.respond(w, "entities", resp, err)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Query(r.Context(), req)
	h.respond(w, "query", resp, err)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	var req service.ReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Report(r.Context(), req)
	h.respond(w, "report", resp, err)
}

func (h *Handler) addPattern(w http.ResponseWriter, r *http.Request) {
	var req service.PatternRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.AddPattern(r.Context(), req)
	h.respond(w, "add_pattern", resp, err)
}

func (h *Handler) listModels(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	models := h.models
	h.mu.RUnlock()

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}

	entries := []modelEntry{}
	for _, raw := range models {
		var m struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
			OwnedBy string `json:"owned_by"`
		}
		if json.Unmarshal(raw, &m) == nil && m.ID != "" {
			entries = append(entries, modelEntry{
				ID:      m.ID,
				Object:  "model",
				Created: m.Created,
				OwnedBy: m.OwnedBy,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// chatCompletions masks the outgoing messages, forwards the request and
// restores tokens in the upstream answer.
func (h *Handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	body, mapping, err := h.svc.MaskMessages(r.Context(), body)
	if err != nil {
		h.fail(w, "chat completions", err)
		return
	}
	if len(mapping) > 0 {
		h.logger.Info("redacted tokens in request", "count", len(mapping))
	}

	// Peek at stream flag
	var peek struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &peek)

	h.logger.Debug("chat completions", "stream", peek.Stream, "body_len", len(body))

	if peek.Stream {
		h.streamResponse(w, r, body, mapping)
	} else {
		h.nonStreamResponse(w, r, body, mapping)
	}
}

func (h *Handler) nonStreamResponse(w http.ResponseWriter, r *http.Request, body []byte, mapping sanitize.Mapping) {
	respBody, status, err := h.upstream.Do(r.Context(), http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		h.logger.Error("upstream error", "error", err)
		writeErr(w, http.StatusBadGateway, "upstream error: "+err.Error())
		return
	}

	// Restore redacted tokens before returning to the client.
	if len(mapping) > 0 {
		restored, err := sanitize.Unmask(string(respBody), mapping.ForJSON())
		if err != nil {
			h.fail(w, "chat completions", err)
			return
		}
		respBody = []byte(restored)
	}

	setSanitizeHeader(w, mapping)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, body []byte, mapping sanitize.Mapping) {
	resp, err := h.upstream.DoStream(r.Context(), http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		h.logger.Error("upstream stream error", "error", err)
		writeErr(w, http.StatusBadGateway, "upstream error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		h.logger.Error("upstream stream status", "code", resp.StatusCode, "body_len", len(errBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(errBody)
		return
	}

	// SSE headers
	setSanitizeHeader(w, mapping)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Warn("response writer does not support flushing")
	}

	// SSE events carry JSON, so tokens are restored as JSON string content.
	src := sanitize.NewRestoringReader(resp.Body, mapping.ForJSON())

	buf := make([]byte, 4096)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				h.logger.Error("client write error", "error", writeErr)
				return
			}
			if ok {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.logger.Error("upstream read error", "error", readErr)
			}
			return
		}
	}
}

// setSanitizeHeader encodes the redaction list into the X-Sanitize-Redactions
// response header so a client UI can display what was redacted and restored.
// The JSON is base64-encoded so UTF-8 values survive header transmission.
// It is a no-op when mapping is empty.
func setSanitizeHeader(w http.ResponseWriter, mapping sanitize.Mapping) {
	if len(mapping) == 0 {
		return
	}
	b, err := json.Marshal(mapping.Redactions())
	if err != nil {
		return
	}
	w.Header().Set("X-Sanitize-Redactions", base64.StdEncoding.EncodeToString(b))
}

// ---------- helpers ----------

// LoadModels fetches the upstream model list, retrying with backoff. It is
// meant to run in its own goroutine at startup.
func (h *Handler) LoadModels(ctx context.Context) {
	if h.upstream == nil {
		return
	}
	for attempt := 1; attempt <= 3; attempt++ {
		models, err := h.upstream.FetchModels(ctx)
		if err != nil {
			h.logger.Warn("model load failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
			continue
		}
		h.mu.Lock()
		h.models = models
		h.mu.Unlock()
		h.logger.Info("models loaded", "count", len(models))
		return
	}
	h.logger.Error("could not load models after retries")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, op string, v any, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= 500 {
		h.logger.Error("request failed", "op", op, "error", err)
	} else {
		h.logger.Debug("request rejected", "op", op, "error", err)
	}
	writeErr(w, status, err.Error())
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, pipeline.ErrTooManyChunks):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrDisabled):
		return http.StatusNotImplemented
	}
	switch sanitize.KindOf(err) {
	case sanitize.KindConfig:
		return http.StatusBadRequest
	case sanitize.KindMasking, sanitize.KindUnmasking:
		return http.StatusUnprocessableEntity
	case sanitize.KindExtraction:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// Tokens keep their literal angle brackets.
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
