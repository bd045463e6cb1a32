// Package bus serves the mask, unmask and entities operations over NATS
// request/reply. Request and reply bodies are the same JSON documents the
// HTTP API uses.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nats-io/nats.go"

	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/service"
)

// queueGroup spreads requests across responders sharing a prefix.
const queueGroup = "ragguard"

// Operations served, as subject suffixes.
const (
	OpMask     = "mask"
	OpUnmask   = "unmask"
	OpEntities = "entities"
)

// ErrorReply is sent when an operation fails.
type ErrorReply struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Responder answers requests on <prefix>.mask, <prefix>.unmask and
// <prefix>.entities.
type Responder struct {
	svc     *service.Service
	prefix  string
	timeout time.Duration
	logger  hclog.Logger
	subs    []*nats.Subscription
}

// New creates a Responder. timeout bounds each request; zero means 30s.
func New(svc *service.Service, prefix string, timeout time.Duration, logger hclog.Logger) *Responder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Responder{
		svc:     svc,
		prefix:  strings.TrimSuffix(prefix, "."),
		timeout: timeout,
		logger:  logger,
	}
}

// Subject returns the full subject for op.
func (r *Responder) Subject(op string) string { return r.prefix + "." + op }

// Connect dials url with reconnect handling logged through logger.
func Connect(url string, logger hclog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	nc, err := nats.Connect(url,
		nats.Name("ragguard"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return nc, nil
}

// Start subscribes on nc. Call Stop to drain the subscriptions.
func (r *Responder) Start(nc *nats.Conn) error {
	for _, op := range []string{OpMask, OpUnmask, OpEntities} {
		op := op
		sub, err := nc.QueueSubscribe(r.Subject(op), queueGroup, func(msg *nats.Msg) {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := msg.Respond(r.Handle(ctx, op, msg.Data)); err != nil {
				r.logger.Warn("nats respond failed", "subject", msg.Subject, "error", err)
			}
		})
		if err != nil {
			_ = r.Stop()
			return fmt.Errorf("nats: subscribe %s: %w", r.Subject(op), err)
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info("nats responder started", "prefix", r.prefix)
	return nil
}

// Stop drains all subscriptions.
func (r *Responder) Stop() error {
	var errs []error
	for _, s := range r.subs {
		if err := s.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return errors.Join(errs...)
}

// Handle runs op on a JSON request body and returns the JSON reply.
func (r *Responder) Handle(ctx context.Context, op string, data []byte) []byte {
	var (
		resp any
		err  error
	)
	switch op {
	case OpMask:
		var req service.MaskRequest
		if err = json.Unmarshal(data, &req); err == nil {
			resp, err = r.svc.Mask(ctx, req)
		}
	case OpUnmask:
		var req service.UnmaskRequest
		if err = json.Unmarshal(data, &req); err == nil {
			resp, err = r.svc.Unmask(ctx, req)
		}
	case OpEntities:
		var req service.EntitiesRequest
		if err = json.Unmarshal(data, &req); err == nil {
			resp, err = r.svc.Entities(ctx, req)
		}
	default:
		err = fmt.Errorf("%w: unknown operation %q", service.ErrInvalidRequest, op)
	}

	if err != nil {
		r.logger.Debug("nats request failed", "op", op, "error", err)
		reply := ErrorReply{Error: err.Error()}
		if k := sanitize.KindOf(err); k != 0 {
			reply.Kind = k.String()
		}
		return encode(reply)
	}
	return encode(resp)
}

func encode(v any) []byte {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return []byte(`{"error":"encode reply"}`)
	}
	return []byte(strings.TrimRight(b.String(), "\n"))
}
