package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/hupe1980/localdocs/codec"
	"github.com/hupe1980/localdocs/retrieval"
	"github.com/hupe1980/localdocs/worker"
)

// CodecHeader names the codec of a message body.
const CodecHeader = "Localdocs-Codec"

// DefaultSubject is the subject the CLI serves on.
const DefaultSubject = "localdocs.search"

// Handler answers one request. *worker.Worker implements it.
type Handler interface {
	Do(ctx context.Context, req worker.Request) worker.Response
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

type options struct {
	codec      codec.Codec
	logger     *slog.Logger
	timeout    time.Duration
	queueGroup string
}

// Option configures Serve and NewClient.
type Option func(*options)

// WithCodec sets the codec used for outgoing messages.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each request. Contexts with an earlier deadline win.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithQueueGroup makes Serve join a queue group so several processes share
// the subject.
func WithQueueGroup(name string) Option {
	return func(o *options) { o.queueGroup = name }
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:   codec.Default,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

func codecOf(msg *nats.Msg, fallback codec.Codec) codec.Codec {
	if msg.Header != nil {
		if c, ok := codec.ByName(msg.Header.Get(CodecHeader)); ok {
			return c
		}
	}
	return fallback
}

// Serve answers requests on subject with h. Replies use the codec the
// request was encoded with.
func Serve(nc *nats.Conn, subject string, h Handler, optFns ...Option) (*nats.Subscription, error) {
	o := applyOptions(optFns)

	cb := func(msg *nats.Msg) {
		c := codecOf(msg, o.codec)
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		var resp worker.Response
		req, err := worker.DecodeRequest(c, msg.Data)
		if err != nil {
			resp = worker.Response{Type: worker.TypeError, Error: fmt.Sprintf("natsrpc: malformed request: %v", err)}
		} else {
			resp = h.Do(ctx, req)
		}

		data, err := c.Marshal(resp)
		if err != nil {
			o.logger.Error("encode response", "subject", msg.Subject, "error", err)
			return
		}
		reply := &nats.Msg{Subject: msg.Reply, Data: data, Header: nats.Header{}}
		reply.Header.Set(CodecHeader, c.Name())
		if err := msg.RespondMsg(reply); err != nil {
			o.logger.Warn("respond", "subject", msg.Subject, "error", err)
		}
	}

	if o.queueGroup != "" {
		return nc.QueueSubscribe(subject, o.queueGroup, cb)
	}
	return nc.Subscribe(subject, cb)
}

// Client sends worker requests over NATS.
type Client struct {
	nc      *nats.Conn
	subject string
	opts    options
}

// NewClient creates a client for subject.
func NewClient(nc *nats.Conn, subject string, optFns ...Option) *Client {
	return &Client{nc: nc, subject: subject, opts: applyOptions(optFns)}
}

// Do sends req and decodes the response. Transport failures are returned
// as errors; an ERROR response is not.
func (c *Client) Do(ctx context.Context, req worker.Request) (worker.Response, error) {
	data, err := c.opts.codec.Marshal(req)
	if err != nil {
		return worker.Response{}, err
	}

	msg := &nats.Msg{Subject: c.subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(CodecHeader, c.opts.codec.Name())
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	if _, ok := ctx.Deadline(); !ok && c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	reply, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return worker.Response{}, fmt.Errorf("natsrpc: no worker serving %s: %w", c.subject, err)
		}
		return worker.Response{}, err
	}

	var resp worker.Response
	if err := codecOf(reply, c.opts.codec).Unmarshal(reply.Data, &resp); err != nil {
		return worker.Response{}, fmt.Errorf("natsrpc: decode response: %w", err)
	}
	return resp, nil
}

// Search runs a SEARCH request remotely.
func (c *Client) Search(ctx context.Context, query []float32, sessionID string, opts retrieval.SearchOptions) ([]retrieval.Result, error) {
	resp, err := c.Do(ctx, worker.NewSearchRequest(query, sessionID, opts))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}
