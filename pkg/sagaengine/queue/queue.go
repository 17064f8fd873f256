// Package queue implements the delayed, at-least-once HTTP delivery
// driver (C3): it hands a signed envelope to a consumer URL with an optional
// delay. It never retries; a caller schedules any retry through the delay.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/trace"
	"github.com/randalmurphal/sagaengine/pkg/sagaengine/wire"
)

// Message is a single publish request.
type Message struct {
	URL     string
	Body    []byte
	Headers map[string]string
	Delay   time.Duration
}

// Driver publishes messages for later (or immediate) delivery.
type Driver interface {
	// Publish delivers msg, returning a message id. Never retries
	// synchronously; surfaces QueuePublishFailed-shaped errors for the
	// caller to handle (log, escalate — retry is the caller's decision).
	Publish(ctx context.Context, msg Message) (messageID string, err error)
}

// Config controls signing and the non-production loopback escape hatch.
type Config struct {
	Token             string
	SigningKeyCurrent string
	SigningKeyNext    string
	// Production disables direct-trigger loopback: when true and queue
	// credentials are absent, construction fails fast (fatal
	// misconfiguration) rather than silently degrading to loopback.
	Production bool
	// LoopbackHandler, when set, handles messages in-process instead of an
	// HTTP round trip. Only honored when Production is false.
	LoopbackHandler func(ctx context.Context, msg Message) error
}

// HTTPDriver is the production Driver: it delivers over HTTP with an
// HMAC-signed envelope, after any requested delay.
type HTTPDriver struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and constructs an HTTPDriver. In production, absent
// queue credentials are a fatal misconfiguration for the execute-step path
// (spec §4.3) — this is where that contract is enforced.
func New(cfg Config, opts ...Option) (*HTTPDriver, error) {
	if cfg.Production && (cfg.Token == "" || cfg.SigningKeyCurrent == "") {
		return nil, fmt.Errorf("queue: production requires queue.token and queue.signingKeyCurrent")
	}
	d := &HTTPDriver{
		client: &http.Client{Timeout: 10 * time.Second},
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Option configures an HTTPDriver.
type Option func(*HTTPDriver)

func WithHTTPClient(c *http.Client) Option { return func(d *HTTPDriver) { d.client = c } }
func WithLogger(l *slog.Logger) Option     { return func(d *HTTPDriver) { d.logger = l } }

// Publish implements Driver. If msg.Delay > 0 it sleeps before delivering —
// callers on a blocking path should instead schedule delivery externally;
// this is provided for drivers without a native delay primitive.
func (d *HTTPDriver) Publish(ctx context.Context, msg Message) (string, error) {
	if !d.cfg.Production && d.cfg.LoopbackHandler != nil {
		if msg.Delay > 0 {
			select {
			case <-time.After(msg.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := d.cfg.LoopbackHandler(ctx, msg); err != nil {
			return "", &sagaerrors.QueueUnavailableError{Cause: err}
		}
		return uuid.NewString(), nil
	}

	if msg.Delay > 0 {
		select {
		case <-time.After(msg.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	messageID := uuid.NewString()
	if err := d.deliver(ctx, msg, messageID); err != nil {
		d.logger.Error("queue publish failed", slog.String("url", msg.URL), slog.String("error", err.Error()))
		return "", &sagaerrors.QueueUnavailableError{Cause: err}
	}
	return messageID, nil
}

func (d *HTTPDriver) deliver(ctx context.Context, msg Message, messageID string) error {
	ids := trace.FromContext(ctx, msg.Headers[wire.HeaderCorrelationID])
	timestamp, signature := wire.Sign([]byte(d.cfg.SigningKeyCurrent), msg.Body, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.URL, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Message-Id", messageID)
	req.Header.Set(wire.HeaderTraceID, ids.TraceID)
	req.Header.Set(wire.HeaderCorrelationID, ids.CorrelationID)
	req.Header.Set(wire.HeaderHMACTimestamp, timestamp)
	req.Header.Set(wire.HeaderHMACSignature, signature)
	if d.cfg.Token != "" {
		req.Header.Set(wire.HeaderInternalSysKey, d.cfg.Token)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("consumer %s responded %d", msg.URL, resp.StatusCode)
	}
	return nil
}

// PublishJSON marshals v as the message body.
func (d *HTTPDriver) PublishJSON(ctx context.Context, url string, v any, delay time.Duration) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal message body: %w", err)
	}
	return d.Publish(ctx, Message{URL: url, Body: body, Delay: delay})
}

var _ Driver = (*HTTPDriver)(nil)
