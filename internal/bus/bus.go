// Package bus wraps github.com/nats-io/nats.go to provide the Message
// Bus Client (spec §4.1): publish, subscribe-with-auto-reply, and
// request-reply against the mesh.* subject hierarchy.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by any operation attempted before Connect
// succeeds or after the connection has been closed.
var ErrNotConnected = errors.New("bus: not connected")

// Handler processes one inbound message and optionally returns a reply
// payload. A nil, nil return means "no reply" even on a request subject.
type Handler func(ctx context.Context, subject string, data json.RawMessage) (any, error)

// Client is the Message Bus Client. Publish, Request and IsConnected may
// be called concurrently once Connect has returned; Connect, Subscribe
// and Close are not synchronized with each other or with those calls.
type Client struct {
	url            string
	requestTimeout time.Duration
	nc             *nats.Conn
	subs           []*nats.Subscription
}

// New returns a disconnected Client bound to url. requestTimeout is the
// default used by Request when the caller doesn't override it via
// context deadline.
func New(url string, requestTimeout time.Duration) *Client {
	return &Client{url: url, requestTimeout: requestTimeout}
}

// Connect establishes the NATS connection, retrying with exponential
// backoff up to ctx's deadline (or five attempts with no deadline set).
func (c *Client) Connect(ctx context.Context) error {
	operation := func() error {
		nc, err := nats.Connect(c.url,
			nats.Name("agentmesh-control-plane"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("bus disconnected")
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Str("url", nc.ConnectedUrl()).Msg("bus reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		c.nc = nc
		return nil
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff()
	if _, ok := ctx.Deadline(); !ok {
		b = backoff.WithMaxRetries(b, 4)
	}
	bo := backoff.WithContext(b, ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return err
	}
	log.Info().Str("url", c.url).Msg("connected to message bus")
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		return fmt.Errorf("drain bus connection: %w", err)
	}
	return nil
}

// Publish fire-and-forgets a JSON-encoded payload on subject.
func (c *Client) Publish(subject string, payload any) error {
	if c.nc == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload for %s: %w", subject, err)
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject. If the inbound message carries
// a reply-to subject and handler returns a non-nil result (or an error),
// Subscribe publishes the corresponding success or ErrorReply-shaped
// JSON back to the requester — mirroring the request-reply semantics the
// router and registry services depend on.
func (c *Client) Subscribe(subject string, handler Handler) error {
	if c.nc == nil {
		return ErrNotConnected
	}
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		c.dispatch(context.Background(), subject, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	log.Info().Str("subject", subject).Msg("subscribed to bus subject")
	return nil
}

func (c *Client) dispatch(ctx context.Context, subject string, msg *nats.Msg, handler Handler) {
	result, err := handler(ctx, subject, json.RawMessage(msg.Data))
	if msg.Reply == "" {
		if err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("handler failed on non-reply subject")
		}
		return
	}
	if err == nil && result == nil {
		return
	}

	var replyPayload any
	if err != nil {
		replyPayload = map[string]string{"status": "error", "error": err.Error()}
	} else {
		replyPayload = result
	}
	data, marshalErr := json.Marshal(replyPayload)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Str("subject", subject).Msg("failed to marshal reply")
		return
	}
	if pubErr := c.nc.Publish(msg.Reply, data); pubErr != nil {
		log.Error().Err(pubErr).Str("subject", subject).Msg("failed to publish reply")
	}
}

// Request sends payload to subject and decodes the JSON reply into out.
// The timeout is taken from ctx's deadline if set, otherwise the
// client's configured requestTimeout.
func (c *Client) Request(ctx context.Context, subject string, payload any, out any) error {
	if c.nc == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload for %s: %w", subject, err)
	}

	timeout := c.requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	msg, err := c.nc.Request(subject, data, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("request to %s timed out after %s: %w", subject, timeout, err)
		}
		return fmt.Errorf("request to %s: %w", subject, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}

// IsConnected reports whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}
