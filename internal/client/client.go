// Package client sends one request line per connection and reads the reply.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astavonin/linegreet/internal/logging"
	"github.com/astavonin/linegreet/internal/transport/quicline"
)

// ErrNoResponse means the server closed the connection without replying.
var ErrNoResponse = errors.New("connection closed without response")

// Dialer opens the connection for one request.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// TCP dials plain TCP.
func TCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// QUIC dials one QUIC stream, trusting any server certificate.
func QUIC(ctx context.Context, addr string) (net.Conn, error) {
	return quicline.Dial(ctx, addr, quicline.ClientTLS())
}

// Client sends requests to one server address.
type Client struct {
	addr    string
	dial    Dialer
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the default TCP dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithTimeout bounds every Request in addition to its context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger for connection events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a Client for addr that dials TCP and logs nothing by default.
func New(addr string, opts ...Option) *Client {
	c := &Client{addr: addr, dial: TCP, log: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends line and returns the reply without its terminator. ctx
// bounds the dial and the exchange.
func (c *Client) Request(ctx context.Context, line string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx, c.addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	log := c.log.WithField("local", conn.LocalAddr().String())
	log.WithField("server", c.addr).Debug("connected to server")

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := bufio.NewWriter(conn)
	w.WriteString(line)
	w.WriteByte('\n')
	if err := w.Flush(); err != nil {
		return "", c.ioErr(ctx, "send", err)
	}
	log.WithField("request", line).Info("sent")

	resp, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if resp == "" {
				return "", ErrNoResponse
			}
		} else {
			return "", c.ioErr(ctx, "receive", err)
		}
	}
	resp = strings.TrimSuffix(strings.TrimSuffix(resp, "\n"), "\r")
	log.WithField("response", resp).Info("received")
	return resp, nil
}

// ioErr prefers the context's error when cancellation caused the failure.
func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
