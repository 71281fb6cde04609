// Package server implements the line-greeting accept loop shared by the
// blocking, per-connection and worker-pool servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astavonin/linegreet/internal/logging"
)

var (
	// ErrBind wraps a failure to open the listening socket.
	ErrBind = errors.New("bind failed")
	// ErrDrainTimeout is returned by Serve when in-flight handlers outlive
	// Config.ShutdownGrace.
	ErrDrainTimeout = errors.New("in-flight connections did not finish in time")
)

// Config wires a Server. Zero values select the defaults noted per field.
type Config struct {
	// Logger defaults to a discarding logger.
	Logger logrus.FieldLogger
	// Dispatcher defaults to PerConn.
	Dispatcher Dispatcher
	// Responder defaults to Static(Greeting).
	Responder Responder

	// AcceptTimeout bounds each Accept call so the loop re-checks for
	// cancellation. Only listeners with SetDeadline honour it.
	AcceptTimeout time.Duration
	// ReadTimeout bounds the wait for the request line.
	ReadTimeout time.Duration
	// ShutdownGrace bounds the drain of in-flight handlers and, once the
	// server is shutting down, the wait for a pending request line. Zero
	// waits forever.
	ShutdownGrace time.Duration
	// StatsInterval enables a periodic active-connection log line.
	StatsInterval time.Duration
}

// Server owns the per-process state shared by every handler: logger,
// dispatcher, responder and the active-handler counters.
type Server struct {
	cfg Config
	log logrus.FieldLogger

	active atomic.Int64
	peak   atomic.Int64
	served atomic.Int64
}

// New returns a Server for cfg with defaults filled in.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = PerConn()
	}
	if cfg.Responder == nil {
		cfg.Responder = Static(Greeting)
	}
	return &Server{cfg: cfg, log: cfg.Logger}
}

// Active is the number of handlers currently inside the handler body.
func (s *Server) Active() int64 { return s.active.Load() }

// PeakActive is the highest value Active has reached.
func (s *Server) PeakActive() int64 { return s.peak.Load() }

// Served is the number of connections handled to completion.
func (s *Server) Served() int64 { return s.served.Load() }

// Listen opens a TCP listener on addr. With reusePort several processes can
// bind the same addr and the kernel spreads new connections across them.
func Listen(ctx context.Context, addr string, reusePort bool) (net.Listener, error) {
	lc := net.ListenConfig{Control: listenControl(reusePort)}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}
	return ln, nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := Listen(ctx, addr, false)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed,
// then drains the dispatcher. It returns nil after a graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.WithFields(logrus.Fields{
		"addr":     ln.Addr().String(),
		"strategy": s.cfg.Dispatcher.Name(),
	}).Info("server started")

	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.WithError(err).Error("closing listener")
		}
	})
	defer stop()

	if s.cfg.StatsInterval > 0 {
		go s.reportActive(ctx)
	}

	s.acceptLoop(ctx, ln)
	ln.Close()

	s.log.Info("listener closed, draining connections")
	if err := s.drain(); err != nil {
		return err
	}
	s.log.WithField("served", s.Served()).Info("server shutdown gracefully")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		if s.cfg.AcceptTimeout > 0 {
			setAcceptDeadline(ln, time.Now().Add(s.cfg.AcceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			backoff = nextBackoff(backoff)
			s.log.WithError(err).WithField("retry_in", backoff).Error("error accepting client connection")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.log.WithField("remote", conn.RemoteAddr().String()).Info("connection accepted")
		if err := s.cfg.Dispatcher.Dispatch(conn, func(c net.Conn) { s.handle(ctx, c) }); err != nil {
			s.log.WithError(err).WithField("remote", conn.RemoteAddr().String()).Error("dispatch failed, dropping connection")
			conn.Close()
		}
	}
}

func (s *Server) drain() error {
	ctx := context.Background()
	if s.cfg.ShutdownGrace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownGrace)
		defer cancel()
	}
	if err := s.cfg.Dispatcher.Drain(ctx); err != nil {
		s.log.WithError(err).WithField("active", s.Active()).Warn("grace period exceeded")
		return fmt.Errorf("%w: %w", ErrDrainTimeout, err)
	}
	return nil
}

// reportActive periodically logs the number of active connections
func (s *Server) reportActive(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.WithFields(logrus.Fields{
				"active": s.Active(),
				"peak":   s.PeakActive(),
				"served": s.Served(),
			}).Info("active connections")
		}
	}
}

func setAcceptDeadline(ln net.Listener, t time.Time) {
	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		dl.SetDeadline(t)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	const maxBackoff = time.Second
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
