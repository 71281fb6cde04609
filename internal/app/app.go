// Package app wires configuration, logging and transports into the server
// and client binaries.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/astavonin/linegreet/internal/cache"
	"github.com/astavonin/linegreet/internal/client"
	"github.com/astavonin/linegreet/internal/config"
	"github.com/astavonin/linegreet/internal/logging"
	"github.com/astavonin/linegreet/internal/pool"
	"github.com/astavonin/linegreet/internal/server"
	"github.com/astavonin/linegreet/internal/transport/quicline"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// RunServer runs a server binary until SIGINT or SIGTERM and returns its
// exit code.
func RunServer(name string, defaults config.Server, args []string) int {
	cfg, err := config.LoadServer(name, defaults, args)
	if code, done := usageExit(err); done {
		return code
	}

	log, closer := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, JSON: cfg.LogJSON})
	defer closer.Close()
	entry := log.WithField("server", name)

	if cfg.TraceFile != "" {
		stopTrace, err := startTrace(cfg.TraceFile)
		if err != nil {
			entry.WithError(err).Warn("runtime trace disabled")
		} else {
			defer stopTrace()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Serve(ctx, cfg, entry); err != nil {
		entry.WithError(err).Error("server error")
		return ExitFailed
	}
	return ExitOK
}

// Serve listens, builds the server described by cfg and serves until ctx
// is cancelled. Nothing is started when the listener cannot be opened.
func Serve(ctx context.Context, cfg config.Server, log logrus.FieldLogger) error {
	ln, shutdown, err := Listen(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	srv, err := BuildServer(cfg, log)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, ln)
}

// BuildServer selects the dispatcher and responder for cfg.
func BuildServer(cfg config.Server, log logrus.FieldLogger) (*server.Server, error) {
	var d server.Dispatcher
	switch cfg.Strategy {
	case config.StrategyInline:
		d = server.Inline()
	case config.StrategyPerConn:
		d = server.PerConn()
	case config.StrategyPool:
		opts := []pool.Option{pool.WithPanicHandler(func(v any) {
			log.WithField("panic", v).Error("handler panicked")
		})}
		if cfg.LockThreads {
			opts = append(opts, pool.WithLockedThreads())
		}
		p, err := pool.New(cfg.PoolSize, opts...)
		if err != nil {
			return nil, err
		}
		d = server.Pooled(p)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", config.ErrInvalid, cfg.Strategy)
	}

	var r server.Responder = server.Static(server.Greeting)
	if cfg.Cache {
		var opts []cache.Option
		if cfg.Coalesce {
			opts = append(opts, cache.WithCoalescing())
		}
		r = server.NewCached(cache.New(opts...), log)
	}

	log.WithFields(logrus.Fields{
		"strategy":  cfg.Strategy,
		"pool_size": cfg.PoolSize,
		"cache":     cfg.Cache,
		"coalesce":  cfg.Coalesce,
		"transport": cfg.Transport,
	}).Debug("server configured")

	return server.New(server.Config{
		Logger:        log,
		Dispatcher:    d,
		Responder:     r,
		AcceptTimeout: cfg.AcceptTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
		StatsInterval: cfg.StatsInterval,
	}), nil
}

// Listen opens the transport named by cfg. The returned func releases it
// once Serve has returned.
func Listen(ctx context.Context, cfg config.Server) (net.Listener, func() error, error) {
	if cfg.Transport != config.TransportQUIC {
		ln, err := server.Listen(ctx, cfg.Addr(), cfg.ReusePort)
		if err != nil {
			return nil, nil, err
		}
		return ln, func() error { return ignoreClosed(ln.Close()) }, nil
	}

	tlsConf, err := serverTLS(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", server.ErrBind, err)
	}
	ln, err := quicline.Listen(cfg.Addr(), tlsConf)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", server.ErrBind, err)
	}
	return ln, ln.Shutdown, nil
}

func serverTLS(cfg config.Server) (*tls.Config, error) {
	if cfg.TLSCert != "" {
		return quicline.LoadTLS(cfg.TLSCert, cfg.TLSKey)
	}
	return quicline.SelfSignedTLS()
}

// RunClient sends one request and prints the reply.
func RunClient(name string, args []string) int {
	cfg, err := config.LoadClientConfig(name, config.SingleClient(), args)
	if code, done := usageExit(err); done {
		return code
	}

	log, closer := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer closer.Close()

	c := newClient(cfg, log)
	resp, err := c.Request(context.Background(), cfg.Message)
	if err != nil {
		log.WithError(err).Error("request failed")
		return ExitFailed
	}
	fmt.Println("Response from server: " + resp)
	return ExitOK
}

// RunLoadGen sends cfg.Requests messages with bounded concurrency.
func RunLoadGen(name string, args []string) int {
	cfg, err := config.LoadClientConfig(name, config.LoadClient(), args)
	if code, done := usageExit(err); done {
		return code
	}

	log, closer := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := client.NewLoadGen(newClient(cfg, log), cfg.Concurrency, cfg.Memo)
	res, err := gen.Run(ctx, Messages(cfg))
	log.WithFields(logrus.Fields{
		"sent":   res.Sent,
		"hits":   res.Hits,
		"failed": res.Failed,
	}).Info("load run finished")
	fmt.Printf("sent=%d hits=%d failed=%d\n", res.Sent, res.Hits, res.Failed)

	if err != nil || res.Failed > 0 {
		return ExitFailed
	}
	return ExitOK
}

// Messages builds the load generator's request lines.
func Messages(cfg config.Client) []string {
	distinct := cfg.Distinct
	if distinct <= 0 {
		distinct = cfg.Requests
	}
	msgs := make([]string, cfg.Requests)
	for i := range msgs {
		msgs[i] = fmt.Sprintf("%s %d", cfg.Message, i%distinct)
	}
	return msgs
}

func newClient(cfg config.Client, log logrus.FieldLogger) *client.Client {
	dial := client.TCP
	if cfg.Transport == config.TransportQUIC {
		dial = client.QUIC
	}
	return client.New(cfg.Addr(),
		client.WithDialer(dial),
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(log),
	)
}

// usageExit maps a config load error to an exit code.
func usageExit(err error) (int, bool) {
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, flag.ErrHelp):
		return ExitOK, true
	default:
		fmt.Fprintln(os.Stderr, err)
		return ExitUsage, true
	}
}

func startTrace(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := trace.Start(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		trace.Stop()
		f.Close()
	}, nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
