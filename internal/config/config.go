// Package config holds the startup configuration of the servers and clients.
//
// Values come from built-in defaults, then LINESRV_* environment variables,
// then command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/exp/constraints"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid configuration")

// Strategy selects how accepted connections are dispatched.
type Strategy string

const (
	StrategyInline  Strategy = "inline"
	StrategyPerConn Strategy = "per-conn"
	StrategyPool    Strategy = "pool"
)

// Transport selects the listening/dialing transport.
type Transport string

const (
	TransportTCP  Transport = "tcp"
	TransportQUIC Transport = "quic"
)

const envPrefix = "LINESRV_"

// Server is the configuration of one server process.
type Server struct {
	Strategy Strategy

	Host     string
	Port     int
	PoolSize int
	// LockThreads pins every pool worker to its own OS thread.
	LockThreads bool
	// ReusePort lets several processes share the listening port.
	ReusePort bool

	AcceptTimeout time.Duration
	ReadTimeout   time.Duration
	ShutdownGrace time.Duration

	Cache    bool
	Coalesce bool

	Transport Transport
	TLSCert   string
	TLSKey    string

	LogFile       string
	LogLevel      string
	LogJSON       bool
	TraceFile     string
	StatsInterval time.Duration
}

// Blocking returns the defaults of the single-threaded server.
func Blocking() Server {
	return Server{
		Strategy:      StrategyInline,
		Host:          "localhost",
		Port:          8010,
		PoolSize:      1,
		ShutdownGrace: 5 * time.Second,
		Transport:     TransportTCP,
		LogFile:       "server.log",
		LogLevel:      "info",
	}
}

// Threaded returns the defaults of the connection-per-goroutine server.
func Threaded() Server {
	return Server{
		Strategy:      StrategyPerConn,
		Host:          "localhost",
		Port:          8020,
		PoolSize:      1,
		ShutdownGrace: 5 * time.Second,
		Cache:         true,
		Transport:     TransportTCP,
		LogFile:       "multithreaded_server.log",
		LogLevel:      "info",
	}
}

// Pool returns the defaults of the worker-pool server.
func Pool() Server {
	return Server{
		Strategy:      StrategyPool,
		Host:          "localhost",
		Port:          8010,
		PoolSize:      1000,
		ShutdownGrace: 5 * time.Second,
		Cache:         true,
		Transport:     TransportTCP,
		LogFile:       "threadpool_server.log",
		LogLevel:      "info",
	}
}

// Addr is the host:port the server binds.
func (c Server) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ApplyEnv overrides fields from LINESRV_* variables.
func (c *Server) ApplyEnv() error {
	var errs []error
	envString("HOST", &c.Host)
	errs = append(errs,
		envInt("PORT", &c.Port),
		envInt("POOL_SIZE", &c.PoolSize),
		envBool("LOCK_THREADS", &c.LockThreads),
		envBool("REUSE_PORT", &c.ReusePort),
		envDuration("ACCEPT_TIMEOUT", &c.AcceptTimeout),
		envDuration("READ_TIMEOUT", &c.ReadTimeout),
		envDuration("SHUTDOWN_GRACE", &c.ShutdownGrace),
		envBool("CACHE", &c.Cache),
		envBool("COALESCE", &c.Coalesce),
		envBool("LOG_JSON", &c.LogJSON),
		envDuration("STATS_INTERVAL", &c.StatsInterval),
	)
	var transport string
	if envString("TRANSPORT", &transport) {
		c.Transport = Transport(transport)
	}
	envString("TLS_CERT", &c.TLSCert)
	envString("TLS_KEY", &c.TLSKey)
	envString("LOG_FILE", &c.LogFile)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("TRACE_FILE", &c.TraceFile)
	return errors.Join(errs...)
}

// RegisterFlags binds every field to fs using the current values as defaults.
func (c *Server) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "interface to listen on")
	fs.IntVar(&c.Port, "port", c.Port, "port to listen on")
	fs.IntVar(&c.PoolSize, "pool-size", c.PoolSize, "number of pool workers (pool strategy only)")
	fs.BoolVar(&c.LockThreads, "lock-threads", c.LockThreads, "pin each pool worker to an OS thread")
	fs.BoolVar(&c.ReusePort, "reuse-port", c.ReusePort, "set SO_REUSEPORT so several processes can share the port (tcp only)")
	fs.DurationVar(&c.AcceptTimeout, "accept-timeout", c.AcceptTimeout, "accept deadline per iteration, 0 disables")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "deadline for reading the request line, 0 disables")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "how long to wait for in-flight handlers, 0 waits forever")
	fs.BoolVar(&c.Cache, "cache", c.Cache, "memoize responses by request text")
	fs.BoolVar(&c.Coalesce, "coalesce", c.Coalesce, "collapse concurrent first-time computations of the same key")
	fs.Func("transport", "tcp or quic (default "+string(c.Transport)+")", func(s string) error {
		c.Transport = Transport(s)
		return nil
	})
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "certificate file for quic, empty generates one")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "key file for quic")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "append-only log file, empty logs to stderr only")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "log as JSON")
	fs.StringVar(&c.TraceFile, "trace", c.TraceFile, "write a runtime trace to this file")
	fs.DurationVar(&c.StatsInterval, "stats-interval", c.StatsInterval, "log active connections periodically, 0 disables")
}

// Validate reports every invalid setting, each wrapping ErrInvalid.
func (c Server) Validate() error {
	errs := []error{
		inRange("port", c.Port, 0, 65535),
		inRange("pool-size", c.PoolSize, 1, 1<<20),
		nonNegative("accept-timeout", c.AcceptTimeout),
		nonNegative("read-timeout", c.ReadTimeout),
		nonNegative("shutdown-grace", c.ShutdownGrace),
		nonNegative("stats-interval", c.StatsInterval),
		validTransport(c.Transport),
	}
	switch c.Strategy {
	case StrategyInline, StrategyPerConn, StrategyPool:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown strategy %q", ErrInvalid, c.Strategy))
	}
	if c.ReusePort && c.Transport != TransportTCP {
		errs = append(errs, fmt.Errorf("%w: reuse-port requires the tcp transport", ErrInvalid))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("%w: tls-cert and tls-key must be set together", ErrInvalid))
	}
	return errors.Join(errs...)
}

// LoadServer resolves defaults, environment and args into a validated config.
func LoadServer(name string, defaults Server, args []string) (Server, error) {
	cfg := defaults
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Client is the configuration of the request client and the load generator.
type Client struct {
	Host      string
	Port      int
	Transport Transport
	Timeout   time.Duration

	Message     string
	Requests    int
	Concurrency int
	// Distinct is the number of different messages the load generator
	// cycles through; 0 makes every message unique.
	Distinct int
	Memo     bool

	LogFile  string
	LogLevel string
}

// SingleClient returns the defaults of the one-shot client.
func SingleClient() Client {
	return Client{
		Host:        "localhost",
		Port:        8010,
		Transport:   TransportTCP,
		Timeout:     5 * time.Second,
		Message:     "Hello from the Client",
		Requests:    1,
		Concurrency: 1,
		LogFile:     "client.log",
		LogLevel:    "info",
	}
}

// LoadClient returns the defaults of the load generator.
func LoadClient() Client {
	return Client{
		Host:        "localhost",
		Port:        8020,
		Transport:   TransportTCP,
		Timeout:     5 * time.Second,
		Message:     "Hello from Client",
		Requests:    100,
		Concurrency: 100,
		Memo:        true,
		LogFile:     "multithreaded_client.log",
		LogLevel:    "info",
	}
}

// Addr is the host:port the client dials.
func (c Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Client) ApplyEnv() error {
	envString("HOST", &c.Host)
	var transport string
	if envString("TRANSPORT", &transport) {
		c.Transport = Transport(transport)
	}
	envString("LOG_FILE", &c.LogFile)
	envString("LOG_LEVEL", &c.LogLevel)
	return errors.Join(
		envInt("PORT", &c.Port),
		envDuration("TIMEOUT", &c.Timeout),
	)
}

func (c *Client) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "server host")
	fs.IntVar(&c.Port, "port", c.Port, "server port")
	fs.Func("transport", "tcp or quic (default "+string(c.Transport)+")", func(s string) error {
		c.Transport = Transport(s)
		return nil
	})
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-request timeout")
	fs.StringVar(&c.Message, "message", c.Message, "request line (load generator appends the request number)")
	fs.IntVar(&c.Requests, "requests", c.Requests, "number of requests")
	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "requests in flight at once")
	fs.IntVar(&c.Distinct, "distinct", c.Distinct, "number of distinct messages, 0 makes every message unique")
	fs.BoolVar(&c.Memo, "memo", c.Memo, "skip the network for messages already answered")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "append-only log file, empty logs to stderr only")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
}

func (c Client) Validate() error {
	return errors.Join(
		inRange("port", c.Port, 1, 65535),
		inRange("requests", c.Requests, 1, 1<<24),
		inRange("concurrency", c.Concurrency, 1, 1<<20),
		nonNegative("distinct", c.Distinct),
		nonNegative("timeout", c.Timeout),
		validTransport(c.Transport),
	)
}

// LoadClientConfig resolves defaults, environment and args for a client binary.
func LoadClientConfig(name string, defaults Client, args []string) (Client, error) {
	cfg := defaults
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func validTransport(t Transport) error {
	switch t {
	case TransportTCP, TransportQUIC:
		return nil
	}
	return fmt.Errorf("%w: unknown transport %q", ErrInvalid, t)
}

func inRange[T constraints.Integer](name string, v, lo, hi T) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s must be in [%d, %d], got %d", ErrInvalid, name, lo, hi, v)
	}
	return nil
}

func nonNegative[T constraints.Signed](name string, v T) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalid, name, v)
	}
	return nil
}

func envString(key string, dst *string) bool {
	v, ok := os.LookupEnv(envPrefix + key)
	if ok {
		*dst = v
	}
	return ok
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}
