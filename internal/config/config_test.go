package config

import (
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	for name, cfg := range map[string]Server{
		"blocking": Blocking(),
		"threaded": Threaded(),
		"pool":     Pool(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, cfg.Validate())
		})
	}
	assert.NoError(t, SingleClient().Validate())
	assert.NoError(t, LoadClient().Validate())
}

func TestDefaultPorts(t *testing.T) {
	assert.Equal(t, "localhost:8010", Blocking().Addr())
	assert.Equal(t, "localhost:8020", Threaded().Addr())
	assert.Equal(t, "localhost:8010", Pool().Addr())
	assert.Equal(t, 1000, Pool().PoolSize)
	assert.False(t, Blocking().Cache)
}

func TestLoadServerFlagsOverrideEnv(t *testing.T) {
	t.Setenv("LINESRV_PORT", "9100")
	t.Setenv("LINESRV_POOL_SIZE", "4")
	t.Setenv("LINESRV_READ_TIMEOUT", "2s")

	cfg, err := LoadServer("pool-server", Pool(), []string{"-port", "9200", "-transport", "quic", "-coalesce"})
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, TransportQUIC, cfg.Transport)
	assert.True(t, cfg.Coalesce)
}

func TestLoadServerBadEnv(t *testing.T) {
	t.Setenv("LINESRV_PORT", "eighty")

	_, err := LoadServer("blocking-server", Blocking(), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"port too large", func(c *Server) { c.Port = 70000 }},
		{"negative port", func(c *Server) { c.Port = -1 }},
		{"empty pool", func(c *Server) { c.PoolSize = 0 }},
		{"negative accept timeout", func(c *Server) { c.AcceptTimeout = -time.Second }},
		{"negative grace", func(c *Server) { c.ShutdownGrace = -time.Second }},
		{"unknown transport", func(c *Server) { c.Transport = "sctp" }},
		{"unknown strategy", func(c *Server) { c.Strategy = "fork" }},
		{"cert without key", func(c *Server) { c.TLSCert = "cert.pem" }},
		{"reuse-port over quic", func(c *Server) { c.ReusePort = true; c.Transport = TransportQUIC }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Pool()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig("loadgen", LoadClient(), []string{"-requests", "10", "-concurrency", "2", "-memo=false"})
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Requests)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.False(t, cfg.Memo)
	assert.Equal(t, "localhost:8020", cfg.Addr())

	_, err = LoadClientConfig("loadgen", LoadClient(), []string{"-concurrency", "0"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestHelpFlag(t *testing.T) {
	_, err := LoadServer("pool-server", Pool(), []string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}
