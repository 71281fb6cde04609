package server

import (
	"context"
	"runtime"
	"testing"

	"github.com/astavonin/linegreet/internal/pool"
)

func BenchmarkRoundTrip_Inline(b *testing.B)  { benchRoundTrip(b, Inline()) }
func BenchmarkRoundTrip_PerConn(b *testing.B) { benchRoundTrip(b, PerConn()) }

func BenchmarkRoundTrip_Pool(b *testing.B) {
	p, err := pool.New(runtime.GOMAXPROCS(0))
	if err != nil {
		b.Fatal(err)
	}
	benchRoundTrip(b, Pooled(p))
}

func BenchmarkRoundTrip_PoolPinned(b *testing.B) {
	p, err := pool.New(runtime.GOMAXPROCS(0), pool.WithLockedThreads())
	if err != nil {
		b.Fatal(err)
	}
	benchRoundTrip(b, Pooled(p))
}

// benchRoundTrip measures one connect/request/reply/close cycle from
// parallel clients.
func benchRoundTrip(b *testing.B, d Dispatcher) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", false)
	if err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{Dispatcher: d}).Serve(ctx, ln) }()
	addr := ln.Addr().String()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := roundTrip(addr, "bench"); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()

	cancel()
	if err := <-done; err != nil {
		b.Fatal(err)
	}
}
