package server

import (
	"context"
	"net"
	"sync"

	"github.com/astavonin/linegreet/internal/pool"
)

// Dispatcher decides where an accepted connection is handled.
type Dispatcher interface {
	// Dispatch arranges for handle(conn) to run. On error the caller still
	// owns conn.
	Dispatch(conn net.Conn, handle func(net.Conn)) error
	// Drain waits for dispatched handlers after the accept loop has stopped.
	Drain(ctx context.Context) error
	Name() string
}

type inline struct{}

// Inline handles each connection on the accept goroutine, so the next
// connection is accepted only after the current one is closed.
func Inline() Dispatcher { return inline{} }

func (inline) Dispatch(conn net.Conn, handle func(net.Conn)) error {
	handle(conn)
	return nil
}

func (inline) Drain(context.Context) error { return nil }
func (inline) Name() string                { return "inline" }

type perConn struct {
	wg sync.WaitGroup
}

// PerConn starts one goroutine per connection. Concurrency is unbounded.
func PerConn() Dispatcher { return &perConn{} }

func (d *perConn) Dispatch(conn net.Conn, handle func(net.Conn)) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		handle(conn)
	}()
	return nil
}

func (d *perConn) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *perConn) Name() string { return "per-conn" }

type pooled struct {
	p *pool.Pool
}

// Pooled queues connections onto p. Drain closes p and waits for it.
func Pooled(p *pool.Pool) Dispatcher { return pooled{p: p} }

func (d pooled) Dispatch(conn net.Conn, handle func(net.Conn)) error {
	return d.p.Submit(func() { handle(conn) })
}

func (d pooled) Drain(ctx context.Context) error {
	d.p.Close()
	return d.p.Wait(ctx)
}

func (d pooled) Name() string { return "pool" }
