package pool

import (
	"context"
	"runtime"
	"sync"
	"testing"
)

const bufSize = 64 << 10 // 64KB

// touchBuffer simulates per-task hot data access
func touchBuffer(buf []byte) {
	for i := 0; i < len(buf); i += 64 {
		buf[i]++
	}
}

func BenchmarkSubmit_Unpinned(b *testing.B) { runPool(b) }
func BenchmarkSubmit_Pinned(b *testing.B)   { runPool(b, WithLockedThreads()) }

// plain goroutine per task, the per-connection strategy
func BenchmarkSubmit_GoroutinePerTask(b *testing.B) {
	var wg sync.WaitGroup
	bufs := sync.Pool{New: func() any { return make([]byte, bufSize) }}

	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := bufs.Get().([]byte)
			touchBuffer(buf)
			bufs.Put(buf)
		}()
	}
	wg.Wait()
}

func runPool(b *testing.B, opts ...Option) {
	p, err := New(runtime.GOMAXPROCS(0), opts...)
	if err != nil {
		b.Fatal(err)
	}
	bufs := sync.Pool{New: func() any { return make([]byte, bufSize) }}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.Submit(func() {
			buf := bufs.Get().([]byte)
			touchBuffer(buf)
			bufs.Put(buf)
		}); err != nil {
			b.Fatal(err)
		}
	}
	p.Close()
	if err := p.Wait(context.Background()); err != nil {
		b.Fatal(err)
	}
}
