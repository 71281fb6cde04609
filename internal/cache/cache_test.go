package cache

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCompute(t *testing.T) {
	c := New()
	calls := 0
	compute := func(key string) string {
		calls++
		return "reply for " + key
	}

	v, hit := c.GetOrCompute("ping", compute)
	assert.Equal(t, "reply for ping", v)
	assert.False(t, hit)

	v, hit = c.GetOrCompute("ping", compute)
	assert.Equal(t, "reply for ping", v)
	assert.True(t, hit)

	assert.Equal(t, 1, calls, "a hit must not recompute")
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("pong")
	assert.False(t, ok)
}

func TestEmptyKey(t *testing.T) {
	c := New()

	v, hit := c.GetOrCompute("", func(string) string { return "empty" })
	assert.Equal(t, "empty", v)
	assert.False(t, hit)

	v, ok := c.Get("")
	assert.True(t, ok)
	assert.Equal(t, "empty", v)
}

func TestConcurrentSameKeyAgree(t *testing.T) {
	c := New()
	const workers = 64

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		values = make([]string, workers)
	)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			values[i], _ = c.GetOrCompute("k", func(string) string {
				return strconv.Itoa(i)
			})
		}()
	}
	close(start)
	wg.Wait()

	for _, v := range values {
		assert.Equal(t, values[0], v)
	}
	stored, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, values[0], stored)
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentDistinctKeys(t *testing.T) {
	c := New()
	const keys = 200

	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := strconv.Itoa(i)
			v, _ := c.GetOrCompute(key, func(k string) string { return "v" + k })
			assert.Equal(t, "v"+key, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, keys, c.Len())
}

func TestCoalescing(t *testing.T) {
	c := New(WithCoalescing())

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	type result struct {
		value string
		hit   bool
	}

	first := make(chan result, 1)
	go func() {
		v, hit := c.GetOrCompute("slow", func(string) string {
			calls.Add(1)
			close(started)
			<-release
			return "computed once"
		})
		first <- result{v, hit}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		v, hit := c.GetOrCompute("slow", func(string) string {
			calls.Add(1)
			return "computed twice"
		})
		second <- result{v, hit}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	// only the caller that ran compute reports a miss
	assert.Equal(t, result{"computed once", false}, <-first)
	assert.Equal(t, result{"computed once", true}, <-second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Len())
}
