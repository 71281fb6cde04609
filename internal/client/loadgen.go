package client

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/astavonin/linegreet/internal/cache"
)

// Result summarises one LoadGen run.
type Result struct {
	// Sent counts requests that went over the network and got a reply.
	Sent int64
	// Hits counts messages answered from the client-side memo.
	Hits   int64
	Failed int64
}

// LoadGen fires many single-line requests with bounded concurrency.
type LoadGen struct {
	client      *Client
	concurrency int64
	memo        *cache.Cache
	log         logrus.FieldLogger
}

// NewLoadGen keeps at most concurrency requests in flight. With memo, a
// message already answered during the LoadGen's lifetime is not sent again.
func NewLoadGen(c *Client, concurrency int, memo bool) *LoadGen {
	g := &LoadGen{
		client:      c,
		concurrency: int64(max(concurrency, 1)),
		log:         c.log,
	}
	if memo {
		g.memo = cache.New()
	}
	return g
}

// Run sends every message and waits for all replies. Individual request
// failures are logged and counted; the error is non-nil only when ctx ends
// before every message was dispatched.
func (g *LoadGen) Run(ctx context.Context, messages []string) (Result, error) {
	var (
		sent, hits, failed atomic.Int64
		eg                 errgroup.Group
		err                error
	)
	sem := semaphore.NewWeighted(g.concurrency)

	for _, msg := range messages {
		msg := msg
		if err = ctx.Err(); err != nil {
			break
		}
		if err = sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)

			if g.memo != nil {
				if resp, ok := g.memo.Get(msg); ok {
					hits.Add(1)
					g.log.WithFields(logrus.Fields{"request": msg, "response": resp}).Info("cache hit, retrieved from client cache")
					return nil
				}
			}

			resp, rerr := g.client.Request(ctx, msg)
			if rerr != nil {
				failed.Add(1)
				g.log.WithError(rerr).WithField("request", msg).Error("error communicating with the server")
				return nil
			}
			sent.Add(1)
			if g.memo != nil {
				g.memo.GetOrCompute(msg, func(string) string { return resp })
			}
			return nil
		})
	}
	eg.Wait()

	return Result{Sent: sent.Load(), Hits: hits.Load(), Failed: failed.Load()}, err
}
