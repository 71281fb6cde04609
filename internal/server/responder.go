package server

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/astavonin/linegreet/internal/cache"
	"github.com/astavonin/linegreet/internal/logging"
)

// Greeting is the reply of the static responder.
const Greeting = "Hello from the Server"

// Responder computes the response line for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) string
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req Request) string

func (f ResponderFunc) Respond(ctx context.Context, req Request) string { return f(ctx, req) }

// Static replies with the same line to every request.
type Static string

func (s Static) Respond(context.Context, Request) string { return string(s) }

// Cached memoizes CachedGreeting by request text.
type Cached struct {
	cache *cache.Cache
	log   logrus.FieldLogger
}

// NewCached answers from c. A nil log discards the hit/miss lines.
func NewCached(c *cache.Cache, log logrus.FieldLogger) *Cached {
	if log == nil {
		log = logging.Discard()
	}
	return &Cached{cache: c, log: log}
}

func (r *Cached) Respond(_ context.Context, req Request) string {
	resp, hit := r.cache.GetOrCompute(req.Text, func(key string) string {
		return CachedGreeting(req.Local, key)
	})

	log := r.log.WithField("request", req.Text)
	if hit {
		log.Info("cache hit, returning cached response")
	} else {
		log.Info("processed new request and cached response")
	}
	return resp
}

// CachedGreeting is the response computed for request on the server bound
// to addr.
func CachedGreeting(addr net.Addr, request string) string {
	host := "unknown"
	if addr != nil {
		host = addr.String()
	}
	return fmt.Sprintf("Hello from server %s - response for: %s", host, request)
}
