// Package runtime is the async execution context a Session hands every
// connection: a shared clock, logger, metrics registry, and a
// per-origin keep-alive pool of open streams to try before dialing fresh.
// Pooling is keyed by origin rather than by a single upstream target, so
// one Session can hold live connections open to many distinct hosts at
// once.
package runtime

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dchest/uniuri"

	"github.com/idfumg/crequests/internal/logx"
	"github.com/idfumg/crequests/internal/metrics"
	"github.com/idfumg/crequests/internal/stream"
)

// Origin identifies a keep-alive pool bucket: scheme, host and port.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

// Runtime is safe for concurrent use by every connection a Session spawns.
type Runtime struct {
	Clock   clock.Clock
	Logger  *logx.Logger
	Metrics *metrics.Metrics

	mu   sync.Mutex
	pool map[Origin][]stream.Stream
}

// New returns a Runtime with a real clock and a discarding logger; a
// Session overrides fields it cares about before first use.
func New() *Runtime {
	return &Runtime{
		Clock:  clock.New(),
		Logger: logx.Discard(),
		pool:   make(map[Origin][]stream.Stream),
	}
}

// NewConnID mints a short correlation id for a connection's log lines.
func (rt *Runtime) NewConnID() string {
	return uniuri.NewLen(8)
}

// TakeIdle pops a pooled stream for origin, if one is available.
func (rt *Runtime) TakeIdle(o Origin) stream.Stream {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.pool[o]
	if len(bucket) == 0 {
		return nil
	}

	s := bucket[len(bucket)-1]
	rt.pool[o] = bucket[:len(bucket)-1]

	return s
}

// Park returns an open, keep-alive-eligible stream to the pool for reuse
// by a future request to the same origin.
func (rt *Runtime) Park(o Origin, s stream.Stream) {
	if s == nil || !s.IsOpen() {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.pool[o] = append(rt.pool[o], s)
}

// CloseAll closes every pooled stream, for Session.Close.
func (rt *Runtime) CloseAll() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for o, bucket := range rt.pool {
		for _, s := range bucket {
			_ = s.Close()
		}

		delete(rt.pool, o)
	}
}
