// Package promptcache tracks which prompt prefix is resident in each
// engine's KV state, so repeated conversations skip prefill for the shared
// prefix.
package promptcache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Cache holds one entry per engine. An engine has a single KV state, so the
// entry remembers the model and the prompt tokens of the last generation.
// Access to an entry is exclusive for the whole generation; concurrent
// requests against the same engine queue up on its lease.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	lease  chan struct{}
	model  string
	tokens []int
}

func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Lease is exclusive access to one engine's cache entry. It must be released
// when the generation finishes.
type Lease struct {
	engine string
	e      *entry
	held   bool
}

// Acquire takes the exclusive lease for an engine, waiting until the current
// holder releases it or the context ends.
func (c *Cache) Acquire(ctx context.Context, engine string) (*Lease, error) {
	c.mu.Lock()
	e, ok := c.entries[engine]
	if !ok {
		e = &entry{lease: make(chan struct{}, 1)}
		c.entries[engine] = e
	}
	c.mu.Unlock()

	select {
	case e.lease <- struct{}{}:
		return &Lease{engine: engine, e: e, held: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reuse reports how many leading prompt tokens are already resident for this
// model. A model switch or a divergent prompt invalidates the stale part of
// the entry before the new generation starts.
func (l *Lease) Reuse(model string, promptTokens []int) int {
	e := l.e
	if e.model != model {
		if e.model != "" {
			logrus.WithFields(logrus.Fields{
				"engine": l.engine, "from": e.model, "to": model,
			}).Debug("Model switch evicts prompt cache")
		}
		e.model = model
		e.tokens = nil
		return 0
	}

	n := commonPrefixLen(e.tokens, promptTokens)
	// Drop what diverged; the engine will overwrite that part of its state.
	e.tokens = e.tokens[:n]
	return n
}

// Commit records the prompt that is now resident in the engine.
func (l *Lease) Commit(model string, promptTokens []int) {
	l.e.model = model
	l.e.tokens = promptTokens
}

// Invalidate empties the entry, for generations that ended in an error and
// left the engine state unknown.
func (l *Lease) Invalidate() {
	l.e.model = ""
	l.e.tokens = nil
}

// Release returns the lease. Safe to call once.
func (l *Lease) Release() {
	if !l.held {
		return
	}
	l.held = false
	<-l.e.lease
}

func commonPrefixLen(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
