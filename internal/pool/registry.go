// registry.go — The top-level client connection pool: a url → Pool
// mapping with race-safe lazy creation and the public acquire/release/
// remove/close surface named in §4.2.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lucentgraph/lucent/internal/metrics"
)

// Registry is the client-side connection pool. It is safe for
// concurrent use from arbitrary goroutines, as §5 requires.
type Registry struct {
	dial    Dialer
	metrics *metrics.Registry

	mu    sync.Mutex
	pools map[string]*Pool

	// group deduplicates concurrent first-time pool creation for the
	// same URL: only one goroutine actually constructs the Pool, the
	// rest wait on and share its result. The loser of a race never
	// allocates a spare Pool to close, since singleflight.Do only runs
	// the function once per in-flight key.
	group singleflight.Group
}

// NewRegistry returns an empty pool registry using dial to open fresh
// connections.
func NewRegistry(dial Dialer) *Registry {
	return &Registry{dial: dial, pools: make(map[string]*Pool)}
}

// NewInstrumentedRegistry is NewRegistry with pool gauges and the
// acquire-wait histogram reported to m. A long-lived client process
// (as opposed to a one-shot CLI invocation) wants this so its pool
// behavior shows up on the same metrics endpoint as the server's.
func NewInstrumentedRegistry(dial Dialer, m *metrics.Registry) *Registry {
	return &Registry{dial: dial, pools: make(map[string]*Pool), metrics: m}
}

// poolFor returns the Pool for url, creating it under the singleflight
// group if this is the first caller for that URL.
func (r *Registry) poolFor(url string, cfg Config) (*Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[url]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(url, func() (any, error) {
		r.mu.Lock()
		if p, ok := r.pools[url]; ok {
			r.mu.Unlock()
			return p, nil
		}
		r.mu.Unlock()

		p := newPool(url, r.dial, cfg)

		r.mu.Lock()
		r.pools[url] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

// Acquire returns an authenticated Channel for url, creating the
// per-URL pool on first use. On any creation or retrieval error the
// per-URL entry is removed so the next caller reconstructs it from
// scratch, per §4.2.
func (r *Registry) Acquire(ctx context.Context, url string, cfg Config) (*Channel, uint64, error) {
	p, err := r.poolFor(url, cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire %s: %w", url, err)
	}

	start := time.Now()
	ch, token, err := p.Acquire(ctx)
	if r.metrics != nil {
		r.metrics.PoolAcquireWait.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.mu.Lock()
		if r.pools[url] == p {
			delete(r.pools, url)
		}
		r.mu.Unlock()
		return nil, 0, err
	}

	ch.setOnClose(func(closed *Channel) {
		p.discard(closed)
		r.reportLive(url, p)
	})
	r.reportLive(url, p)
	return ch, token, nil
}

// reportLive publishes p's created-minus-available count as the live
// channel gauge for url.
func (r *Registry) reportLive(url string, p *Pool) {
	if r.metrics == nil {
		return
	}
	stats := p.Stats()
	r.metrics.PoolChannelsLive.WithLabelValues(url).Set(float64(stats.Created - stats.Available))
}

// Release returns ch to its pool.
func (r *Registry) Release(ch *Channel, token uint64) {
	r.mu.Lock()
	p, ok := r.pools[ch.URL]
	r.mu.Unlock()
	if !ok {
		// The pool for this URL no longer exists (e.g. the registry
		// was reset or the pool errored out from under this channel).
		// There is nothing to release into; close defensively.
		_ = ch.Close()
		return
	}
	p.Release(ch, token)
	r.reportLive(ch.URL, p)
}

// Remove evicts ch from its pool permanently. Fails if the channel's
// pool no longer exists in the registry, per §4.2.
func (r *Registry) Remove(ch *Channel, token uint64) error {
	r.mu.Lock()
	p, ok := r.pools[ch.URL]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove: no pool registered for %s", ch.URL)
	}
	p.Remove(ch, token)
	return nil
}

// Close shuts down every pool the registry has created. Safe to call
// once; subsequent calls are no-ops since Pool.Close is itself
// idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}

// Stats returns introspection for url's pool, or the zero value if no
// pool has been created for it yet.
func (r *Registry) Stats(url string) Stats {
	r.mu.Lock()
	p, ok := r.pools[url]
	r.mu.Unlock()
	if !ok {
		return Stats{}
	}
	return p.Stats()
}
