// pool.go — Per-URL bounded pool of authenticated client channels, with
// timed acquire, LIFO reuse, eviction on close, and shutdown-safe drain.
package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
type ErrPoolClosed struct{ URL string }

func (e *ErrPoolClosed) Error() string { return fmt.Sprintf("pool closed for %s", e.URL) }

// ErrAcquireTimeout is returned when Acquire's timeout elapses before a
// channel becomes free.
type ErrAcquireTimeout struct{ URL string }

func (e *ErrAcquireTimeout) Error() string { return fmt.Sprintf("acquire timed out for %s", e.URL) }

// Dialer opens a fresh authenticated connection to url, returning the
// net.Conn the Channel will frame.
type Dialer func(ctx context.Context, url string) (net.Conn, error)

// Config bounds a single URL's pool.
type Config struct {
	// MaxSize caps live channels for this URL. 0 means unbounded.
	MaxSize int
	// AcquireTimeout bounds how long Acquire blocks for a free slot
	// when the pool is at capacity. 0 means block until ctx is done.
	AcquireTimeout time.Duration
	// PositionWidth is the cluster-position byte width negotiated for
	// this server.
	PositionWidth int
}

// Pool manages the channels for a single server URL.
type Pool struct {
	url    string
	dial   Dialer
	cfg    Config

	mu      sync.Mutex
	free    []*Channel // LIFO: Acquire pops from the end, Release appends.
	created int
	closed  bool

	sem     chan struct{} // nil when unbounded
	closeCh chan struct{}
	closeOnce sync.Once
}

// newPool constructs a Pool for url with the given dialer and config.
func newPool(url string, dial Dialer, cfg Config) *Pool {
	p := &Pool{url: url, dial: dial, cfg: cfg}
	if cfg.MaxSize > 0 {
		p.free = make([]*Channel, 0, cfg.MaxSize)
		p.sem = make(chan struct{}, cfg.MaxSize)
		for range cfg.MaxSize {
			p.sem <- struct{}{}
		}
		p.closeCh = make(chan struct{})
	}
	return p
}

// Acquire returns a free Channel or dials a new one, blocking up to
// cfg.AcquireTimeout when the pool is bounded and at capacity.
func (p *Pool) Acquire(ctx context.Context) (*Channel, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("acquire %s: %w", p.url, err)
	}

	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if p.sem != nil {
		select {
		case <-p.sem:
		case <-p.closeCh:
			return nil, 0, &ErrPoolClosed{URL: p.url}
		case <-ctx.Done():
			return nil, 0, &ErrAcquireTimeout{URL: p.url}
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.returnSlot()
		return nil, 0, &ErrPoolClosed{URL: p.url}
	}
	if n := len(p.free); n > 0 {
		ch := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return ch, ch.markAcquired(), nil
	}
	p.mu.Unlock()

	netConn, err := p.dial(ctx, p.url)
	if err != nil {
		p.returnSlot()
		return nil, 0, fmt.Errorf("acquire %s: dial: %w", p.url, err)
	}
	ch := NewChannel(p.url, netConn, p.cfg.PositionWidth)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.returnSlot()
		_ = ch.Close()
		return nil, 0, &ErrPoolClosed{URL: p.url}
	}
	p.created++
	p.mu.Unlock()

	return ch, ch.markAcquired(), nil
}

// Release returns ch to the free stack, or discards it if ch reports
// itself disconnected or the pool has since closed. token must match
// the value returned by the Acquire that handed out ch; a stale or
// duplicate release is a no-op, since the channel already went back to
// the pool (or was removed) on the release that won the race.
func (p *Pool) Release(ch *Channel, token uint64) {
	if !ch.tryRelease(token) {
		return
	}

	if !ch.IsConnected() {
		p.discard(ch)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = ch.Close()
		p.returnSlot()
		return
	}
	p.free = append(p.free, ch)
	p.mu.Unlock()
	p.returnSlot()
}

// Remove takes ch out of circulation permanently: it is closed (if not
// already) and never returned to the free stack. Idempotent.
func (p *Pool) Remove(ch *Channel, token uint64) {
	if !ch.tryRelease(token) {
		// Already released or removed by another path; Close below is
		// itself idempotent, so this is still safe, just redundant.
	}
	p.discard(ch)
}

func (p *Pool) discard(ch *Channel) {
	_ = ch.Close()
	p.mu.Lock()
	if p.created > 0 {
		p.created--
	}
	p.mu.Unlock()
	p.returnSlot()
}

// returnSlot returns a semaphore token, unblocking a waiting Acquire.
// No-op when unbounded.
func (p *Pool) returnSlot() {
	if p.sem == nil {
		return
	}
	select {
	case p.sem <- struct{}{}:
	default:
		// Semaphore already full: expected after Close (no Acquire
		// drains it); otherwise indicates a release with no matching
		// acquire, which tryRelease's token check should have
		// already prevented.
	}
}

// Close marks the pool closed, closes every free channel, and unblocks
// any Acquire waiting on the semaphore. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, ch := range free {
		_ = ch.Close()
	}
	if p.closeCh != nil {
		p.closeOnce.Do(func() { close(p.closeCh) })
	}
}

// Stats reports introspection fields named in §4.2: maxResources,
// available (free channels), created (live channels ever dialed and
// not yet removed).
type Stats struct {
	MaxResources int
	Available    int
	Created      int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxResources: p.cfg.MaxSize,
		Available:    len(p.free),
		Created:      p.created,
	}
}
