// channel.go — A pooled client channel: one authenticated connection to
// a server URL, wrapping the wire framing primitives plus connection
// health and close-notification used by the pool.
package pool

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/lucentgraph/lucent/internal/wire"
)

// CloseListener is notified exactly once, when Close is first called on
// a Channel. The pool registers itself as every channel's listener so
// it can evict the channel without the caller having to remember to
// call Remove. A Channel does not detect a peer hang-up by itself: a
// connection the remote side closed stays connected until Close is
// called on it.
type CloseListener func(c *Channel)

// Channel is one pooled connection. It stores its owning pool only as
// a callback (onClose), not a direct reference, so closing a channel
// never needs to reach back into pool internals and channel and pool
// cannot keep each other alive past their useful lifetime.
type Channel struct {
	URL  string
	Conn *wire.Conn

	netConn net.Conn

	mu        sync.Mutex
	connected bool
	onClose   CloseListener

	// generation is bumped on every successful Acquire and compared by
	// Release/Remove against the token the caller was handed, so a
	// stale release (from a channel that was already re-acquired after
	// a caller held onto it past its borrow) is rejected rather than
	// silently corrupting pool state.
	generation atomic.Uint64

	// released is a two-layer idempotent-release guard: this CAS
	// catches the common case of the same caller releasing twice
	// without an intervening Acquire, cheaply and without touching the
	// generation counter; the generation check in tryRelease catches
	// the rarer cross-goroutine race where the channel was re-acquired
	// between two competing Release calls.
	released atomic.Bool
}

// NewChannel wraps netConn for framed I/O. posWidth is the cluster
// position width negotiated for this server.
func NewChannel(url string, netConn net.Conn, posWidth int) *Channel {
	return &Channel{
		URL:       url,
		Conn:      wire.NewConn(netConn, posWidth),
		netConn:   netConn,
		connected: true,
	}
}

// IsConnected reports whether the channel believes its connection is
// still usable. The pool discards a channel that reports false on
// release rather than returning it to the free stack.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// setOnClose registers the pool's eviction callback. Internal to the
// pool package: callers acquire channels already wired.
func (c *Channel) setOnClose(l CloseListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = l
}

// markAcquired bumps the generation, clears the released guard, and
// returns the token the caller must present to Release/Remove.
func (c *Channel) markAcquired() uint64 {
	c.released.Store(false)
	return c.generation.Add(1)
}

// tryRelease validates token against the current generation and
// enforces the released guard is flipped exactly once per Acquire.
// Returns false if the token is stale or this borrow was already
// released.
func (c *Channel) tryRelease(token uint64) bool {
	if c.generation.Load() != token {
		return false
	}
	return c.released.CompareAndSwap(false, true)
}

// Close closes the underlying connection and notifies the registered
// CloseListener exactly once, regardless of how many times Close is
// called.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	listener := c.onClose
	c.mu.Unlock()

	err := c.netConn.Close()
	if listener != nil {
		listener(c)
	}
	return err
}
