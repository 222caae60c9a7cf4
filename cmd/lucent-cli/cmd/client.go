// client.go — The DB_OPEN/DB_CLOSE handshake every subcommand wraps its
// one operation in, borrowing a channel from a package-level registry
// the way a long-lived driver would, even though this process only
// ever borrows one.
package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucentgraph/lucent/internal/dispatcher"
	"github.com/lucentgraph/lucent/internal/metrics"
	"github.com/lucentgraph/lucent/internal/pool"
	"github.com/lucentgraph/lucent/internal/wire"
)

// registry's pool gauges are not served anywhere in this one-shot
// process; they exist so the instrumented path is exercised the same
// way a long-lived driver embedding this package would run it.
var registry = pool.NewInstrumentedRegistry(dialTCP, metrics.New(prometheus.NewRegistry()))

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// dbSession is one open-to-close conversation with lucentd: the pooled
// channel it runs over plus the session id and negotiated protocol
// version DB_OPEN returned.
type dbSession struct {
	ch    *pool.Channel
	token uint64

	ID              int32
	ProtocolVersion int
}

// openDBSession dials addr, authenticates against db as user, and
// returns a session ready for record operations. Callers must call
// close when finished to send DB_CLOSE and return the channel to the
// pool.
func openDBSession(ctx context.Context, addr, db, user, password string, protocolVersion int) (*dbSession, error) {
	ch, token, err := registry.Acquire(ctx, addr, pool.Config{
		MaxSize:        maxConnsPerAddr,
		AcquireTimeout: acquireTimeout,
		PositionWidth:  wire.DefaultPositionWidth,
	})
	if err != nil {
		if pool.IsDialError(err) {
			return nil, fmt.Errorf("lucentd unreachable at %s: %w", addr, err)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn := ch.Conn
	conn.AcquireWriteLock()
	writeErr := func() error {
		if err := conn.WriteByte(byte(dispatcher.OpDBOpen)); err != nil {
			return err
		}
		if err := conn.WriteInt(0); err != nil { // no session yet
			return err
		}
		if err := conn.WriteString("lucent-cli"); err != nil {
			return err
		}
		if err := conn.WriteString(version); err != nil {
			return err
		}
		if err := conn.WriteShort(int16(protocolVersion)); err != nil {
			return err
		}
		if err := conn.WriteString(uuid.NewString()); err != nil { // client id
			return err
		}
		if protocolVersion > dispatcher.MinProtoSerializerName {
			if err := conn.WriteString("binary"); err != nil {
				return err
			}
		}
		if err := conn.WriteString(db); err != nil {
			return err
		}
		if protocolVersion >= dispatcher.MinProtoDBType {
			if err := conn.WriteString("document"); err != nil {
				return err
			}
		}
		if err := conn.WriteString(user); err != nil {
			return err
		}
		return conn.WriteString(password)
	}()
	if writeErr == nil {
		writeErr = conn.Flush()
	}
	conn.ReleaseWriteLock()
	if writeErr != nil {
		registry.Remove(ch, token)
		return nil, fmt.Errorf("db open: %w", writeErr)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		registry.Remove(ch, token)
		return nil, fmt.Errorf("db open: read response: %w", err)
	}
	if status == wire.StatusError {
		registry.Remove(ch, token)
		return nil, readServerError(conn, protocolVersion, "db open")
	}

	sessionID, err := conn.ReadInt()
	if err != nil {
		registry.Remove(ch, token)
		return nil, fmt.Errorf("db open: read session id: %w", err)
	}
	if protocolVersion >= dispatcher.MinProtoServerVersionString {
		if _, err := conn.ReadString(); err != nil { // server version string
			registry.Remove(ch, token)
			return nil, fmt.Errorf("db open: read server version: %w", err)
		}
	}

	return &dbSession{ch: ch, token: token, ID: sessionID, ProtocolVersion: protocolVersion}, nil
}

// close sends DB_CLOSE and returns the channel to the registry. Errors
// sending DB_CLOSE are reported but the channel is released either way,
// since the session is considered gone from the client's perspective
// regardless of whether the server agreed.
func (s *dbSession) close() error {
	defer registry.Release(s.ch, s.token)

	conn := s.ch.Conn
	conn.AcquireWriteLock()
	err := func() error {
		if err := conn.WriteByte(byte(dispatcher.OpDBClose)); err != nil {
			return err
		}
		if err := conn.WriteInt(s.ID); err != nil {
			return err
		}
		return conn.Flush()
	}()
	conn.ReleaseWriteLock()
	if err != nil {
		return fmt.Errorf("db close: %w", err)
	}

	status, _, err := conn.ReadResponseHeader()
	if err != nil {
		return fmt.Errorf("db close: read response: %w", err)
	}
	if status == wire.StatusError {
		return readServerError(conn, s.ProtocolVersion, "db close")
	}
	return nil
}

// readServerError consumes the error chain a StatusError response
// carries and turns it into a single Go error, prefixed with op so the
// caller knows which request failed.
func readServerError(conn *wire.Conn, protocolVersion int, op string) error {
	chain, _, err := conn.ReadErrorChain(protocolVersion)
	if err != nil {
		return fmt.Errorf("%s: read error chain: %w", op, err)
	}
	if len(chain) == 0 {
		return fmt.Errorf("%s: server returned an error with no detail", op)
	}
	return fmt.Errorf("%s: %s: %s", op, chain[0].ClassName, chain[0].Message)
}
