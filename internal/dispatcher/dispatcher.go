// dispatcher.go — Protocol dispatcher: routes a request opcode to a
// handler, orchestrates response framing, and converts handler errors
// to wire error frames.
package dispatcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucentgraph/lucent/internal/database"
	"github.com/lucentgraph/lucent/internal/metrics"
	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/session"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/wire"
)

// StorageFactory opens the storage collaborator for a given database
// name, as the schema/on-disk-engine collaborator would. lucentd wires
// this to storage.NewMemStore in the absence of a persistent backend.
type StorageFactory func(dbName string) (storage.Storage, error)

// UserLookup resolves credentials into a security.User for DB_OPEN's
// authenticate step. The schema/security metadata store is an external
// collaborator (§1); this is the seam it plugs into.
type UserLookup func(dbName, username, password string) (*security.User, error)

// BodyWriter writes an opcode's success-path response body. It runs
// while the channel's write lock is held, after the dispatcher has
// already written the OK status and session id.
type BodyWriter func(conn *wire.Conn) error

// HandlerFunc reads a request's body from conn (on the connection's
// single reader goroutine, no write lock needed) and returns a
// BodyWriter to run once the dispatcher has claimed the write lock. A
// non-nil error causes the dispatcher to emit an error frame instead of
// calling the returned BodyWriter (which may be nil in that case).
type HandlerFunc func(d *Dispatcher, conn *wire.Conn, sess *session.Session, protocolVersion int) (BodyWriter, error)

// Dispatcher owns the session registry, the set of open databases, and
// the opcode → handler routing table.
type Dispatcher struct {
	Sessions *session.Registry
	Metrics  *metrics.Registry
	Log      zerolog.Logger

	OpenStorage StorageFactory
	LookupUser  UserLookup
	CacheSize   int
	MVCC        bool

	// RepairOnEmptyRoles opts into security.RepairAdminOnEmptyRoles for
	// every database this dispatcher opens. Off by default: a roleless
	// user is a configuration error the operator should see, not one
	// lucentd silently papers over.
	RepairOnEmptyRoles bool

	// CommandTimeoutMax is the upper bound every opcode's command
	// timeout is clamped to, sourced from config.Config.CommandTimeoutMax.
	// Zero disables clamping; each opcode's category budget still applies.
	CommandTimeoutMax time.Duration

	handlers map[Opcode]HandlerFunc

	mu        sync.RWMutex
	databases map[string]*database.Database
}

// New returns a Dispatcher with the built-in handler table registered.
func New(log zerolog.Logger, m *metrics.Registry, openStorage StorageFactory, lookupUser UserLookup, cacheSize int, mvcc bool) *Dispatcher {
	d := &Dispatcher{
		Sessions:    session.NewRegistry(),
		Metrics:     m,
		Log:         log,
		OpenStorage: openStorage,
		LookupUser:  lookupUser,
		CacheSize:   cacheSize,
		MVCC:        mvcc,
		handlers:    make(map[Opcode]HandlerFunc),
		databases:   make(map[string]*database.Database),
	}
	registerBuiltinHandlers(d)
	return d
}

// RegisterDatabase makes db reachable by name for subsequent requests
// bound to it, called after a successful DB_OPEN/DB_CREATE.
func (d *Dispatcher) RegisterDatabase(name string, db *database.Database) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.databases[name] = db
}

// Database looks up an open database by name.
func (d *Dispatcher) Database(name string) (*database.Database, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, ok := d.databases[name]
	return db, ok
}

// UnregisterDatabase drops a database from the routing table. No
// built-in handler calls it: DB_CLOSE leaves the database registered.
func (d *Dispatcher) UnregisterDatabase(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.databases, name)
}

// register adds a handler for opcode. Called only from
// registerBuiltinHandlers at construction time.
func (d *Dispatcher) register(opcode Opcode, h HandlerFunc) {
	d.handlers[opcode] = h
}

// errCloseConnection is a sentinel the dispatcher's caller (the
// connection accept loop) checks for to know the connection must be
// dropped after this request, per §3's "unknown session id must fail
// unless it is CLOSE/SHUTDOWN" and §7's transport error handling.
type errCloseConnection struct{ cause error }

func (e *errCloseConnection) Error() string { return e.cause.Error() }
func (e *errCloseConnection) Unwrap() error { return e.cause }

// HandleOne reads and services exactly one request frame from conn.
// protocolVersion is the wire protocol version the caller serves this
// connection with; it is supplied by the caller and is not taken from
// the CONNECT handshake. Returns a non-nil error wrapped
// in *errCloseConnection when the connection must be dropped.
func (d *Dispatcher) HandleOne(conn *wire.Conn, protocolVersion int) error {
	start := time.Now()
	opcodeByte, err := conn.ReadByte()
	if err != nil {
		return &errCloseConnection{cause: fmt.Errorf("read opcode: %w", err)}
	}
	opcode := Opcode(opcodeByte)
	opcodeLabel := opcodeName(opcode)
	if d.Metrics != nil {
		defer func() {
			d.Metrics.RequestsTotal.WithLabelValues(opcodeLabel).Inc()
			d.Metrics.RequestDuration.WithLabelValues(opcodeLabel).Observe(time.Since(start).Seconds())
		}()
	}

	sessionID, err := conn.ReadInt()
	if err != nil {
		return &errCloseConnection{cause: fmt.Errorf("read session id: %w", err)}
	}

	var sess *session.Session
	if sessionID != 0 {
		sess, err = d.Sessions.Lookup(sessionID)
		if err != nil {
			d.writeError(conn, sessionID, protocolVersion, err)
			if opcode == OpDBClose || opcode == OpShutdown {
				return nil
			}
			d.countError(opcodeLabel, err)
			return &errCloseConnection{cause: err}
		}
		sess.RecordCommand(time.Now())
	}
	defer d.clearBoundCache(sess)

	handler, known := d.handlers[opcode]
	if !known {
		d.writeErrorFrame(conn, sessionID, protocolVersion, []wire.FrameError{{
			ClassName: NotSupportedClassName,
			Message:   fmt.Sprintf("opcode %d not supported", opcode),
		}})
		d.countError(opcodeLabel, fmt.Errorf("opcode %d not supported", opcode))
		return nil
	}

	write, handlerErr := d.runHandlerWithTimeout(handler, conn, sess, protocolVersion, opcode)
	if handlerErr != nil {
		d.writeError(conn, sessionID, protocolVersion, handlerErr)
		d.countError(opcodeLabel, handlerErr)
		return nil
	}

	conn.AcquireWriteLock()
	defer conn.ReleaseWriteLock()
	if err := conn.WriteResponseHeader(wire.StatusOK, sessionID); err != nil {
		return &errCloseConnection{cause: err}
	}
	if write != nil {
		if err := write(conn); err != nil {
			return &errCloseConnection{cause: err}
		}
	}
	if err := conn.Flush(); err != nil {
		return &errCloseConnection{cause: err}
	}

	if opcode == OpDBOpen || opcode == OpConnect {
		if d.Metrics != nil {
			d.Metrics.SessionsOpen.Set(float64(d.Sessions.Count()))
		}
	} else if (opcode == OpDBClose || opcode == OpShutdown) && d.Metrics != nil {
		d.Metrics.SessionsOpen.Set(float64(d.Sessions.Count()))
	}
	return nil
}

// clearBoundCache clears the local record cache of the database bound
// to sess, so cached record images don't outlive the request that
// populated them. A session with no bound database (CONNECT, or a
// session already closed by this request) is a no-op.
func (d *Dispatcher) clearBoundCache(sess *session.Session) {
	if sess == nil {
		return
	}
	name := sess.BoundDatabase()
	if name == "" {
		return
	}
	if db, ok := d.Database(name); ok {
		db.Cache.Clear()
	}
}

// runHandlerWithTimeout runs handler and, if it overran its clamped
// command timeout, discards a successful result in favor of a timeout
// error. Handlers here run synchronously against an in-process storage
// collaborator rather than across a network, so this enforces the
// budget as a post-hoc policy check rather than true preemption: a
// handler that is itself stuck (a wedged external Storage
// implementation) is not interrupted by this alone.
func (d *Dispatcher) runHandlerWithTimeout(handler HandlerFunc, conn *wire.Conn, sess *session.Session, protocolVersion int, opcode Opcode) (BodyWriter, error) {
	budget := commandTimeout(opcode, d.CommandTimeoutMax)
	start := time.Now()
	write, err := handler(d, conn, sess, protocolVersion)
	if err != nil {
		return write, err
	}
	if budget > 0 && time.Since(start) > budget {
		return nil, &commandTimeoutError{opcode: opcode, timeout: budget}
	}
	return write, nil
}

// countError increments RequestErrors, classifying err by its dynamic
// type name since handler errors are plain wrapped errors rather than a
// closed set of sentinel values.
func (d *Dispatcher) countError(opcodeLabel string, err error) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.RequestErrors.WithLabelValues(opcodeLabel, errorClass(err)).Inc()
}

func (d *Dispatcher) writeError(conn *wire.Conn, sessionID int32, protocolVersion int, err error) {
	d.writeErrorFrame(conn, sessionID, protocolVersion, frameFor(err))
}

func (d *Dispatcher) writeErrorFrame(conn *wire.Conn, sessionID int32, protocolVersion int, chain []wire.FrameError) {
	conn.AcquireWriteLock()
	defer conn.ReleaseWriteLock()
	if err := conn.WriteResponseHeader(wire.StatusError, sessionID); err != nil {
		d.Log.Warn().Err(err).Msg("write error response header failed")
		return
	}
	if err := conn.WriteErrorChain(chain, protocolVersion, nil); err != nil {
		d.Log.Warn().Err(err).Msg("write error chain failed")
		return
	}
	if err := conn.Flush(); err != nil {
		d.Log.Warn().Err(err).Msg("flush error response failed")
	}
}
