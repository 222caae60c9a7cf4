// session.go — Per-connection session state and the session registry.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the per-connection record described in the data model:
// negotiated protocol version, credentials, last-bound database, and
// counters. Created on CONNECT/DB_OPEN; destroyed on DB_CLOSE.
type Session struct {
	ID              int32
	ClientID        string
	ProtocolVersion int
	SerializerName  string
	Username        string

	mu             sync.Mutex
	boundDatabase  string
	lastCommandAt  time.Time
	commandCount   int64
}

// BindDatabase records the database this session is currently operating
// against. Empty string means unbound.
func (s *Session) BindDatabase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundDatabase = name
}

// BoundDatabase returns the currently bound database name, or "".
func (s *Session) BoundDatabase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundDatabase
}

// RecordCommand bumps the last-command stats, called once per dispatched
// request regardless of outcome.
func (s *Session) RecordCommand(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommandAt = at
	s.commandCount++
}

// Stats returns the last-command timestamp and total command count.
func (s *Session) Stats() (time.Time, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommandAt, s.commandCount
}

// Registry tracks live sessions by id, safe for concurrent use from the
// dispatcher's per-connection goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int32]*Session
	nextID   int32
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int32]*Session)}
}

// Open creates and registers a new Session for a CONNECT or DB_OPEN
// request, assigning it a fresh session id.
func (r *Registry) Open(protocolVersion int, serializerName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &Session{
		ID:              r.nextID,
		ClientID:        uuid.NewString(),
		ProtocolVersion: protocolVersion,
		SerializerName:  serializerName,
	}
	r.sessions[s.ID] = s
	return s
}

// UnknownSessionError is returned by Lookup when a request carries a
// session id the registry has never issued, or has since closed.
type UnknownSessionError struct {
	SessionID int32
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown session %d", e.SessionID)
}

// Lookup resolves a session id to its Session, rebinding the request to
// it. Returns UnknownSessionError if the id is not live.
func (r *Registry) Lookup(id int32) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &UnknownSessionError{SessionID: id}
	}
	return s, nil
}

// Close removes a session from the registry, as happens on DB_CLOSE.
func (r *Registry) Close(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of live sessions, useful for diagnostics and
// tests.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
