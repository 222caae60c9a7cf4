// userstore.go — A minimal in-memory credential table standing in for
// the external schema/security metadata collaborator. lucentd never
// exposes user management over the wire; a persistent deployment would
// swap this seam for a store backed by the same durable metadata the
// storage collaborator uses.
package main

import (
	"fmt"
	"sync"

	"github.com/lucentgraph/lucent/internal/security"
)

type userStore struct {
	mu    sync.Mutex
	users map[string]map[string]*security.User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[string]map[string]*security.User)}
}

// lookup implements dispatcher.UserLookup: it authenticates username
// against dbName's credential table, lazily seeding a default admin
// user the first time dbName is seen.
func (s *userStore) lookup(dbName, username, password string) (*security.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.users[dbName]
	if !ok {
		byName = make(map[string]*security.User)
		s.users[dbName] = byName
	}

	user, ok := byName[username]
	if !ok {
		if username != security.DefaultAdminName {
			return nil, fmt.Errorf("user %q not found in database %q", username, dbName)
		}
		seeded, err := defaultAdmin()
		if err != nil {
			return nil, fmt.Errorf("seed default admin: %w", err)
		}
		byName[username] = seeded
		user = seeded
	}

	if err := security.Authenticate(user, password); err != nil {
		return nil, err
	}
	return user, nil
}

func defaultAdmin() (*security.User, error) {
	hash, err := security.HashPassword(security.DefaultAdminPassword)
	if err != nil {
		return nil, err
	}
	return &security.User{
		Name:         security.DefaultAdminName,
		PasswordHash: hash,
		Roles: []security.Role{{
			Name: "admin",
			Rules: []security.Rule{{
				Resource: security.ResourceAll,
				Operations: map[security.Operation]bool{
					security.OpRead:    true,
					security.OpCreate:  true,
					security.OpUpdate:  true,
					security.OpDelete:  true,
					security.OpExecute: true,
				},
			}},
		}},
	}, nil
}
