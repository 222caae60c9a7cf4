package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucentgraph/lucent/internal/security"
)

func TestUserStore_SeedsDefaultAdminOnFirstLookup(t *testing.T) {
	t.Parallel()
	s := newUserStore()

	user, err := s.lookup("widgets", security.DefaultAdminName, security.DefaultAdminPassword)
	require.NoError(t, err)
	assert.Equal(t, security.DefaultAdminName, user.Name)
	assert.True(t, user.HasRoles())
}

func TestUserStore_RejectsWrongPassword(t *testing.T) {
	t.Parallel()
	s := newUserStore()

	_, err := s.lookup("widgets", security.DefaultAdminName, security.DefaultAdminPassword)
	require.NoError(t, err)

	_, err = s.lookup("widgets", security.DefaultAdminName, "wrong")
	assert.Error(t, err)
}

func TestUserStore_RejectsUnknownUser(t *testing.T) {
	t.Parallel()
	s := newUserStore()

	_, err := s.lookup("widgets", "nobody", "anything")
	assert.Error(t, err)
}

func TestUserStore_IsolatesDatabasesByName(t *testing.T) {
	t.Parallel()
	s := newUserStore()

	_, err := s.lookup("widgets", security.DefaultAdminName, security.DefaultAdminPassword)
	require.NoError(t, err)
	_, err = s.lookup("gadgets", security.DefaultAdminName, security.DefaultAdminPassword)
	require.NoError(t, err)
}
