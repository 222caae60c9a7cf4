package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleUser(rules ...Rule) *User {
	return &User{Name: "tester", Roles: []Role{{Name: "r", Rules: rules}}}
}

func TestCheckSecurity_GenericAllows(t *testing.T) {
	t.Parallel()
	u := ruleUser(Rule{Resource: ResourceAll, Operations: map[Operation]bool{OpRead: true}})
	assert.NoError(t, CheckSecurity(u, "database.cluster", OpRead, "9"))
}

func TestCheckSecurity_SpecificOverridesGeneric(t *testing.T) {
	t.Parallel()
	u := ruleUser(
		Rule{Resource: ResourceAll, Operations: map[Operation]bool{OpRead: true}},
		Rule{Resource: "database.cluster.9", Operations: map[Operation]bool{OpRead: false}},
	)
	err := CheckSecurity(u, "database.cluster", OpRead, "9")
	require.Error(t, err)
	var denied *AccessDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestCheckSecurity_LastMatchingSpecificWins(t *testing.T) {
	t.Parallel()
	// Two specifics given; rules for both match but disagree. Per the
	// resolved open question, the later-evaluated specific's verdict is
	// authoritative for the whole check.
	u := ruleUser(
		Rule{Resource: "database.cluster.9", Operations: map[Operation]bool{OpRead: true}},
		Rule{Resource: "database.cluster.10", Operations: map[Operation]bool{OpRead: false}},
	)
	err := CheckSecurity(u, "database.cluster", OpRead, "9", "10")
	assert.Error(t, err)
}

func TestCheckSecurity_NoMatchDenies(t *testing.T) {
	t.Parallel()
	u := ruleUser()
	assert.Error(t, CheckSecurity(u, "database.cluster", OpRead, "9"))
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	u := &User{Name: "tester", PasswordHash: hash}

	assert.NoError(t, Authenticate(u, "s3cret"))
	assert.Error(t, Authenticate(u, "wrong"))
}

func TestRepairAdminOnEmptyRoles(t *testing.T) {
	t.Parallel()
	u := &User{Name: "ghost"}
	require.False(t, u.HasRoles())

	require.NoError(t, RepairAdminOnEmptyRoles(u))
	assert.True(t, u.HasRoles())
	assert.Equal(t, DefaultAdminName, u.Name)
	assert.NoError(t, Authenticate(u, DefaultAdminPassword))
}
