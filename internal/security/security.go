// security.go — User roles, permission rules, and checkSecurity
// evaluation. Schema/security metadata storage itself is an external
// collaborator (§1); this package only evaluates rules already loaded
// into a User.
package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Operation is a permission kind checked against a resource.
type Operation int

const (
	OpRead Operation = iota
	OpCreate
	OpUpdate
	OpDelete
	OpExecute
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpExecute:
		return "EXECUTE"
	default:
		return "UNKNOWN"
	}
}

// ResourceAll is the generic rule scope a specific resource rule takes
// priority over.
const ResourceAll = "*"

// Rule grants or denies a set of Operations on a named resource. A rule
// whose Resource is ResourceAll is generic; any other value is specific.
type Rule struct {
	Resource   string
	Operations map[Operation]bool
}

// Allows reports whether the rule grants op.
func (r Rule) Allows(op Operation) bool {
	return r.Operations[op]
}

// Role is a named set of rules.
type Role struct {
	Name  string
	Rules []Rule
}

// User is an authenticated principal with zero or more roles.
type User struct {
	Name         string
	PasswordHash []byte
	Roles        []Role
}

// HasRoles reports whether the user has any role at all. On open(), a
// user with no roles is passed to any repair listeners supplied (see
// RepairAdminOnEmptyRoles).
func (u *User) HasRoles() bool {
	return len(u.Roles) > 0
}

// AccessDeniedError reports a failed checkSecurity evaluation.
type AccessDeniedError struct {
	User     string
	Resource string
	Op       Operation
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %q denied %s on resource %q", e.User, e.Op, e.Resource)
}

// CheckSecurity evaluates u's rule set for op against resource, with
// optional resource-specifics (e.g. a cluster name qualifying a
// database-wide resource kind). Per §9's resolved open question: when
// multiple specifics are supplied, each is checked in order and the
// LAST matching specific rule's verdict wins outright — it does not
// merely short-circuit a "found" flag while leaving an earlier denial
// in place. A generic (ResourceAll) rule is only consulted when no
// specific, generic-or-not, matched at all.
func CheckSecurity(u *User, resourceKind string, op Operation, specifics ...string) error {
	var matched bool
	var allowed bool

	for _, role := range u.Roles {
		for _, rule := range role.Rules {
			if rule.Resource == ResourceAll {
				continue
			}
			for _, specific := range specifics {
				full := resourceKind + "." + specific
				if rule.Resource == full {
					matched = true
					allowed = rule.Allows(op)
				}
			}
		}
	}

	if !matched {
		for _, role := range u.Roles {
			for _, rule := range role.Rules {
				if rule.Resource == ResourceAll || rule.Resource == resourceKind {
					matched = true
					allowed = rule.Allows(op)
				}
			}
		}
	}

	if !matched || !allowed {
		return &AccessDeniedError{User: u.Name, Resource: resourceKind, Op: op}
	}
	return nil
}

// Authenticate verifies password against the stored bcrypt hash.
func Authenticate(u *User, password string) error {
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return &AccessDeniedError{User: u.Name, Resource: "database", Op: OpExecute}
	}
	return nil
}

// HashPassword produces the bcrypt hash stored on User.PasswordHash.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// DefaultAdminName and DefaultAdminPassword are the credentials the
// repair path (see RepairAdminOnEmptyRoles) reinstalls when a user is found with no
// roles at all on open().
const (
	DefaultAdminName     = "admin"
	DefaultAdminPassword = "admin"
)

// RepairListener is notified when open() finds a roleless user, mirroring
// the registered-listener repair hook in §4.4. Per the resolved open
// question in DESIGN.md, this repair path is treated as a recovery-only
// affordance: it must be explicitly enabled by the caller (see
// RepairAdminOnEmptyRoles) rather than firing unconditionally.
type RepairListener func(user *User) error

// RepairAdminOnEmptyRoles reinstalls the default admin user with the
// default password when user has no roles. It is the reference
// RepairListener; callers that want the historical implicit-repair
// behaviour register it explicitly on their Database instance.
func RepairAdminOnEmptyRoles(user *User) error {
	if user.HasRoles() {
		return nil
	}
	hash, err := HashPassword(DefaultAdminPassword)
	if err != nil {
		return fmt.Errorf("repair admin user: %w", err)
	}
	user.Name = DefaultAdminName
	user.PasswordHash = hash
	user.Roles = []Role{{
		Name: "admin",
		Rules: []Rule{{
			Resource: ResourceAll,
			Operations: map[Operation]bool{
				OpRead: true, OpCreate: true, OpUpdate: true, OpDelete: true, OpExecute: true,
			},
		}},
	}}
	return nil
}
