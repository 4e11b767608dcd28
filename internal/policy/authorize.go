package policy

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role is the privilege level of the calling operator.
type Role string

// Roles, in descending privilege order.
const (
	RoleMaster Role = "MASTER"
	RoleUser   Role = "USER"
	RoleReader Role = "READER"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMaster, RoleUser, RoleReader:
		return true
	}
	return false
}

// Decision is the outcome of a policy check. It is derived purely from
// (role, category); no I/O is performed.
type Decision struct {
	Allowed                bool   `json:"allowed"`
	RequiresPasswordReauth bool   `json:"requiresPasswordReauth"`
	Reason                 string `json:"reason,omitempty"`
}

// titleCaser renders category names in user-facing denial messages.
var titleCaser = cases.Title(language.English)

// Allow is the decision that permits an operation unconditionally.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denial decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize applies the role matrix to a classified batch. If any statement
// falls in a category denied for the role, the whole batch is denied and the
// reason names the offending category. If any statement is dangerous under
// the MASTER path, the decision requires password re-authentication.
func Authorize(role Role, statements []Statement) Decision {
	if !role.Valid() {
		return Deny(fmt.Sprintf("unknown role %q", role))
	}
	if len(statements) == 0 {
		return Deny("empty statement batch")
	}

	decision := Allow()
	for _, stmt := range statements {
		if stmt.Category == CategoryBlockedSystem {
			return Deny(fmt.Sprintf(
				"%s statements are blocked for all roles", titleCaser.String(string(stmt.Category))))
		}
		if !roleAllows(role, stmt.Category) {
			return Deny(fmt.Sprintf(
				"%s statements are not permitted for role %s", titleCaser.String(string(stmt.Category)), role))
		}
		if stmt.Category.IsDangerous() {
			decision.RequiresPasswordReauth = true
		}
	}
	return decision
}

// roleAllows implements the category/role matrix. Blocked-system is handled
// separately by the caller so denial messages can distinguish it.
func roleAllows(role Role, category Category) bool {
	switch category {
	case CategorySelect:
		return true
	case CategoryWrite, CategoryDDLSafe, CategoryTransactionControl:
		return role == RoleMaster || role == RoleUser
	case CategoryDMLDestructive, CategoryDDLDestructive, CategoryDMLUnboundedUpdate:
		return role == RoleMaster
	}
	return false
}
