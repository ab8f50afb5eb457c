// Package tenant enforces the multi-tenant isolation boundary. A Scope is the
// only way repositories build WHERE clauses, and the organization condition is
// appended by the scope itself, last and authoritatively, so a caller-supplied
// condition can never widen a query across organizations.
package tenant

import (
	"fmt"
	"strings"

	"github.com/proplio/be-fm-engine/internal/errors"
)

// Scope carries the organization boundary for a chain of data operations.
type Scope struct {
	orgID   string
	global  bool
	actorID string
}

// NewScope builds the standard, organization-bound scope. An empty
// organization id is rejected so an unscoped query cannot be constructed by
// accident.
func NewScope(organizationID string) (Scope, error) {
	if organizationID == "" {
		return Scope{}, errors.InvalidInput("organization_id", "organization id is required")
	}
	return Scope{orgID: organizationID}, nil
}

// MustScope is NewScope for wiring paths where the organization id has already
// been validated. Panics on empty input.
func MustScope(organizationID string) Scope {
	s, err := NewScope(organizationID)
	if err != nil {
		panic(err)
	}
	return s
}

// Global builds the audited superuser scope that bypasses the organization
// filter. It is never the default: callers must name the acting superuser,
// and every repository that honors a global scope logs its use.
func Global(actorID string) Scope {
	return Scope{global: true, actorID: actorID}
}

// OrganizationID returns the bound organization, or "" for a global scope.
func (s Scope) OrganizationID() string { return s.orgID }

// IsGlobal reports whether this is the superuser escape hatch.
func (s Scope) IsGlobal() bool { return s.global }

// ActorID returns the superuser behind a global scope.
func (s Scope) ActorID() string { return s.actorID }

// Owns verifies a loaded resource belongs to this scope's organization. A
// mismatch is reported as not-found so cross-tenant existence never leaks.
func (s Scope) Owns(resource, id, resourceOrgID string) error {
	if s.global {
		return nil
	}
	if resourceOrgID != s.orgID {
		return errors.NotFound(resource, id)
	}
	return nil
}

// SameOrg verifies two resources being linked share one organization.
func SameOrg(aResource, aOrgID, bResource, bOrgID string) error {
	if aOrgID == "" || bOrgID == "" || aOrgID != bOrgID {
		return errors.CrossTenantReference(
			fmt.Sprintf("%s and %s belong to different organizations", aResource, bResource))
	}
	return nil
}

// Filter accumulates WHERE conditions under this scope.
func (s Scope) Filter() *Filter {
	return &Filter{scope: s}
}

// Filter builds a scoped WHERE clause. Conditions use ? placeholders which
// Build rewrites to positional pgx placeholders.
type Filter struct {
	scope Scope
	conds []string
	args  []any
}

// Where appends one condition. The condition may contain multiple ?
// placeholders matched by args in order.
func (f *Filter) Where(cond string, args ...any) *Filter {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, args...)
	return f
}

// Build renders the clause with placeholders numbered from startIndex. The
// organization condition on orgColumn is appended after all caller conditions
// so it cannot be shadowed; global scopes omit it.
func (f *Filter) Build(startIndex int, orgColumn string) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(f.args)+1)
	n := startIndex

	for i, cond := range f.conds {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		for _, ch := range cond {
			if ch == '?' {
				fmt.Fprintf(&sb, "$%d", n)
				n++
			} else {
				sb.WriteRune(ch)
			}
		}
	}
	args = append(args, f.args...)

	if !f.scope.global {
		if len(f.conds) > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", orgColumn, n)
		args = append(args, f.scope.orgID)
	} else if len(f.conds) == 0 {
		sb.WriteString("TRUE")
	}

	return sb.String(), args
}
