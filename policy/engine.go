package policy

import (
	"errors"
	"fmt"
)

// Config assembles the policy table. Roles are flat; Includes compose
// grants explicitly. OwnerScoped lists resource types whose ownership
// field is mandatory to check. SeparationOfDuty lists configured
// conflicting action pairs.
type Config struct {
	Roles            []Role
	OwnerScoped      []string
	SeparationOfDuty []SoDPair
}

// Engine evaluates RBAC grants plus ABAC predicates into a single
// allow/deny decision. It holds no mutable state after construction and
// is safe for unbounded concurrent use.
type Engine struct {
	roles       map[string]Role
	ownerScoped map[string]bool
	sod         []SoDPair
}

// NewEngine validates the policy table and returns an [Engine].
// Include references must resolve and must not form cycles.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.Roles) == 0 {
		return nil, errors.New("at least one role is required")
	}

	roles := make(map[string]Role, len(cfg.Roles))
	for _, role := range cfg.Roles {
		if role.Name == "" {
			return nil, errors.New("role name is required")
		}
		if _, dup := roles[role.Name]; dup {
			return nil, fmt.Errorf("duplicate role %q", role.Name)
		}
		roles[role.Name] = role
	}

	for _, role := range cfg.Roles {
		if err := checkIncludes(roles, role.Name, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	ownerScoped := make(map[string]bool, len(cfg.OwnerScoped))
	for _, resourceType := range cfg.OwnerScoped {
		ownerScoped[resourceType] = true
	}

	for _, pair := range cfg.SeparationOfDuty {
		if pair.First == "" || pair.Second == "" {
			return nil, errors.New("separation-of-duties pair must name two actions")
		}
	}

	return &Engine{roles: roles, ownerScoped: ownerScoped, sod: cfg.SeparationOfDuty}, nil
}

func checkIncludes(roles map[string]Role, name string, trail map[string]bool) error {
	if trail[name] {
		return fmt.Errorf("role include cycle through %q", name)
	}
	trail[name] = true
	defer delete(trail, name)

	role, ok := roles[name]
	if !ok {
		return fmt.Errorf("included role %q does not exist", name)
	}
	for _, included := range role.Includes {
		if err := checkIncludes(roles, included, trail); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate produces the decision for one (principal, action, resource,
// env) tuple. The algorithm is fixed:
//
//  1. inactive principals are denied outright;
//  2. the role-derived grant set is consulted; absence is NoGrant and
//     ABAC is never reached (predicates restrict, they cannot add);
//  3. predicates of each granting role run in declaration order, first
//     failure wins and names the deny reason;
//  4. owner-scoped resource types require ownership or an explicit
//     on-behalf grant;
//  5. configured separation-of-duties pairs are checked last before allow.
//
// Identical inputs always produce the identical decision.
func (e *Engine) Evaluate(principal Principal, action string, resource Resource, env Env) Decision {
	if principal.Status != StatusActive {
		return deny(ReasonPrincipalInactive)
	}

	granting, onBehalf := e.grantingRoles(principal, action, resource.Type)
	if len(granting) == 0 {
		return deny(ReasonNoGrant)
	}

	for _, roleName := range granting {
		role := e.roles[roleName]
		for _, predicate := range role.Predicates {
			if !predicate.holds(principal, resource, env) {
				return deny(predicate.ID)
			}
		}
	}

	if e.ownerScoped[resource.Type] {
		if resource.OwnerID != principal.ID && !onBehalf {
			return deny(ReasonOwnership)
		}
	}

	for _, pair := range e.sod {
		if pair.Second != action {
			continue
		}
		if actor, ok := resource.Provenance[pair.First]; ok && actor == principal.ID {
			return deny(ReasonSeparationOfDuty)
		}
	}

	return allow(granting[0])
}

// grantingRoles returns the principal's roles (in assignment order) whose
// grant set covers (action, resourceType), and whether any covering grant
// carries on-behalf authority. Includes are resolved transitively; cycle
// freedom was established at construction.
func (e *Engine) grantingRoles(principal Principal, action, resourceType string) ([]string, bool) {
	var (
		granting []string
		onBehalf bool
	)

	for _, roleName := range principal.Roles {
		role, ok := e.roles[roleName]
		if !ok {
			continue
		}
		covered, behalf := e.roleCovers(role, action, resourceType, map[string]bool{roleName: true})
		if covered {
			granting = append(granting, roleName)
			onBehalf = onBehalf || behalf
		}
	}

	return granting, onBehalf
}

func (e *Engine) roleCovers(role Role, action, resourceType string, seen map[string]bool) (bool, bool) {
	var covered, onBehalf bool

	for _, grant := range role.Grants {
		if grant.Action == action && grant.ResourceType == resourceType {
			covered = true
			onBehalf = onBehalf || grant.OnBehalf
		}
	}

	for _, included := range role.Includes {
		if seen[included] {
			continue
		}
		seen[included] = true
		inner, ok := e.roles[included]
		if !ok {
			continue
		}
		innerCovered, innerBehalf := e.roleCovers(inner, action, resourceType, seen)
		covered = covered || innerCovered
		onBehalf = onBehalf || innerBehalf
	}

	return covered, onBehalf
}

// Roles returns the configured role names. Introspection only.
func (e *Engine) Roles() []string {
	names := make([]string, 0, len(e.roles))
	for name := range e.roles {
		names = append(names, name)
	}
	return names
}
