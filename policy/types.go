package policy

import (
	"net/netip"
	"time"
)

// Status is a principal's account status. Locked principals are denied
// before any grant evaluation.
type Status uint8

const (
	StatusActive Status = iota
	StatusLocked
)

// Principal is the server-held identity view used for evaluation. It is
// always built from the session snapshot, never from client claims.
type Principal struct {
	ID         string
	Roles      []string
	Attributes map[string]string
	Status     Status
}

// Resource is the target of a requested action. Provenance records which
// principal previously performed a given action on this resource (e.g.
// Provenance["create"] is the creator) and feeds separation-of-duties
// checks. OwnerID is the explicit ownership field for owner-scoped types.
type Resource struct {
	ID         string
	Type       string
	OwnerID    string
	Provenance map[string]string
	Attributes map[string]string
}

// Env is the contextual input to an evaluation, captured once at
// evaluation start so a decision is deterministic over its inputs.
type Env struct {
	Now    time.Time
	Origin netip.Addr
}

// Grant permits an action on a resource type. OnBehalf marks the grant as
// an explicit act-on-behalf-of authority: it is the only thing that can
// satisfy the ownership requirement for a non-owner.
type Grant struct {
	Action       string
	ResourceType string
	OnBehalf     bool
}

// SoDPair is a configured separation-of-duties conflict: a principal who
// performed First on a resource may not perform Second on it.
type SoDPair struct {
	First  string
	Second string
}

// Role is a named set of grants with attribute predicates evaluated in
// declaration order. Includes composes another role's grants explicitly;
// there is no implicit multi-level inheritance.
type Role struct {
	Name       string
	Grants     []Grant
	Predicates []Predicate
	Includes   []string
}

// Stable deny reason codes. ABAC denials surface only the predicate
// category, never the attribute values that produced them.
const (
	ReasonNoGrant           = "no_grant"
	ReasonOwnership         = "ownership"
	ReasonSeparationOfDuty  = "separation_of_duty"
	ReasonPrincipalInactive = "principal_inactive"

	ReasonTimeWindow        = "time_window"
	ReasonNetworkOrigin     = "network_origin"
	ReasonApprovalThreshold = "approval_threshold"
)

// Decision is the outcome of one evaluation. Rule names the role whose
// grant allowed the action; Reason carries the stable deny code.
type Decision struct {
	Allow  bool
	Reason string
	Rule   string
}

func allow(rule string) Decision {
	return Decision{Allow: true, Rule: rule}
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}
