package policy

import (
	"fmt"
	"net/netip"
	"strconv"
)

// PredicateKind tags a predicate variant. The set is closed: predicates
// are data, not code, so the policy language stays auditable and cannot
// be extended into arbitrary evaluation at runtime.
type PredicateKind uint8

const (
	// KindTimeWindow restricts an action to a daily wall-clock window.
	KindTimeWindow PredicateKind = iota
	// KindNetworkOrigin restricts an action to configured CIDR ranges.
	KindNetworkOrigin
	// KindOwnership requires the resource's owner to be the requester.
	KindOwnership
	// KindThreshold caps a numeric resource attribute by a numeric
	// principal attribute.
	KindThreshold
)

// Predicate is one tagged ABAC restriction attached to a role. ID is the
// category code surfaced as the deny reason; it intentionally names the
// predicate kind, not the values it compared.
type Predicate struct {
	ID   string
	Kind PredicateKind

	// KindTimeWindow: minutes since midnight UTC, half-open [From, To).
	FromMinute int
	ToMinute   int

	// KindNetworkOrigin.
	Networks []netip.Prefix

	// KindThreshold: principal attribute naming the cap and resource
	// attribute naming the value.
	LimitAttribute string
	ValueAttribute string
}

// TimeWindow builds a daily wall-clock window predicate. Minutes are
// UTC minutes since midnight; the window is half-open.
func TimeWindow(fromMinute, toMinute int) Predicate {
	return Predicate{
		ID:         ReasonTimeWindow,
		Kind:       KindTimeWindow,
		FromMinute: fromMinute,
		ToMinute:   toMinute,
	}
}

// NetworkOrigin builds an origin predicate from CIDR strings.
func NetworkOrigin(cidrs ...string) (Predicate, error) {
	networks := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return Predicate{}, fmt.Errorf("invalid network origin %q: %w", cidr, err)
		}
		networks = append(networks, prefix)
	}
	return Predicate{ID: ReasonNetworkOrigin, Kind: KindNetworkOrigin, Networks: networks}, nil
}

// Ownership builds a predicate that binds the action to the resource owner.
func Ownership() Predicate {
	return Predicate{ID: ReasonOwnership, Kind: KindOwnership}
}

// Threshold builds a numeric cap predicate: the resource attribute named
// valueAttr must not exceed the principal attribute named limitAttr.
func Threshold(limitAttr, valueAttr string) Predicate {
	return Predicate{
		ID:             ReasonApprovalThreshold,
		Kind:           KindThreshold,
		LimitAttribute: limitAttr,
		ValueAttribute: valueAttr,
	}
}

// holds reports whether the predicate passes for the given inputs.
// Missing or malformed attribute values fail the predicate: ABAC only
// ever restricts, so uncertainty resolves to deny.
func (p Predicate) holds(principal Principal, resource Resource, env Env) bool {
	switch p.Kind {
	case KindTimeWindow:
		minute := env.Now.UTC().Hour()*60 + env.Now.UTC().Minute()
		if p.FromMinute <= p.ToMinute {
			return minute >= p.FromMinute && minute < p.ToMinute
		}
		// window crossing midnight
		return minute >= p.FromMinute || minute < p.ToMinute

	case KindNetworkOrigin:
		if !env.Origin.IsValid() {
			return false
		}
		for _, prefix := range p.Networks {
			if prefix.Contains(env.Origin) {
				return true
			}
		}
		return false

	case KindOwnership:
		return resource.OwnerID != "" && resource.OwnerID == principal.ID

	case KindThreshold:
		limit, ok := parseAmount(principal.Attributes[p.LimitAttribute])
		if !ok {
			return false
		}
		value, ok := parseAmount(resource.Attributes[p.ValueAttribute])
		if !ok {
			return false
		}
		return value <= limit

	default:
		return false
	}
}

func parseAmount(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
