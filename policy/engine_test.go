package policy

import (
	"net/netip"
	"testing"
	"time"
)

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func paymentPolicy(t *testing.T) *Engine {
	t.Helper()

	officeNet, err := NetworkOrigin("10.0.0.0/8")
	if err != nil {
		t.Fatalf("NetworkOrigin failed: %v", err)
	}

	return mustEngine(t, Config{
		Roles: []Role{
			{
				Name: "viewer",
				Grants: []Grant{
					{Action: "read", ResourceType: "payment"},
				},
			},
			{
				Name:     "clerk",
				Includes: []string{"viewer"},
				Grants: []Grant{
					{Action: "create", ResourceType: "payment"},
				},
			},
			{
				Name:     "approver",
				Includes: []string{"viewer"},
				Grants: []Grant{
					{Action: "approve", ResourceType: "payment"},
				},
				Predicates: []Predicate{
					TimeWindow(8*60, 18*60),
					officeNet,
					Threshold("maxApproval", "amount"),
				},
			},
			{
				Name: "support",
				Grants: []Grant{
					{Action: "read", ResourceType: "profile", OnBehalf: true},
				},
			},
			{
				Name: "profile-owner",
				Grants: []Grant{
					{Action: "read", ResourceType: "profile"},
					{Action: "update", ResourceType: "profile"},
				},
			},
		},
		OwnerScoped: []string{"profile"},
		SeparationOfDuty: []SoDPair{
			{First: "create", Second: "approve"},
		},
	})
}

func workdayEnv(origin string) Env {
	env := Env{
		// A Wednesday, 10:00 UTC.
		Now: time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC),
	}
	if origin != "" {
		env.Origin = netip.MustParseAddr(origin)
	}
	return env
}

func TestEvaluateNoGrant(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{ID: "u1", Roles: []string{"viewer"}, Status: StatusActive}
	d := e.Evaluate(p, "approve", Resource{ID: "pay1", Type: "payment"}, workdayEnv("10.1.2.3"))
	if d.Allow {
		t.Fatal("expected deny")
	}
	if d.Reason != ReasonNoGrant {
		t.Fatalf("expected no_grant, got %q", d.Reason)
	}
}

func TestEvaluateAllowNamesGrantingRole(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{ID: "u1", Roles: []string{"clerk"}, Status: StatusActive}
	d := e.Evaluate(p, "create", Resource{ID: "pay1", Type: "payment"}, workdayEnv("10.1.2.3"))
	if !d.Allow {
		t.Fatalf("expected allow, got %+v", d)
	}
	if d.Rule != "clerk" {
		t.Fatalf("expected granting role clerk, got %q", d.Rule)
	}
}

func TestEvaluateIncludesComposeGrants(t *testing.T) {
	e := paymentPolicy(t)

	// clerk includes viewer, so read is covered through composition.
	p := Principal{ID: "u1", Roles: []string{"clerk"}, Status: StatusActive}
	d := e.Evaluate(p, "read", Resource{ID: "pay1", Type: "payment"}, workdayEnv("10.1.2.3"))
	if !d.Allow {
		t.Fatalf("expected allow through included role, got %+v", d)
	}
}

func TestEvaluateThresholdDeny(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{
		ID:         "approver1",
		Roles:      []string{"approver"},
		Attributes: map[string]string{"maxApproval": "10000"},
		Status:     StatusActive,
	}
	res := Resource{
		ID:         "pay1",
		Type:       "payment",
		Attributes: map[string]string{"amount": "15000"},
	}

	d := e.Evaluate(p, "approve", res, workdayEnv("10.1.2.3"))
	if d.Allow {
		t.Fatal("expected deny for amount above cap")
	}
	if d.Reason != ReasonApprovalThreshold {
		t.Fatalf("expected approval_threshold, got %q", d.Reason)
	}

	res.Attributes["amount"] = "9000"
	d = e.Evaluate(p, "approve", res, workdayEnv("10.1.2.3"))
	if !d.Allow {
		t.Fatalf("expected allow under cap, got %+v", d)
	}
}

func TestEvaluateThresholdMissingAttributesDeny(t *testing.T) {
	e := paymentPolicy(t)

	// No maxApproval attribute on the principal: the cap is unknowable,
	// so the predicate fails.
	p := Principal{ID: "a1", Roles: []string{"approver"}, Status: StatusActive}
	res := Resource{ID: "pay1", Type: "payment", Attributes: map[string]string{"amount": "1"}}
	if d := e.Evaluate(p, "approve", res, workdayEnv("10.1.2.3")); d.Allow {
		t.Fatal("expected deny with missing limit attribute")
	}

	// Malformed amount likewise.
	p.Attributes = map[string]string{"maxApproval": "10000"}
	res.Attributes["amount"] = "lots"
	if d := e.Evaluate(p, "approve", res, workdayEnv("10.1.2.3")); d.Allow {
		t.Fatal("expected deny with malformed value attribute")
	}
}

func TestEvaluateFirstFailingPredicateWins(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{
		ID:         "a1",
		Roles:      []string{"approver"},
		Attributes: map[string]string{"maxApproval": "10"},
		Status:     StatusActive,
	}
	res := Resource{ID: "pay1", Type: "payment", Attributes: map[string]string{"amount": "100"}}

	// Outside the window, off-network, and over the cap: declaration
	// order says the time window is reported.
	env := Env{Now: time.Date(2026, time.March, 4, 3, 0, 0, 0, time.UTC)}
	d := e.Evaluate(p, "approve", res, env)
	if d.Allow || d.Reason != ReasonTimeWindow {
		t.Fatalf("expected time_window, got %+v", d)
	}

	// Inside the window the network check is next.
	env = workdayEnv("")
	d = e.Evaluate(p, "approve", res, env)
	if d.Allow || d.Reason != ReasonNetworkOrigin {
		t.Fatalf("expected network_origin, got %+v", d)
	}
}

func TestEvaluateNetworkOriginAbsentDenies(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{
		ID:         "a1",
		Roles:      []string{"approver"},
		Attributes: map[string]string{"maxApproval": "10000"},
		Status:     StatusActive,
	}
	res := Resource{ID: "pay1", Type: "payment", Attributes: map[string]string{"amount": "10"}}

	d := e.Evaluate(p, "approve", res, workdayEnv(""))
	if d.Allow || d.Reason != ReasonNetworkOrigin {
		t.Fatalf("expected network_origin with unknown origin, got %+v", d)
	}

	d = e.Evaluate(p, "approve", res, workdayEnv("192.168.1.1"))
	if d.Allow || d.Reason != ReasonNetworkOrigin {
		t.Fatalf("expected network_origin off-network, got %+v", d)
	}
}

func TestEvaluateOwnershipDominates(t *testing.T) {
	e := paymentPolicy(t)

	owner := Principal{ID: "u1", Roles: []string{"profile-owner"}, Status: StatusActive}
	stranger := Principal{ID: "u2", Roles: []string{"profile-owner"}, Status: StatusActive}
	res := Resource{ID: "prof1", Type: "profile", OwnerID: "u1"}

	if d := e.Evaluate(owner, "update", res, workdayEnv("10.1.2.3")); !d.Allow {
		t.Fatalf("expected owner allowed, got %+v", d)
	}

	// Same grant set, not the owner: ownership dominates RBAC.
	d := e.Evaluate(stranger, "update", res, workdayEnv("10.1.2.3"))
	if d.Allow || d.Reason != ReasonOwnership {
		t.Fatalf("expected ownership deny, got %+v", d)
	}
}

func TestEvaluateOnBehalfBypassesOwnership(t *testing.T) {
	e := paymentPolicy(t)

	agent := Principal{ID: "support1", Roles: []string{"support"}, Status: StatusActive}
	res := Resource{ID: "prof1", Type: "profile", OwnerID: "u1"}

	if d := e.Evaluate(agent, "read", res, workdayEnv("10.1.2.3")); !d.Allow {
		t.Fatalf("expected on-behalf read allowed, got %+v", d)
	}

	// On-behalf covers only what the grant names; update stays denied.
	d := e.Evaluate(agent, "update", res, workdayEnv("10.1.2.3"))
	if d.Allow || d.Reason != ReasonNoGrant {
		t.Fatalf("expected no_grant for update, got %+v", d)
	}
}

func TestEvaluateSeparationOfDuty(t *testing.T) {
	e := paymentPolicy(t)

	creator := Principal{
		ID:         "u1",
		Roles:      []string{"clerk", "approver"},
		Attributes: map[string]string{"maxApproval": "100000"},
		Status:     StatusActive,
	}
	other := Principal{
		ID:         "u2",
		Roles:      []string{"approver"},
		Attributes: map[string]string{"maxApproval": "100000"},
		Status:     StatusActive,
	}
	res := Resource{
		ID:         "pay1",
		Type:       "payment",
		Provenance: map[string]string{"create": "u1"},
		Attributes: map[string]string{"amount": "500"},
	}

	d := e.Evaluate(creator, "approve", res, workdayEnv("10.1.2.3"))
	if d.Allow || d.Reason != ReasonSeparationOfDuty {
		t.Fatalf("expected separation_of_duty, got %+v", d)
	}

	if d := e.Evaluate(other, "approve", res, workdayEnv("10.1.2.3")); !d.Allow {
		t.Fatalf("expected a different approver to be allowed, got %+v", d)
	}
}

func TestEvaluateInactivePrincipal(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{ID: "u1", Roles: []string{"clerk"}, Status: StatusLocked}
	d := e.Evaluate(p, "create", Resource{ID: "pay1", Type: "payment"}, workdayEnv("10.1.2.3"))
	if d.Allow || d.Reason != ReasonPrincipalInactive {
		t.Fatalf("expected principal_inactive, got %+v", d)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := paymentPolicy(t)

	p := Principal{
		ID:         "a1",
		Roles:      []string{"approver"},
		Attributes: map[string]string{"maxApproval": "10000"},
		Status:     StatusActive,
	}
	res := Resource{ID: "pay1", Type: "payment", Attributes: map[string]string{"amount": "15000"}}
	env := workdayEnv("10.1.2.3")

	first := e.Evaluate(p, "approve", res, env)
	for i := 0; i < 50; i++ {
		if got := e.Evaluate(p, "approve", res, env); got != first {
			t.Fatalf("decision changed on repeat: %+v != %+v", got, first)
		}
	}
}

func TestTimeWindowCrossingMidnight(t *testing.T) {
	p := TimeWindow(22*60, 2*60)

	at := func(hour int) Env {
		return Env{Now: time.Date(2026, time.March, 4, hour, 30, 0, 0, time.UTC)}
	}
	if !p.holds(Principal{}, Resource{}, at(23)) {
		t.Fatal("expected 23:30 inside the window")
	}
	if !p.holds(Principal{}, Resource{}, at(1)) {
		t.Fatal("expected 01:30 inside the window")
	}
	if p.holds(Principal{}, Resource{}, at(12)) {
		t.Fatal("expected 12:30 outside the window")
	}
}

func TestNewEngineRejectsBadIncludes(t *testing.T) {
	_, err := NewEngine(Config{
		Roles: []Role{
			{Name: "a", Includes: []string{"b"}},
			{Name: "b", Includes: []string{"a"}},
		},
	})
	if err == nil {
		t.Fatal("expected include cycle to be rejected")
	}

	_, err = NewEngine(Config{
		Roles: []Role{
			{Name: "a", Includes: []string{"missing"}},
		},
	})
	if err == nil {
		t.Fatal("expected dangling include to be rejected")
	}
}
