package accessgate

import (
	"context"
	"errors"
	"time"

	"github.com/arcveil/accessgate/internal/ids"
	"github.com/arcveil/accessgate/policy"
	"github.com/arcveil/accessgate/session"
	"github.com/arcveil/accessgate/token"
)

// Gate-level deny reasons, surfaced before the policy table is ever
// consulted. Policy reasons live in the policy package; together these
// form the complete stable deny vocabulary.
const (
	ReasonInvalidToken          = "invalid_token"
	ReasonTokenExpired          = "token_expired"
	ReasonSessionInvalid        = "session_invalid"
	ReasonDependencyUnavailable = "dependency_unavailable"
)

// Authorize evaluates one access request: token, then session, then
// policy, failing closed at every step. It always returns a usable
// decision; any hard failure along the path becomes a deny with a stable
// category code. Exactly one decision record reaches the audit sink per
// call, whether or not the policy table was consulted.
func (e *Engine) Authorize(ctx context.Context, rawToken, action string, resource policy.Resource) policy.Decision {
	if e == nil || e.codec == nil {
		return policy.Decision{Allow: false, Reason: ReasonDependencyUnavailable}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The evaluation environment is captured once so the decision is a
	// pure function of its inputs from here on.
	env := policy.Env{
		Now:    time.Now(),
		Origin: originFromContext(ctx),
	}

	principalID, sessionID, decision := e.evaluate(ctx, rawToken, action, resource, env)

	record := DecisionRecord{
		ID:           ids.New(),
		Timestamp:    env.Now,
		PrincipalID:  principalID,
		SessionID:    sessionID,
		Action:       action,
		ResourceID:   resource.ID,
		ResourceType: resource.Type,
		Allow:        decision.Allow,
		Reason:       decision.Reason,
		Rule:         decision.Rule,
		IP:           clientIPFromContext(ctx),
	}
	e.audit.Emit(ctx, record)

	if decision.Allow {
		e.metricInc(MetricAuthorizeAllow)
	} else {
		e.metricInc(MetricAuthorizeDeny)
		if decision.Reason == ReasonDependencyUnavailable {
			e.metricInc(MetricAuthorizeDepFailure)
		}
	}
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(env.Now))
	}

	return decision
}

func (e *Engine) evaluate(ctx context.Context, rawToken, action string, resource policy.Resource, env policy.Env) (principalID, sessionID string, d policy.Decision) {
	claims, err := e.codec.Verify(rawToken)
	if err != nil {
		return "", "", policy.Decision{Allow: false, Reason: tokenDenyReason(err)}
	}
	principalID = claims.PrincipalID
	sessionID = claims.SessionID

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	sess, err := e.sessionStore.Get(sctx, claims.SessionID)
	if err != nil {
		return principalID, sessionID, policy.Decision{Allow: false, Reason: sessionDenyReason(err)}
	}

	// A token naming a session it was never issued for is forged or
	// crossed with another principal's session line.
	if sess.PrincipalID != claims.PrincipalID {
		return principalID, sessionID, policy.Decision{Allow: false, Reason: ReasonInvalidToken}
	}

	principal := policy.Principal{
		ID:         sess.PrincipalID,
		Roles:      sess.Roles,
		Attributes: sess.Attributes,
		Status:     policy.StatusActive,
	}

	return principalID, sessionID, e.policyEngine.Evaluate(principal, action, resource, env)
}

func tokenDenyReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ReasonTokenExpired
	case errors.Is(err, token.ErrKeyUnavailable):
		// An unreachable key provider is an outage on our side, not a
		// defect in the presented token.
		return ReasonDependencyUnavailable
	default:
		// Unknown keys, bad signatures, disallowed algorithms, and
		// malformed input all collapse into one code so callers cannot
		// learn which part of validation failed.
		return ReasonInvalidToken
	}
}

func sessionDenyReason(err error) string {
	switch {
	case errors.Is(err, session.ErrUnavailable):
		return ReasonDependencyUnavailable
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrRevoked):
		return ReasonSessionInvalid
	default:
		return ReasonSessionInvalid
	}
}
