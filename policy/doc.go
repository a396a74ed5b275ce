// Package policy evaluates role-based grants combined with a closed set
// of attribute predicates into deterministic allow/deny decisions.
//
// # Evaluation model
//
// RBAC is the gate: an action absent from the principal's role-derived
// grant set is denied before any predicate runs. ABAC predicates only
// restrict: time windows, network origin, ownership, and numeric
// thresholds run in declaration order with the first failure winning.
// Ownership on owner-scoped resource types and configured
// separation-of-duties pairs are checked after predicates and before any
// allow is returned.
//
// # What this package must NOT do
//
//   - Evaluate open-ended expressions or user-supplied predicate code.
//   - Read clocks or sockets; all context arrives captured in [Env].
//   - Surface compared attribute values in deny reasons.
package policy
