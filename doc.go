// Package accessgate provides an authorization and session-integrity
// core: signed access tokens over a key-version indirection, rotating
// opaque refresh tokens, Redis-backed session revocation, and a combined
// RBAC/ABAC policy engine producing auditable decisions.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// accessgate is the public surface. It exposes [Engine], [Builder],
// [Config], the [PrincipalProvider] contract, and the decision audit
// types. Token signing lives in token/, session persistence in
// session/, the policy table in policy/, credential hashing in
// password/. Anything the host application should not touch sits under
// internal/.
//
// # What this package must NOT do
//
//   - Reach an allow on any dependency failure. An unreachable session
//     store or key provider is always a deny.
//   - Surface attribute values or rule internals in deny reasons; only
//     stable category codes leave the engine.
//   - Store or log plaintext credentials or refresh secrets. Secrets
//     exist in memory during the call that carries them and persist only
//     as hashes.
//
// # Decision contract
//
// Authorize is the hot path. Every call emits exactly one decision
// record to the configured sink, including denies produced before the
// policy table was consulted. Record emission is asynchronous and
// never blocks authorization.
package accessgate
