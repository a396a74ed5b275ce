// Package middleware exposes HTTP adapters for accessgate.Engine
// authorization: a request guard and hardened session cookie helpers.
//
// [Guard] reads the bearer credential, resolves the request into an
// action and resource via the caller's [RequestResolver], and delegates
// to Engine.Authorize. The decision is injected into the request
// context for downstream handlers.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authorization logic itself.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Leak deny reasons to clients; response bodies stay generic.
package middleware
