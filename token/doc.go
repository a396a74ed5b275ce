// Package token signs and verifies access tokens over a versioned key
// ring with a fixed algorithm allow-list (HS256, EdDSA, ES256).
//
// # Architecture boundaries
//
// The codec is a pure function over key material resolved through a
// [KeyProvider]. It never reads or writes session state and never emits
// authorization-relevant claims: a verified token proves possession and
// binds to a session ID, nothing more.
//
// # What this package must NOT do
//
//   - Accept a token whose header declares an algorithm outside the
//     allow-list, including "none".
//   - Embed roles, attributes, or other policy inputs in claims.
//   - Surface key material in errors or logs.
package token
