// Package session provides Redis-backed session persistence: creation,
// absolute and idle expiry, revocation tombstones, and atomic rotation.
//
// # Rotation protocol
//
// A session's refresh hash is swapped by a Lua compare-and-swap that
// deletes the predecessor, writes its tombstone, and installs the
// successor in one script. The predecessor is unusable no later than the
// moment the successor becomes usable, so no interleaving of concurrent
// calls can observe both as simultaneously valid.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations), the [Session] model,
// and [RevocationEntry] tombstones. It does NOT interpret tokens,
// evaluate policy, or verify credentials; those belong to the Engine
// and its peers.
//
// # What this package must NOT do
//
//   - Import accessgate, token, or policy (no upward imports).
//   - Store refresh secrets; only their hashes.
//   - Trust anything a client supplied for role or attribute data.
package session
