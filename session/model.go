package session

import "time"

// Session is the server-side source of truth for an authenticated
// principal. Roles and attributes are snapshotted at creation time;
// client-supplied claims are never consulted once a session exists.
type Session struct {
	SessionID   string            `json:"-"`
	PrincipalID string            `json:"pid"`
	Roles       []string          `json:"roles"`
	Attributes  map[string]string `json:"attrs,omitempty"`

	// RefreshHash is the SHA-256 of the current refresh secret. The
	// secret itself only ever exists inside the refresh token held by
	// the client.
	RefreshHash []byte `json:"rh"`

	CreatedAt  int64 `json:"cat"`
	ExpiresAt  int64 `json:"exp"`
	LastSeenAt int64 `json:"lsa"`
}

// ExpiredAt reports whether the session fails its absolute or idle expiry
// predicate at the given instant. idleTTL <= 0 disables the idle check.
func (s *Session) ExpiredAt(now time.Time, idleTTL time.Duration) bool {
	if now.Unix() >= s.ExpiresAt {
		return true
	}
	if idleTTL > 0 && now.Unix() >= s.LastSeenAt+int64(idleTTL/time.Second) {
		return true
	}
	return false
}

// RevocationEntry records why a session identifier stopped being valid.
// Entries persist until the session's natural absolute expiry and are then
// garbage-collected by Redis TTL.
type RevocationEntry struct {
	SessionID string `json:"-"`
	Reason    string `json:"reason"`
	RevokedAt int64  `json:"at"`
}
