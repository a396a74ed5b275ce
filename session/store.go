package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record exists for a session ID.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session fails its absolute or idle
	// expiry predicate.
	ErrExpired = errors.New("session expired")
	// ErrRevoked is returned when a session ID is present in the
	// revocation set.
	ErrRevoked = errors.New("session revoked")
	// ErrRefreshMismatch is returned when a rotation is attempted with a
	// refresh secret that does not match the stored hash. After a
	// successful rotation this is how reuse of the predecessor surfaces.
	ErrRefreshMismatch = errors.New("refresh hash mismatch")
	// ErrUnavailable wraps Redis transport failures. Callers must treat
	// it as deny, never as allow.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrDuplicateID is returned when a freshly generated session ID
	// collides with a live one. With 256-bit IDs this indicates a broken
	// entropy source, not bad luck.
	ErrDuplicateID = errors.New("session id already in use")
)

// Tombstone reasons written by the store itself. Callers may use any
// reason string for explicit revocations; these three identify
// store-internal lifecycle events.
const (
	ReasonRotated      = "rotated"
	ReasonRefreshReuse = "refresh_reuse"
	ReasonExpired      = "expired"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// revokeSessionScript deletes a session, maintains the principal index,
// and writes a revocation tombstone that lives as long as the session
// would have. Re-revoking is a no-op, which makes Revoke idempotent.
const revokeSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
local decoded = cjson.decode(data)
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[2] .. decoded.pid, ARGV[1])
if ttl > 0 then
  redis.call("SET", KEYS[2], ARGV[3], "PX", ttl)
end
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// createSessionScript installs a fresh record and its principal-index
// entry in one step, so no session can exist without being reachable by
// RevokeAll. Refuses to overwrite a live record.
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// rotateSessionScript is the atomic swap at the heart of refresh
// rotation: compare the provided refresh hash against the stored one and,
// in the same script, delete the predecessor, tombstone it, and install
// the successor. No interleaving can observe both sessions as valid.
const rotateSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local decoded = cjson.decode(data)
local now = tonumber(ARGV[4])
local ttl = redis.call("PTTL", KEYS[1])
if decoded.exp <= now or ttl <= 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[4], ARGV[1])
  return 1
end
if decoded.rh ~= ARGV[2] then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[4], ARGV[1])
  redis.call("SET", KEYS[3], ARGV[6], "PX", ttl)
  return 2
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[4], ARGV[1])
redis.call("SET", KEYS[3], ARGV[7], "PX", ttl)
redis.call("SET", KEYS[2], ARGV[3], "PX", tonumber(ARGV[5]))
redis.call("SADD", KEYS[4], ARGV[8])
return 3
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

// Store is a Redis-backed session store covering creation, expiry,
// revocation tombstones, and atomic rotation.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

// NewStore creates a session [Store]. prefix namespaces all keys;
// idleTTL <= 0 disables idle expiry.
func NewStore(redisClient redis.UniversalClient, prefix string, idleTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "ag"
	}
	return &Store{redis: redisClient, prefix: prefix, idleTTL: idleTTL}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + "s:" + sessionID
}

func (s *Store) revocationKey(sessionID string) string {
	return s.prefix + "r:" + sessionID
}

func (s *Store) principalKeyPrefix() string {
	return s.prefix + "p:"
}

func (s *Store) principalKey(principalID string) string {
	return s.principalKeyPrefix() + principalID
}

// IdleTTL returns the configured idle expiry window.
func (s *Store) IdleTTL() time.Duration {
	return s.idleTTL
}

// Create persists a new session. The session ID must be fresh: creation
// refuses to overwrite a live record so no two active sessions can share
// an ID.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	ok, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.SessionID), s.principalKey(sess.PrincipalID)},
		data,
		ttl.Milliseconds(),
		sess.SessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok == 0 {
		return ErrDuplicateID
	}

	return nil
}

// Get resolves a session by ID. It fails ErrRevoked for tombstoned IDs,
// ErrExpired past absolute or idle expiry, and ErrNotFound otherwise.
// A successful read advances LastSeenAt for the idle window without ever
// extending the absolute expiry.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, s.missReason(ctx, sessionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	now := time.Now()
	if sess.ExpiredAt(now, s.idleTTL) {
		// Stale entries may linger until the sweep; they still fail here.
		return nil, ErrExpired
	}

	if s.idleTTL > 0 {
		sess.LastSeenAt = now.Unix()
		if updated, merr := json.Marshal(&sess); merr == nil {
			// XX makes the bump a strict in-place renewal: a revoke or
			// rotation racing this read deletes the key, and writing it
			// back unconditionally would resurrect a dead session with
			// no TTL. KEEPTTL preserves the absolute expiry from create.
			if err := s.redis.SetXX(ctx, s.key(sessionID), updated, redis.KeepTTL).Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
	}

	return &sess, nil
}

func (s *Store) missReason(ctx context.Context, sessionID string) error {
	exists, err := s.redis.Exists(ctx, s.revocationKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists > 0 {
		return ErrRevoked
	}
	return ErrNotFound
}

// Revocation returns the tombstone for a revoked session ID, if present.
func (s *Store) Revocation(ctx context.Context, sessionID string) (*RevocationEntry, error) {
	data, err := s.redis.Get(ctx, s.revocationKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var entry RevocationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	entry.SessionID = sessionID
	return &entry, nil
}

// Revoke removes a session and writes its tombstone. Revoking an absent
// or already-revoked session is a no-op, not an error.
func (s *Store) Revoke(ctx context.Context, sessionID, reason string) error {
	tombstone, err := json.Marshal(RevocationEntry{Reason: reason, RevokedAt: time.Now().Unix()})
	if err != nil {
		return err
	}

	err = revokeSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.revocationKey(sessionID)},
		sessionID,
		s.principalKeyPrefix(),
		tombstone,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// RevokeAll revokes every tracked session for a principal. The index read
// and the per-session revocations are not a single atomic step: a session
// created concurrently may survive this call and must be caught by a
// follow-up invocation. Each individual revocation is atomic.
func (s *Store) RevokeAll(ctx context.Context, principalID, reason string) error {
	sessionIDs, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, sid := range sessionIDs {
		if err := s.Revoke(ctx, sid, reason); err != nil {
			return err
		}
	}

	if err := s.redis.Del(ctx, s.principalKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// ActiveSessionIDs returns the tracked session IDs for a principal.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Rotate atomically replaces a session with its successor when the
// provided refresh hash matches the stored one. On mismatch the session
// is revoked (reuse detection) and ErrRefreshMismatch is returned; on an
// expired or missing predecessor, ErrExpired or ErrNotFound.
func (s *Store) Rotate(ctx context.Context, oldSessionID string, providedHash [32]byte, next *Session, ttl time.Duration) error {
	nextData, err := json.Marshal(next)
	if err != nil {
		return err
	}
	reuseTombstone, err := json.Marshal(RevocationEntry{Reason: ReasonRefreshReuse, RevokedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	rotatedTombstone, err := json.Marshal(RevocationEntry{Reason: ReasonRotated, RevokedAt: time.Now().Unix()})
	if err != nil {
		return err
	}

	code, err := rotateSessionLua.Run(
		ctx,
		s.redis,
		[]string{
			s.key(oldSessionID),
			s.key(next.SessionID),
			s.revocationKey(oldSessionID),
			s.principalKey(next.PrincipalID),
		},
		oldSessionID,
		base64.StdEncoding.EncodeToString(providedHash[:]),
		nextData,
		time.Now().Unix(),
		ttl.Milliseconds(),
		reuseTombstone,
		rotatedTombstone,
		next.SessionID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch code {
	case rotateStatusNotFound:
		return s.missReason(ctx, oldSessionID)
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusMismatch:
		return ErrRefreshMismatch
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrUnavailable, code)
	}
}

// SweepExpired scans for sessions already failing their expiry predicate
// and removes them, returning the number swept. Redis TTL handles
// absolute expiry on its own; the sweep exists for idle-expired records.
// It never blocks the read path: readers reject stale entries regardless.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	pattern := s.prefix + "s:*"
	var (
		cursor uint64
		swept  int
	)
	now := time.Now()

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return swept, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			data, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return swept, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}

			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			if !sess.ExpiredAt(now, s.idleTTL) {
				continue
			}

			sess.SessionID = key[len(s.prefix)+2:]
			if err := s.Revoke(ctx, sess.SessionID, ReasonExpired); err != nil {
				return swept, err
			}
			swept++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return swept, nil
}

// Ping returns a point-in-time availability check and its latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
