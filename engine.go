package accessgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arcveil/accessgate/internal"
	"github.com/arcveil/accessgate/internal/rate"
	"github.com/arcveil/accessgate/password"
	"github.com/arcveil/accessgate/policy"
	"github.com/arcveil/accessgate/session"
	"github.com/arcveil/accessgate/token"
)

// Engine is the authorization and session-integrity core. Build one with
// [NewBuilder]; all methods are safe for concurrent use.
type Engine struct {
	config       Config
	codec        *token.Codec
	sessionStore *session.Store
	policyEngine *policy.Engine
	passwordHash *password.Verifier
	rateLimiter  *rate.Limiter
	principals   PrincipalProvider
	audit        *decisionDispatcher
	metrics      *Metrics

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// Close stops the background sweeper and flushes buffered decision
// records. The engine must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			e.sweepWG.Wait()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped reports how many decision records were shed because the
// audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeCtx bounds every dependency round trip. A dependency that cannot
// answer within the budget is treated as unavailable, which is a deny.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.StoreTimeout)
}

// Login verifies primary credentials and establishes a session. The
// returned pair carries a signed access token and an opaque refresh
// token; the refresh secret is stored only as a hash.
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)

	if e.rateLimiter != nil {
		rctx, cancel := e.storeCtx(ctx)
		err := e.rateLimiter.Check(rctx, identifier, ip)
		cancel()
		if err != nil {
			if errors.Is(err, rate.ErrStoreUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
			}
			e.metricInc(MetricLoginRateLimited)
			return nil, ErrLoginRateLimited
		}
	}
	if plaintext == "" {
		return nil, e.failLogin(ctx, identifier, ip)
	}

	pctx, cancel := e.storeCtx(ctx)
	rec, err := e.principals.PrincipalByIdentifier(pctx, identifier)
	cancel()
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, e.failLogin(ctx, identifier, ip)
		}
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	ok, err := e.passwordHash.Verify(plaintext, rec.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, identifier, ip)
	}
	if rec.Status != AccountActive {
		e.metricInc(MetricAccountLocked)
		return nil, ErrAccountLocked
	}

	if e.config.UpgradePasswordOnLogin {
		e.maybeUpgradeHash(ctx, rec, plaintext)
	}

	result, err := e.establishSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	if e.rateLimiter != nil {
		// Best effort; a failed reset only costs budget, not access.
		rctx, rcancel := e.storeCtx(ctx)
		_ = e.rateLimiter.Reset(rctx, identifier, ip)
		rcancel()
	}
	e.metricInc(MetricLoginSuccess)
	return result, nil
}

func (e *Engine) failLogin(ctx context.Context, identifier, ip string) error {
	if e.rateLimiter != nil {
		rctx, cancel := e.storeCtx(ctx)
		err := e.rateLimiter.Increment(rctx, identifier, ip)
		cancel()
		if err != nil && errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			return ErrLoginRateLimited
		}
	}
	e.metricInc(MetricLoginFailure)
	return ErrInvalidCredentials
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, rec *PrincipalRecord, plaintext string) {
	upgrade, err := e.passwordHash.NeedsUpgrade(rec.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	newHash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		return
	}
	uctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.principals.UpdatePasswordHash(uctx, rec.PrincipalID, newHash); err != nil {
		return
	}
	e.metricInc(MetricPasswordUpgraded)
}

// establishSession mints a session record snapshotting the principal's
// roles and attributes, stores it, and signs the token pair.
func (e *Engine) establishSession(ctx context.Context, rec *PrincipalRecord) (*LoginResult, error) {
	sess, secret, err := newSessionRecord(rec, time.Now(), e.config.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.sessionStore.Create(sctx, sess, e.config.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	pair, err := e.issuePair(sess, secret)
	if err != nil {
		// The orphaned session is harmless but should not linger.
		_ = e.sessionStore.Revoke(sctx, sess.SessionID, "issue_failed")
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	return &LoginResult{
		TokenPair:   pair,
		SessionID:   sess.SessionID,
		PrincipalID: sess.PrincipalID,
	}, nil
}

func newSessionRecord(rec *PrincipalRecord, now time.Time, ttl time.Duration) (*session.Session, [32]byte, error) {
	var secret [32]byte

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, secret, err
	}
	secret, err = internal.NewRefreshSecret()
	if err != nil {
		return nil, secret, err
	}
	hash := internal.HashRefreshSecret(secret)

	roles := make([]string, len(rec.Roles))
	copy(roles, rec.Roles)
	var attrs map[string]string
	if len(rec.Attributes) > 0 {
		attrs = make(map[string]string, len(rec.Attributes))
		for k, v := range rec.Attributes {
			attrs[k] = v
		}
	}

	return &session.Session{
		SessionID:   sid.String(),
		PrincipalID: rec.PrincipalID,
		Roles:       roles,
		Attributes:  attrs,
		RefreshHash: hash[:],
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
		LastSeenAt:  now.Unix(),
	}, secret, nil
}

func (e *Engine) issuePair(sess *session.Session, secret [32]byte) (TokenPair, error) {
	access, err := e.codec.Sign(sess.PrincipalID, sess.SessionID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := internal.EncodeRefreshToken(sess.SessionID, secret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a refresh token for a new pair, atomically rotating
// the session: the predecessor is dead before the successor answers.
// Presenting an already-rotated token revokes the session line and
// returns ErrReauthenticationRequired wrapping ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}

	sid, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}
	providedHash := internal.HashRefreshSecret(secret)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	// Read the current snapshot to seed the successor. The rotation
	// script re-validates the hash, so a racing rotation cannot slip
	// past this read.
	old, err := e.sessionStore.Get(sctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrRevoked) && e.rotatedAway(sctx, sid) {
			e.metricInc(MetricRefreshReuseDetected)
			return nil, fmt.Errorf("%w: %w", ErrReauthenticationRequired, ErrRefreshReuse)
		}
		return nil, e.refreshMiss(err)
	}

	now := time.Now()
	next, nextSecret, err := newSessionRecord(&PrincipalRecord{
		PrincipalID: old.PrincipalID,
		Roles:       old.Roles,
		Attributes:  old.Attributes,
	}, now, e.config.RefreshTokenTTL)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	if err := e.sessionStore.Rotate(sctx, sid, providedHash, next, e.config.RefreshTokenTTL); err != nil {
		return nil, e.refreshMiss(err)
	}

	pair, err := e.issuePair(next, nextSecret)
	if err != nil {
		_ = e.sessionStore.Revoke(sctx, next.SessionID, "issue_failed")
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	return &LoginResult{
		TokenPair:   pair,
		SessionID:   next.SessionID,
		PrincipalID: next.PrincipalID,
	}, nil
}

// rotatedAway reports whether a session ID died by rotation, which means
// the refresh token naming it was already spent. Anything else on the
// lookup path is treated as an ordinary miss.
func (e *Engine) rotatedAway(ctx context.Context, sessionID string) bool {
	entry, err := e.sessionStore.Revocation(ctx, sessionID)
	if err != nil {
		return false
	}
	return entry.Reason == session.ReasonRotated || entry.Reason == session.ReasonRefreshReuse
}

func (e *Engine) refreshMiss(err error) error {
	switch {
	case errors.Is(err, session.ErrRefreshMismatch):
		e.metricInc(MetricRefreshReuseDetected)
		return fmt.Errorf("%w: %w", ErrReauthenticationRequired, ErrRefreshReuse)
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrRevoked):
		e.metricInc(MetricRefreshFailure)
		return fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
	case errors.Is(err, session.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	default:
		e.metricInc(MetricRefreshFailure)
		return err
	}
}

// Logout revokes the session named by a valid access token. Revocation
// is idempotent: logging out twice is not an error.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.codec == nil {
		return ErrEngineNotReady
	}
	claims, err := e.codec.Verify(accessToken)
	if err != nil {
		return ErrTokenInvalid
	}
	return e.RevokeSession(ctx, claims.SessionID, "logout")
}

// RevokeSession tombstones one session by ID.
func (e *Engine) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.sessionStore.Revoke(sctx, sessionID, reason); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.metricInc(MetricLogout)
	return nil
}

// RevokeAllSessions tombstones every active session of a principal. Used
// for account compromise response and after password changes.
func (e *Engine) RevokeAllSessions(ctx context.Context, principalID, reason string) error {
	if e == nil || e.sessionStore == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.sessionStore.RevokeAll(sctx, principalID, reason); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	e.metricInc(MetricRevokeAll)
	return nil
}

// ActiveSessions lists the session IDs currently held by a principal.
func (e *Engine) ActiveSessions(ctx context.Context, principalID string) ([]string, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	ids, err := e.sessionStore.ActiveSessionIDs(sctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	return ids, nil
}

// RevocationStatus reports the tombstone for a revoked session, or nil
// when none exists. Tombstones persist only until the session's natural
// expiry, so a nil result does not prove the session was never revoked.
func (e *Engine) RevocationStatus(ctx context.Context, sessionID string) (*session.RevocationEntry, error) {
	if e == nil || e.sessionStore == nil {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	entry, err := e.sessionStore.Revocation(sctx, sessionID)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, session.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
}

// ChangePassword verifies the current credential, installs the new hash,
// and revokes every session of the principal so stolen refresh tokens
// die with the old password.
func (e *Engine) ChangePassword(ctx context.Context, principalID, oldPassword, newPassword string) error {
	if e == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}

	pctx, cancel := e.storeCtx(ctx)
	rec, err := e.principals.PrincipalByID(pctx, principalID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	ok, err := e.passwordHash.Verify(oldPassword, rec.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return ErrPasswordReuse
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	uctx, ucancel := e.storeCtx(ctx)
	err = e.principals.UpdatePasswordHash(uctx, principalID, newHash)
	ucancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	if err := e.RevokeAllSessions(ctx, principalID, "password_change"); err != nil {
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	return nil
}

// Register hashes the supplied password and creates the principal via
// the provider.
func (e *Engine) Register(ctx context.Context, in CreatePrincipalInput) (*PrincipalRecord, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if in.Identifier == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := e.passwordHash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	pctx, cancel := e.storeCtx(ctx)
	rec, err := e.principals.CreatePrincipal(pctx, in, hash)
	cancel()
	if err != nil {
		if errors.Is(err, ErrPrincipalExists) {
			e.metricInc(MetricRegisterDuplicate)
			return nil, ErrPrincipalExists
		}
		return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	e.metricInc(MetricRegisterSuccess)
	return rec, nil
}

// SweepExpired converts quietly expired sessions into revocation entries
// in one bounded pass. The background sweeper calls this on a timer; it
// is exported for callers who schedule their own maintenance.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	n, err := e.sessionStore.SweepExpired(sctx)
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricSessionsSwept, uint64(n))
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	return n, nil
}

func (e *Engine) startSweeper(interval time.Duration) {
	e.sweepStop = make(chan struct{})
	e.sweepWG.Add(1)

	go func() {
		defer e.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, _ = e.SweepExpired(context.Background())
			case <-e.sweepStop:
				return
			}
		}
	}()
}

// Ping verifies the session store is reachable.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.sessionStore.Ping(sctx)
}
