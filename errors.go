package accessgate

import "errors"

var (
	// ErrInvalidCredentials is returned for any primary-credential failure.
	// It deliberately does not distinguish unknown identifiers from wrong
	// passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPrincipalNotFound is returned when a principal ID resolves to nothing.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalExists is returned when registration collides with an
	// existing identifier.
	ErrPrincipalExists = errors.New("principal already exists")
	// ErrAccountLocked is returned when a locked principal attempts to
	// authenticate.
	ErrAccountLocked = errors.New("account locked")
	// ErrLoginRateLimited is returned when the login attempt budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrPasswordPolicy is returned when a new password fails policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change supplies the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrTokenInvalid is returned for malformed, mis-signed, or
	// wrongly-algorithmed tokens presented to lifecycle operations.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSessionInvalid is returned when a session cannot be resolved:
	// missing, expired, or revoked.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrReauthenticationRequired is a hard stop: the refresh token is
	// expired, revoked, or already used, and only a fresh login helps.
	ErrReauthenticationRequired = errors.New("reauthentication required")
	// ErrRefreshReuse marks a refresh token presented after its rotation.
	// The session is revoked when this is detected.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrDependencyUnavailable is returned when the session store or key
	// provider cannot be reached within the bounded timeout. It is always
	// a deny, never an implicit allow.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrEngineNotReady is returned when an Engine method is called before
	// the builder finished assembling it.
	ErrEngineNotReady = errors.New("engine not initialized")
)
