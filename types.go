package accessgate

import "context"

// AccountStatus gates whether a principal may authenticate at all.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountLocked
)

// PrincipalRecord is what the engine needs from the host application's
// identity storage. The engine never sees plaintext passwords at rest; only
// PHC-encoded hashes travel through this struct.
type PrincipalRecord struct {
	PrincipalID  string
	Identifier   string
	PasswordHash string
	Roles        []string
	Attributes   map[string]string
	Status       AccountStatus
}

// CreatePrincipalInput carries the fields for Register. Password arrives in
// plaintext and is hashed by the engine before it reaches the provider.
type CreatePrincipalInput struct {
	Identifier string
	Password   string
	Roles      []string
	Attributes map[string]string
}

// PrincipalProvider is implemented by the host application. The engine calls
// it for credential verification, registration, and password changes; it owns
// no principal storage of its own.
//
// Implementations must return ErrPrincipalNotFound (or an error wrapping it)
// for unknown identifiers and IDs, and ErrPrincipalExists for registration
// collisions. Any other error is treated as a dependency failure and denied.
type PrincipalProvider interface {
	PrincipalByIdentifier(ctx context.Context, identifier string) (*PrincipalRecord, error)
	PrincipalByID(ctx context.Context, principalID string) (*PrincipalRecord, error)
	CreatePrincipal(ctx context.Context, in CreatePrincipalInput, passwordHash string) (*PrincipalRecord, error)
	UpdatePasswordHash(ctx context.Context, principalID, passwordHash string) error
}

// TokenPair is the product of Login and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult couples the issued pair with the session it is bound to.
type LoginResult struct {
	TokenPair
	SessionID   string
	PrincipalID string
}
