package token

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm identifies a signing algorithm from the codec allow-list.
// Anything outside the list, including the JWS "none" declaration, is
// rejected structurally during parsing, not by trusting the token header.
type Algorithm string

const (
	// AlgHS256 is HMAC-SHA256 over a shared secret.
	AlgHS256 Algorithm = "HS256"
	// AlgEdDSA is Ed25519.
	AlgEdDSA Algorithm = "EdDSA"
	// AlgES256 is ECDSA over P-256 with SHA-256.
	AlgES256 Algorithm = "ES256"
)

var (
	// ErrBadSignature is returned when a token signature does not verify
	// against the referenced key.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the current time exceeds the token's
	// embedded expiry.
	ErrExpired = errors.New("token expired")
	// ErrUnsupportedAlgorithm is returned when a token declares an
	// algorithm outside the codec allow-list.
	ErrUnsupportedAlgorithm = errors.New("token algorithm not allowed")
	// ErrMalformed is returned for tokens that cannot be decoded at all.
	ErrMalformed = errors.New("token malformed")
)

// Config holds codec tuning. SigningKey names the key used for new tokens;
// verification accepts any key the provider can resolve by kid, which is
// what allows zero-downtime key rotation.
type Config struct {
	AccessTTL    time.Duration
	Algorithm    Algorithm
	SigningKey   KeyRef
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

// Codec signs and verifies access tokens. It is stateless over the
// injected [KeyProvider] and safe for concurrent use.
type Codec struct {
	config Config
	keys   KeyProvider
}

// AccessClaims is the complete payload of an access token: identity and
// session binding only. Roles and attributes deliberately never appear
// here; they are resolved server-side from the session record at use time.
type AccessClaims struct {
	PrincipalID string `json:"uid"`
	SessionID   string `json:"sid"`
	jwt.RegisteredClaims
}

// NewCodec validates the configuration and returns a [Codec].
func NewCodec(cfg Config, keys KeyProvider) (*Codec, error) {
	if keys == nil {
		return nil, errors.New("key provider is required")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid access TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	switch cfg.Algorithm {
	case AlgHS256, AlgEdDSA, AlgES256:
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	if cfg.SigningKey.Name == "" || cfg.SigningKey.Version < 1 {
		return nil, errors.New("signing key reference is required")
	}

	return &Codec{config: cfg, keys: keys}, nil
}

// Sign issues an access token binding a principal to a session. The jti
// claim is a fresh UUID so individual tokens are distinguishable in
// revocation entries and audit records.
func (c *Codec) Sign(principalID, sessionID string) (string, error) {
	key, err := c.keys.Key(c.config.SigningKey.Name, c.config.SigningKey.Version)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if key.Algorithm != c.config.Algorithm {
		return "", fmt.Errorf("key %s is not a %s key", c.config.SigningKey.KID(), c.config.Algorithm)
	}

	now := time.Now()
	claims := AccessClaims{
		PrincipalID: principalID,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	tok := jwt.NewWithClaims(signingMethod(c.config.Algorithm), claims)
	tok.Header["kid"] = c.config.SigningKey.KID()

	signKey, err := parseSignKey(key)
	if err != nil {
		return "", err
	}

	return tok.SignedString(signKey)
}

// Verify decodes and verifies an access token. Failures map onto the
// codec error set: [ErrBadSignature], [ErrExpired],
// [ErrUnsupportedAlgorithm], [ErrMalformed], [ErrKeyNotFound],
// [ErrKeyUnavailable].
func (c *Codec) Verify(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			string(AlgHS256), string(AlgEdDSA), string(AlgES256),
		}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		ref, err := ParseKID(kid)
		if err != nil {
			return nil, err
		}
		key, err := c.keys.Key(ref.Name, ref.Version)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		// The declared algorithm must match the key's algorithm, which
		// blocks cross-algorithm confusion (e.g. an asymmetric public key
		// replayed as an HMAC secret).
		if t.Method.Alg() != string(key.Algorithm) {
			return nil, fmt.Errorf("algorithm %s does not match key %s", t.Method.Alg(), kid)
		}
		return parseVerifyKey(key)
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.IssuedAt != nil && c.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(time.Now().Add(c.config.MaxFutureIAT)) {
			return nil, ErrMalformed
		}
	}

	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, ErrKeyNotFound):
		return ErrKeyNotFound
	case errors.Is(err, ErrKeyUnavailable):
		return ErrKeyUnavailable
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, jwt.ErrInvalidKeyType):
		return ErrUnsupportedAlgorithm
	default:
		return ErrMalformed
	}
}

func signingMethod(alg Algorithm) jwt.SigningMethod {
	switch alg {
	case AlgHS256:
		return jwt.SigningMethodHS256
	case AlgES256:
		return jwt.SigningMethodES256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func parseSignKey(key Key) (interface{}, error) {
	switch key.Algorithm {
	case AlgHS256:
		if len(key.Private) == 0 {
			return nil, errors.New("empty hmac secret")
		}
		return key.Private, nil
	case AlgES256:
		return parseECPrivateKey(key.Private)
	default:
		return parseEdPrivateKey(key.Private)
	}
}

func parseVerifyKey(key Key) (interface{}, error) {
	switch key.Algorithm {
	case AlgHS256:
		if len(key.Private) == 0 {
			return nil, errors.New("empty hmac secret")
		}
		return key.Private, nil
	case AlgES256:
		return parseECPublicKey(key.Public)
	default:
		return parseEdPublicKey(key.Public)
	}
}

func parseEdPrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

func parseECPrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ecdsa private key")
	}
	return key, nil
}

func parseECPublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	key, err := jwt.ParseECPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("invalid ecdsa public key")
	}
	return key, nil
}
