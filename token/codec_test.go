package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newHSProvider(t *testing.T, ref KeyRef, secret string) *StaticKeyProvider {
	t.Helper()

	p := NewStaticKeyProvider()
	p.Add(ref, Key{Algorithm: AlgHS256, Private: []byte(secret)})
	return p
}

func newHSCodec(t *testing.T, ttl time.Duration) (*Codec, *StaticKeyProvider) {
	t.Helper()

	ref := KeyRef{Name: "primary", Version: 1}
	p := newHSProvider(t, ref, "0123456789abcdef0123456789abcdef")
	codec, err := NewCodec(Config{
		AccessTTL:  ttl,
		Algorithm:  AlgHS256,
		SigningKey: ref,
		Issuer:     "accessgate-test",
		Leeway:     time.Second,
	}, p)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return codec, p
}

func TestSignVerifyRoundTrip(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)

	raw, err := codec.Sign("p1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.PrincipalID != "p1" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti claim")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)

	raw, err := codec.Sign("p1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	ref := KeyRef{Name: "primary", Version: 1}
	other := newHSProvider(t, ref, "ffffffffffffffffffffffffffffffff")
	victim, err := NewCodec(Config{
		AccessTTL:  15 * time.Minute,
		Algorithm:  AlgHS256,
		SigningKey: ref,
		Issuer:     "accessgate-test",
	}, other)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	if _, err := victim.Verify(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	ref := KeyRef{Name: "primary", Version: 1}
	p := newHSProvider(t, ref, "0123456789abcdef0123456789abcdef")
	codec, err := NewCodec(Config{
		AccessTTL:  time.Minute,
		Algorithm:  AlgHS256,
		SigningKey: ref,
	}, p)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	// Sign a token that expired in the past, bypassing the codec clock.
	claims := AccessClaims{
		PrincipalID: "p1",
		SessionID:   "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = ref.KID()
	raw, err := tok.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := codec.Verify(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)

	claims := AccessClaims{
		PrincipalID: "p1",
		SessionID:   "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tok.Header["kid"] = "primary.v1"
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := codec.Verify(raw); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func TestVerifyRejectsCrossAlgorithmConfusion(t *testing.T) {
	// An HS256 token whose kid points at an Ed25519 key must fail even
	// if the HMAC was computed over the public key bytes.
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	ref := KeyRef{Name: "ed", Version: 1}
	p := NewStaticKeyProvider()
	p.Add(ref, Key{Algorithm: AlgEdDSA, Public: pub})

	codec, err := NewCodec(Config{
		AccessTTL:  time.Minute,
		Algorithm:  AlgHS256,
		SigningKey: KeyRef{Name: "ed", Version: 1},
	}, p)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	claims := AccessClaims{
		PrincipalID: "p1",
		SessionID:   "s1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = ref.KID()
	raw, err := tok.SignedString([]byte(pub))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := codec.Verify(raw); err == nil {
		t.Fatal("expected cross-algorithm token to be rejected")
	}
}

func TestSignVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	ref := KeyRef{Name: "ed", Version: 3}
	p := NewStaticKeyProvider()
	p.Add(ref, Key{Algorithm: AlgEdDSA, Private: priv, Public: pub})

	codec, err := NewCodec(Config{
		AccessTTL:  15 * time.Minute,
		Algorithm:  AlgEdDSA,
		SigningKey: ref,
	}, p)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	raw, err := codec.Sign("p1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.PrincipalID != "p1" {
		t.Fatalf("unexpected principal %q", claims.PrincipalID)
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "retired.v9"
	raw, err := tok.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := codec.Verify(raw); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)

	for _, raw := range []string{"", "garbage", "a.b", strings.Repeat("x", 4096)} {
		if _, err := codec.Verify(raw); err == nil {
			t.Fatalf("expected malformed token %q to be rejected", raw)
		}
	}
}

func TestKIDRoundTrip(t *testing.T) {
	ref := KeyRef{Name: "edge.signing", Version: 12}
	parsed, err := ParseKID(ref.KID())
	if err != nil {
		t.Fatalf("ParseKID failed: %v", err)
	}
	if parsed != ref {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, ref)
	}

	for _, bad := range []string{"", "noversion", ".v1", "name.vx", "name.v0"} {
		if _, err := ParseKID(bad); err == nil {
			t.Fatalf("expected ParseKID(%q) to fail", bad)
		}
	}
}

type unreachableProvider struct{}

func (unreachableProvider) Key(name string, version int) (Key, error) {
	return Key{}, errors.New("kms timeout")
}

func TestVerifyKeyProviderOutage(t *testing.T) {
	codec, _ := newHSCodec(t, 15*time.Minute)
	raw, err := codec.Sign("p1", "s1")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	down, err := NewCodec(Config{
		AccessTTL:  15 * time.Minute,
		Algorithm:  AlgHS256,
		SigningKey: KeyRef{Name: "primary", Version: 1},
		Issuer:     "accessgate-test",
	}, unreachableProvider{})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	// A provider outage is not the same failure as a bad token and must
	// not be reported as one.
	if _, err := down.Verify(raw); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable from Verify, got %v", err)
	}
	if _, err := down.Sign("p1", "s1"); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable from Sign, got %v", err)
	}
}
