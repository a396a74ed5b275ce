package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a provider has no key for a name/version pair.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrKeyUnavailable wraps transport failures of a remote provider. A
	// provider that cannot answer is an outage, not a bad token, and
	// callers must keep the two apart.
	ErrKeyUnavailable = errors.New("signing key provider unavailable")
)

// KeyRef names a signing key by logical name and version. Key material is
// always resolved through a [KeyProvider] at use time and is never embedded
// in configuration, source, or token payloads.
type KeyRef struct {
	Name    string
	Version int
}

// KID renders the reference as the JWS "kid" header value.
func (r KeyRef) KID() string {
	return r.Name + ".v" + strconv.Itoa(r.Version)
}

// ParseKID parses a "kid" header value back into a [KeyRef].
func ParseKID(kid string) (KeyRef, error) {
	idx := strings.LastIndex(kid, ".v")
	if idx <= 0 {
		return KeyRef{}, fmt.Errorf("malformed kid %q", kid)
	}
	version, err := strconv.Atoi(kid[idx+2:])
	if err != nil || version < 1 {
		return KeyRef{}, fmt.Errorf("malformed kid version in %q", kid)
	}
	return KeyRef{Name: kid[:idx], Version: version}, nil
}

// Key is opaque key material plus the algorithm it is valid for. For HS256
// Private holds the shared secret and Public is unused. For EdDSA and ES256
// Private holds the signing key (raw ed25519 or PEM) and Public the
// verification key.
type Key struct {
	Algorithm Algorithm
	Private   []byte
	Public    []byte
}

// KeyProvider resolves key material by name and version. Implementations
// must never expose key material through logs or error strings.
type KeyProvider interface {
	Key(name string, version int) (Key, error)
}

// StaticKeyProvider is an in-memory [KeyProvider] for tests and
// single-process deployments. Safe for concurrent use.
type StaticKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]Key
}

func NewStaticKeyProvider() *StaticKeyProvider {
	return &StaticKeyProvider{keys: make(map[string]Key)}
}

// Add registers key material under a name/version pair. Adding an existing
// pair replaces it; rotation should add a new version instead.
func (p *StaticKeyProvider) Add(ref KeyRef, key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[ref.KID()] = key
}

func (p *StaticKeyProvider) Key(name string, version int) (Key, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[KeyRef{Name: name, Version: version}.KID()]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	return key, nil
}
