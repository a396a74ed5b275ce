package accessgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/arcveil/accessgate/internal/rate"
	"github.com/arcveil/accessgate/password"
	"github.com/arcveil/accessgate/policy"
	"github.com/arcveil/accessgate/token"
)

const (
	minAccessTokenTTL  = 15 * time.Minute
	maxAccessTokenTTL  = 30 * time.Minute
	minRefreshTokenTTL = 7 * 24 * time.Hour
	maxRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenConfig selects the signing algorithm and key for new access
// tokens and the validation envelope for presented ones.
type TokenConfig struct {
	Algorithm    token.Algorithm
	SigningKey   token.KeyRef
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

// SessionConfig tunes the Redis session layer.
type SessionConfig struct {
	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string
	// IdleTimeout revokes sessions unused for this long, independent of
	// the absolute refresh TTL. Zero disables idle expiry.
	IdleTimeout time.Duration
	// SweepInterval is the cadence of the background expired-session
	// sweeper. Zero disables the sweeper; Redis TTLs still bound every
	// record's lifetime, the sweeper only converts quiet expiries into
	// revocation entries eagerly.
	SweepInterval time.Duration
}

// AuditConfig tunes the asynchronous decision dispatcher. Decisions are
// always recorded; only buffering behavior is configurable.
type AuditConfig struct {
	BufferSize int
	// DropIfFull sheds decisions when the buffer is full instead of
	// blocking the authorization path. Dropped counts are observable via
	// AuditDropped.
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config is the complete engine configuration. DefaultConfig returns a
// usable baseline; zero values elsewhere are rejected by validation
// rather than silently defaulted.
type Config struct {
	// AccessTokenTTL bounds access token life. Short by design: revocation
	// takes effect at the session check, but a stolen bearer token should
	// not outlive its session by long either.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL is the absolute session lifetime. Rotation renews
	// it; idle timeout may end the session earlier.
	RefreshTokenTTL time.Duration
	// StoreTimeout bounds every Redis and provider round trip. Exceeding
	// it is a dependency failure and therefore a deny.
	StoreTimeout time.Duration
	// UpgradePasswordOnLogin rehashes credentials stored with weaker cost
	// parameters when a successful login makes the plaintext available.
	UpgradePasswordOnLogin bool

	Token     TokenConfig
	Session   SessionConfig
	Policy    policy.Config
	Password  password.Config
	RateLimit rate.Config
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// DefaultConfig returns the baseline configuration. Callers still must
// supply Token signing parameters and the Policy table.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        14 * 24 * time.Hour,
		StoreTimeout:           2 * time.Second,
		UpgradePasswordOnLogin: true,
		Token: TokenConfig{
			Leeway: 30 * time.Second,
		},
		Session: SessionConfig{
			KeyPrefix:     "ag",
			IdleTimeout:   24 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Password: password.DefaultConfig(),
		RateLimit: rate.Config{
			EnableIPThrottle: true,
			MaxAttempts:      10,
			Cooldown:         15 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.AccessTokenTTL < minAccessTokenTTL || cfg.AccessTokenTTL > maxAccessTokenTTL {
		return fmt.Errorf("access token TTL must be between %s and %s", minAccessTokenTTL, maxAccessTokenTTL)
	}
	if cfg.RefreshTokenTTL < minRefreshTokenTTL || cfg.RefreshTokenTTL > maxRefreshTokenTTL {
		return fmt.Errorf("refresh token TTL must be between %s and %s", minRefreshTokenTTL, maxRefreshTokenTTL)
	}
	if cfg.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if cfg.Session.KeyPrefix == "" {
		return errors.New("session key prefix is required")
	}
	if cfg.Session.IdleTimeout < 0 || cfg.Session.SweepInterval < 0 {
		return errors.New("session timing values must not be negative")
	}
	if cfg.Session.IdleTimeout > 0 && cfg.Session.IdleTimeout >= cfg.RefreshTokenTTL {
		return errors.New("idle timeout must be shorter than the refresh TTL")
	}
	if cfg.RateLimit.MaxAttempts < 0 || cfg.RateLimit.Cooldown < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if cfg.Audit.BufferSize < 1 {
		return errors.New("audit buffer size must be at least 1")
	}
	return nil
}
