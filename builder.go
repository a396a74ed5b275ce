package accessgate

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arcveil/accessgate/internal/rate"
	"github.com/arcveil/accessgate/password"
	"github.com/arcveil/accessgate/policy"
	"github.com/arcveil/accessgate/session"
	"github.com/arcveil/accessgate/token"
)

// Builder assembles an [Engine]. Redis, a key provider, a principal
// provider, and a policy table are mandatory; everything else has
// defaults.
type Builder struct {
	config     Config
	configSet  bool
	redis      redis.UniversalClient
	keys       token.KeyProvider
	principals PrincipalProvider
	sink       DecisionSink
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithKeyProvider(keys token.KeyProvider) *Builder {
	b.keys = keys
	return b
}

func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

func (b *Builder) WithPolicy(cfg policy.Config) *Builder {
	b.config.Policy = cfg
	return b
}

func (b *Builder) WithDecisionSink(sink DecisionSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. The background
// sweeper starts here when a sweep interval is configured; Close stops
// it.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.keys == nil {
		return nil, errors.New("key provider is required")
	}
	if b.principals == nil {
		return nil, errors.New("principal provider is required")
	}
	if !b.configSet {
		policyCfg := b.config.Policy
		b.config = DefaultConfig()
		b.config.Policy = policyCfg
	}
	if err := validateConfig(b.config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		AccessTTL:    b.config.AccessTokenTTL,
		Algorithm:    b.config.Token.Algorithm,
		SigningKey:   b.config.Token.SigningKey,
		Issuer:       b.config.Token.Issuer,
		Audience:     b.config.Token.Audience,
		Leeway:       b.config.Token.Leeway,
		MaxFutureIAT: b.config.Token.MaxFutureIAT,
	}, b.keys)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	policyEngine, err := policy.NewEngine(b.config.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy table: %w", err)
	}

	hasher, err := password.NewVerifier(b.config.Password)
	if err != nil {
		return nil, fmt.Errorf("password verifier: %w", err)
	}

	e := &Engine{
		config:       b.config,
		codec:        codec,
		sessionStore: session.NewStore(b.redis, b.config.Session.KeyPrefix, b.config.Session.IdleTimeout),
		policyEngine: policyEngine,
		passwordHash: hasher,
		principals:   b.principals,
		audit:        newDecisionDispatcher(b.config.Audit, b.sink),
		metrics:      NewMetrics(b.config.Metrics),
	}
	if b.config.RateLimit.MaxAttempts > 0 {
		e.rateLimiter = rate.New(b.redis, b.config.RateLimit)
	}
	if b.config.Session.SweepInterval > 0 {
		e.startSweeper(b.config.Session.SweepInterval)
	}

	return e, nil
}
