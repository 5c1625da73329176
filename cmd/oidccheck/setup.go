package main

import (
	"fmt"
	"log/slog"
	"os"

	oidc "github.com/giantswarm/oidc-core"
	"github.com/giantswarm/oidc-core/config"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/signing"
	"github.com/giantswarm/oidc-core/storage/memory"
	"github.com/giantswarm/oidc-core/storage/redis"
)

// environment is a validation core over a seeded store
type environment struct {
	server  *oidc.Server
	signer  *signing.KeyService
	store   *memory.Store
	closers []func()
	logger  *slog.Logger
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// setup loads the seed, builds the stores and wires the core
func setup(opts *Options) (_ *environment, err error) {
	logger := newLogger(opts.LogLevel, opts.LogFormat)
	env := &environment{logger: logger}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	seed, err := config.Load(opts.Seed)
	if err != nil {
		return nil, err
	}

	env.store = memory.New()
	env.store.SetLogger(logger)
	env.closers = append(env.closers, env.store.Stop)

	if err := seed.Apply(env.store); err != nil {
		return nil, fmt.Errorf("failed to apply seed: %w", err)
	}
	logger.Debug("Seed applied",
		"clients", len(seed.Clients),
		"api_resources", len(seed.ApiResources),
		"users", len(seed.Users))

	stores := oidc.MemoryStores(env.store)
	if opts.Redis.Addr != "" {
		rstore, err := newRedisStore(opts, logger)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, rstore.Close)
		stores.DeviceFlow = rstore
		stores.Throttle = rstore
		stores.Consents = rstore
	}

	env.signer, err = loadSigner(opts.SigningKey, logger)
	if err != nil {
		return nil, err
	}

	env.server, err = oidc.NewServer(stores, env.signer, coreConfig(opts, seed.Settings, logger), oidc.Extensions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create validation core: %w", err)
	}
	env.closers = append(env.closers, env.server.Close)

	return env, nil
}

// coreConfig maps seed settings onto the core configuration. An unset
// require_pkce keeps the secure defaults.
func coreConfig(opts *Options, settings config.Settings, logger *slog.Logger) *oidc.Config {
	cfg := &oidc.Config{
		Issuer:              settings.Issuer,
		AccessTokenAudience: settings.AccessTokenAudience,
		DeviceFlowInterval:  settings.DeviceFlowInterval,
		ClockSkew:           settings.ClockSkew,
		EnableAuditLogging:  settings.AuditLogging,
		AuditRateLimit:      security.RateLimiterConfig{EventsPerSecond: 10, Burst: 20},
		Logger:              logger,
	}
	if opts.Issuer != "" {
		cfg.Issuer = opts.Issuer
	}
	if settings.RequirePKCE != nil {
		cfg.RequirePKCE = *settings.RequirePKCE
		cfg.AllowLoopbackDynamicPort = true
	}
	return cfg
}

func newRedisStore(opts *Options, logger *slog.Logger) (*redis.Store, error) {
	store, err := redis.New(redis.Config{
		Address:   opts.Redis.Addr,
		Password:  opts.Redis.Password,
		DB:        opts.Redis.DB,
		KeyPrefix: opts.Redis.KeyPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if opts.Redis.EncryptionKey != "" {
		key, err := security.KeyFromBase64(opts.Redis.EncryptionKey)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("invalid redis encryption key: %w", err)
		}
		encryptor, err := security.NewEncryptor(key)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		store.SetEncryptor(encryptor)
	}

	return store, nil
}

func loadSigner(path string, logger *slog.Logger) (*signing.KeyService, error) {
	if path == "" {
		key, err := signing.GenerateECDSAKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		logger.Info("Using ephemeral signing key")
		return signing.NewKeyService(key, logger)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := signing.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return signing.NewKeyService(key, logger)
}
