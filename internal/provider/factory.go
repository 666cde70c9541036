package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
)

var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrNoConfiguration     = errors.New("no accessible configuration")
	ErrProviderUnavailable = errors.New("provider could not be initialized")
)

// ConfigurationSource is the part of the configuration store the factory reads.
type ConfigurationSource interface {
	GetByID(id int64) (*models.Configuration, error)
	ListActive() ([]*models.Configuration, error)
}

// TokenDecrypter reverses the at-rest encryption of provider tokens.
type TokenDecrypter interface {
	DecryptToken(encrypted string) (string, error)
}

// Settings are per-provider overrides taken from the service configuration.
type Settings struct {
	BaseURL       string
	WebhookSecret string
}

type cachedProvider struct {
	provider  Provider
	updatedAt time.Time
}

// Factory turns stored configurations into validated adapters. Adapters are
// cached per configuration version so the health check runs once per change.
type Factory struct {
	registry        *Registry
	configs         ConfigurationSource
	tokens          TokenDecrypter
	deps            Dependencies
	settings        map[string]Settings
	defaultProvider string
	logger          *zap.Logger

	mu    sync.Mutex
	cache map[int64]cachedProvider
}

func NewFactory(registry *Registry, configs ConfigurationSource, tokens TokenDecrypter, deps Dependencies, settings map[string]Settings, defaultProvider string, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Factory{
		registry:        registry,
		configs:         configs,
		tokens:          tokens,
		deps:            deps,
		settings:        settings,
		defaultProvider: strings.ToLower(defaultProvider),
		logger:          logger,
		cache:           make(map[int64]cachedProvider),
	}
}

// ProviderNames lists the registered providers.
func (f *Factory) ProviderNames() []string {
	return f.registry.Names()
}

// CreateProvider builds an adapter by name and validates it. It returns nil
// when the name is unknown, construction fails or validation fails.
func (f *Factory) CreateProvider(ctx context.Context, name string, creds Credentials) Provider {
	name = strings.ToLower(name)
	ctor, ok := f.registry.Lookup(name)
	if !ok {
		f.logger.Error("Unknown provider", zap.String("provider", name))
		return nil
	}

	deps := f.deps
	if s, ok := f.settings[name]; ok {
		deps.BaseURL = s.BaseURL
		deps.WebhookSecret = s.WebhookSecret
	}

	p, err := ctor(creds, deps)
	if err != nil {
		f.logger.Error("Failed to construct provider", zap.String("provider", name), zap.Error(err))
		return nil
	}

	validation := p.ValidateConfig(ctx)
	if !validation.Valid {
		f.logger.Warn("Provider configuration is invalid",
			zap.String("provider", name),
			zap.Strings("errors", validation.Errors),
		)
		return nil
	}
	return p
}

// ProviderForConfiguration decrypts the stored credentials of cfg and
// returns a validated adapter for them.
func (f *Factory) ProviderForConfiguration(ctx context.Context, cfg *models.Configuration) (Provider, error) {
	return f.providerAs(ctx, cfg, cfg.Provider)
}

// ProviderForScope picks the configuration the caller may use and returns
// the adapter for it. Admins get the first active configuration that lists
// them, otherwise the first active one. Everyone else needs to be listed.
func (f *Factory) ProviderForScope(ctx context.Context, scope models.Scope) (Provider, *models.Configuration, error) {
	cfg, err := f.ResolveConfiguration(scope)
	if err != nil {
		return nil, nil, err
	}
	p, err := f.ProviderForConfiguration(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// ProviderForScopeAs resolves the caller's configuration like
// ProviderForScope but builds the adapter for the named provider.
func (f *Factory) ProviderForScopeAs(ctx context.Context, scope models.Scope, name string) (Provider, *models.Configuration, error) {
	if name == "" {
		return f.ProviderForScope(ctx, scope)
	}
	if _, ok := f.registry.Lookup(name); !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	cfg, err := f.ResolveConfiguration(scope)
	if err != nil {
		return nil, nil, err
	}
	p, err := f.providerAs(ctx, cfg, name)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// DefaultProvider returns an adapter for the first active configuration of
// the default provider, falling back to any active configuration.
func (f *Factory) DefaultProvider(ctx context.Context) (Provider, *models.Configuration, error) {
	configs, err := f.configs.ListActive()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil, ErrNoConfiguration
	}
	cfg := configs[0]
	for _, c := range configs {
		if strings.EqualFold(c.Provider, f.defaultProvider) {
			cfg = c
			break
		}
	}
	p, err := f.ProviderForConfiguration(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// ResolveConfiguration applies the access rules without building an adapter.
func (f *Factory) ResolveConfiguration(scope models.Scope) (*models.Configuration, error) {
	configs, err := f.configs.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	for _, cfg := range configs {
		if scope.Username != "" && cfg.AllowsUser(scope.Username) {
			return cfg, nil
		}
	}
	if scope.IsAdmin() && len(configs) > 0 {
		return configs[0], nil
	}
	return nil, ErrNoConfiguration
}

// Invalidate drops the cached adapter of a configuration.
func (f *Factory) Invalidate(configurationID int64) {
	f.mu.Lock()
	delete(f.cache, configurationID)
	f.mu.Unlock()
}

func (f *Factory) providerAs(ctx context.Context, cfg *models.Configuration, name string) (Provider, error) {
	if cfg == nil {
		return nil, ErrNoConfiguration
	}
	if _, ok := f.registry.Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	cacheable := strings.EqualFold(name, cfg.Provider)
	if cacheable {
		f.mu.Lock()
		cached, ok := f.cache[cfg.ID]
		f.mu.Unlock()
		if ok && cached.updatedAt.Equal(cfg.UpdatedAt) {
			return cached.provider, nil
		}
	}

	token, err := f.tokens.DecryptToken(cfg.TokenEncrypted)
	if err != nil {
		f.logger.Error("Failed to decrypt provider token",
			zap.Int64("configuration_id", cfg.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	p := f.CreateProvider(ctx, name, Credentials{
		Token:           token,
		AccountSID:      cfg.AccountSID,
		FromNumber:      cfg.FromNumber,
		DeviceID:        cfg.DeviceID,
		SupervisorPhone: cfg.SupervisorPhone,
	})
	if p == nil {
		return nil, ErrProviderUnavailable
	}

	if cacheable {
		f.mu.Lock()
		f.cache[cfg.ID] = cachedProvider{provider: p, updatedAt: cfg.UpdatedAt}
		f.mu.Unlock()
	}
	return p, nil
}
