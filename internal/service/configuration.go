package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"whatsapp-sync/internal/models"
	"whatsapp-sync/internal/provider"
	"whatsapp-sync/internal/repository"
)

// TokenCipher encrypts provider tokens at rest.
type TokenCipher interface {
	EncryptToken(token string) (string, error)
}

// ProviderCatalog is the part of the provider factory the admin API needs.
type ProviderCatalog interface {
	ProviderNames() []string
	ProviderForConfiguration(ctx context.Context, cfg *models.Configuration) (provider.Provider, error)
	Invalidate(configurationID int64)
}

// ConfigurationInput is an admin request to create or change a
// configuration. Empty strings on update keep the stored value.
type ConfigurationInput struct {
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	Token           string   `json:"token"`
	AccountSID      string   `json:"account_sid"`
	FromNumber      string   `json:"from_number"`
	DeviceID        string   `json:"device_id"`
	SupervisorPhone string   `json:"supervisor_phone"`
	ChannelID       string   `json:"channel_id"`
	Active          *bool    `json:"active"`
	AllowedUsers    []string `json:"allowed_users"`
}

type ConfigurationService struct {
	repo      repository.ConfigurationRepository
	providers ProviderCatalog
	cipher    TokenCipher
	logger    *zap.Logger
}

func NewConfigurationService(repo repository.ConfigurationRepository, providers ProviderCatalog, cipher TokenCipher, logger *zap.Logger) *ConfigurationService {
	return &ConfigurationService{repo: repo, providers: providers, cipher: cipher, logger: logger}
}

func (s *ConfigurationService) List() ([]*models.Configuration, error) {
	configs, err := s.repo.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	return configs, nil
}

func (s *ConfigurationService) Create(in ConfigurationInput) (*models.Configuration, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "name is required")
	}
	name := strings.ToLower(strings.TrimSpace(in.Provider))
	if !s.known(name) {
		return nil, invalid("provider", "unknown provider "+in.Provider)
	}
	if in.Token == "" {
		return nil, invalid("token", "token is required")
	}
	if name == models.ProviderTwilio && (in.AccountSID == "" || in.FromNumber == "") {
		return nil, invalid("account_sid", "twilio needs account_sid and from_number")
	}

	encrypted, err := s.cipher.EncryptToken(in.Token)
	if err != nil {
		s.logger.Error("Failed to encrypt provider token", zap.Error(err))
		return nil, fmt.Errorf("failed to encrypt token: %w", err)
	}

	cfg := &models.Configuration{
		Name:            strings.TrimSpace(in.Name),
		Provider:        name,
		TokenEncrypted:  encrypted,
		AccountSID:      in.AccountSID,
		FromNumber:      in.FromNumber,
		DeviceID:        in.DeviceID,
		SupervisorPhone: in.SupervisorPhone,
		ChannelID:       in.ChannelID,
		Active:          true,
		AllowedUsers:    in.AllowedUsers,
	}
	if in.Active != nil {
		cfg.Active = *in.Active
	}
	if err := s.repo.Create(cfg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("channel_id", "channel id already used by an active configuration")
		}
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}
	s.logger.Info("Configuration created",
		zap.Int64("id", cfg.ID),
		zap.String("name", cfg.Name),
		zap.String("provider", cfg.Provider),
	)
	return cfg, nil
}

func (s *ConfigurationService) Update(id int64, in ConfigurationInput) (*models.Configuration, error) {
	cfg, err := s.get(id)
	if err != nil {
		return nil, err
	}

	if in.Provider != "" {
		name := strings.ToLower(strings.TrimSpace(in.Provider))
		if !s.known(name) {
			return nil, invalid("provider", "unknown provider "+in.Provider)
		}
		cfg.Provider = name
	}
	if in.Token != "" {
		encrypted, err := s.cipher.EncryptToken(in.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt token: %w", err)
		}
		cfg.TokenEncrypted = encrypted
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Name, strings.TrimSpace(in.Name))
	set(&cfg.AccountSID, in.AccountSID)
	set(&cfg.FromNumber, in.FromNumber)
	set(&cfg.DeviceID, in.DeviceID)
	set(&cfg.SupervisorPhone, in.SupervisorPhone)
	set(&cfg.ChannelID, in.ChannelID)
	if in.AllowedUsers != nil {
		cfg.AllowedUsers = in.AllowedUsers
	}
	if in.Active != nil {
		cfg.Active = *in.Active
	}

	if err := s.repo.Update(cfg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("channel_id", "channel id already used by an active configuration")
		}
		return nil, fmt.Errorf("failed to update configuration %d: %w", id, err)
	}
	s.providers.Invalidate(id)
	s.logger.Info("Configuration updated", zap.Int64("id", id))
	return cfg, nil
}

func (s *ConfigurationService) SetActive(id int64, active bool) error {
	if _, err := s.get(id); err != nil {
		return err
	}
	if err := s.repo.SetActive(id, active); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return invalid("channel_id", "channel id already used by an active configuration")
		}
		return fmt.Errorf("failed to toggle configuration %d: %w", id, err)
	}
	s.providers.Invalidate(id)
	s.logger.Info("Configuration toggled", zap.Int64("id", id), zap.Bool("active", active))
	return nil
}

// Validate builds the adapter for a stored configuration and checks the
// provider with it.
func (s *ConfigurationService) Validate(ctx context.Context, id int64) (provider.HealthResult, error) {
	cfg, err := s.get(id)
	if err != nil {
		return provider.HealthResult{}, err
	}
	s.providers.Invalidate(id)
	p, err := s.providers.ProviderForConfiguration(ctx, cfg)
	if err != nil {
		return provider.HealthResult{Result: provider.Fail(provider.ErrorTypeValidation, err.Error())}, nil
	}
	return p.HealthCheck(ctx), nil
}

func (s *ConfigurationService) get(id int64) (*models.Configuration, error) {
	cfg, err := s.repo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %d: %w", id, err)
	}
	if cfg == nil {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (s *ConfigurationService) known(name string) bool {
	for _, n := range s.providers.ProviderNames() {
		if n == name {
			return true
		}
	}
	return false
}
