package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL            string `yaml:"url"`
		MigrationsPath string `yaml:"migrations_path"`
	} `yaml:"database"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		TokenTTLHours int    `yaml:"token_ttl_hours"`
	} `yaml:"auth"`
	Providers struct {
		Default        string  `yaml:"default"`
		MaxRetries     int     `yaml:"max_retries"`
		RetryDelayMs   int64   `yaml:"retry_delay_ms"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		Whapi          struct {
			BaseURL       string `yaml:"base_url"`
			WebhookSecret string `yaml:"webhook_secret"`
		} `yaml:"whapi"`
		Wassenger struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"wassenger"`
		Twilio struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"twilio"`
	} `yaml:"providers"`
	Sync struct {
		Enabled           bool   `yaml:"enabled"`
		Cron              string `yaml:"cron"`
		MessageBatchCount int    `yaml:"message_batch_count"`
		MessageWindowDays int    `yaml:"message_window_days"`
	} `yaml:"sync"`
	Audit struct {
		RetentionDays int    `yaml:"retention_days"`
		CleanupCron   string `yaml:"cleanup_cron"`
	} `yaml:"audit"`
	Events struct {
		Enabled  bool   `yaml:"enabled"`
		AMQPURL  string `yaml:"amqp_url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"events"`
	Notifier struct {
		Enabled          bool   `yaml:"enabled"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		AdminChatID      int64  `yaml:"admin_chat_id"`
	} `yaml:"notifier"`
}

// LoadConfig reads configuration from the specified YAML file.
// ${VAR} references are expanded from the environment before decoding.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "whapi"
	}
	if c.Providers.MaxRetries <= 0 {
		c.Providers.MaxRetries = 3
	}
	if c.Providers.RetryDelayMs <= 0 {
		c.Providers.RetryDelayMs = 1000
	}
	if c.Providers.RateLimitRPS <= 0 {
		c.Providers.RateLimitRPS = 5
	}
	if c.Providers.RateLimitBurst <= 0 {
		c.Providers.RateLimitBurst = 10
	}
	if c.Sync.Cron == "" {
		c.Sync.Cron = "*/30 * * * *"
	}
	if c.Sync.MessageBatchCount <= 0 {
		c.Sync.MessageBatchCount = 50
	}
	if c.Sync.MessageWindowDays <= 0 {
		c.Sync.MessageWindowDays = 30
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Audit.CleanupCron == "" {
		c.Audit.CleanupCron = "0 3 * * *"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "whatsapp.events"
	}
}
