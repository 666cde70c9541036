package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ExpandsEnvAndFillsDefaults(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://u:p@localhost/wa")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
database:
  url: "${TEST_DB_URL}"
providers:
  whapi:
    base_url: "https://gate.example"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost/wa", cfg.Database.URL)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "whapi", cfg.Providers.Default)
	assert.Equal(t, 3, cfg.Providers.MaxRetries)
	assert.Equal(t, "https://gate.example", cfg.Providers.Whapi.BaseURL)
	assert.Equal(t, "*/30 * * * *", cfg.Sync.Cron)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
