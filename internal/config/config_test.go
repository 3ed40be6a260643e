package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearDriveEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_SERVICE_ACCOUNT_EMAIL",
		"GOOGLE_PRIVATE_KEY", "GOOGLE_DRIVE_FOLDER_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearDriveEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("MAX_IMAGES", "")
	t.Setenv("MODERATION_RETRIES", "")
	t.Setenv("MODERATION_BASE_DELAY", "")
	t.Setenv("MODERATION_PROVIDER", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxImages)
	assert.Equal(t, 3, cfg.ModerationRetries)
	assert.Equal(t, time.Second, cfg.ModerationBaseDelay)
	assert.Equal(t, ModerationGemini, cfg.ModerationProvider)
	assert.True(t, cfg.MockDrive())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("MAX_IMAGES", "0")
	t.Setenv("GENERATION_RETRIES", "2")
	t.Setenv("KNOWLEDGE_CACHE_TTL", "90s")
	t.Setenv("STRUCTURED_OUTPUT", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MODERATION_PROVIDER", "openai")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 0, cfg.MaxImages)
	assert.Equal(t, 2, cfg.GenerationRetries)
	assert.Equal(t, 90*time.Second, cfg.KnowledgeCacheTTL)
	assert.True(t, cfg.StructuredOutput)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, ModerationOpenAI, cfg.ModerationProvider)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("APP_ENV", "development")
	t.Setenv("MODERATION_PROVIDER", "acme")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestDriveConfigError(t *testing.T) {
	cfg := &Config{AppEnv: EnvProduction}
	err := cfg.DriveConfigError()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDriveNotConfigured))
	assert.Contains(t, err.Error(), "GOOGLE_DRIVE_FOLDER_ID")
	assert.False(t, cfg.MockDrive(), "production never falls back to the mock drive")

	cfg.GoogleServiceAccountEmail = "svc@example.iam.gserviceaccount.com"
	cfg.GooglePrivateKey = "key"
	cfg.DriveFolderID = "folder"
	assert.NoError(t, cfg.DriveConfigError())

	cfg.GooglePrivateKey = ""
	cfg.GoogleCredentialsFile = "/etc/creds.json"
	assert.NoError(t, cfg.DriveConfigError())
}
