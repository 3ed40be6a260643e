package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ModerationGemini = "gemini"
	ModerationOpenAI = "openai"
)

// ErrDriveNotConfigured is wrapped by DriveConfigError when the Drive
// integration cannot be used.
var ErrDriveNotConfigured = errors.New("drive integration is not configured")

type Config struct {
	AppEnv   string
	HTTPPort string
	LogLevel string

	GeminiAPIKey    string
	ChatModel       string
	ModerationModel string
	EmbeddingModel  string

	ModerationProvider string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string

	GoogleCredentialsFile     string
	GoogleServiceAccountEmail string
	GooglePrivateKey          string
	DriveFolderID             string
	DriveRequestsPerSecond    int
	DriveConcurrency          int

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret     string
	SlackBotToken string
	SlackChannel  string

	AllowedOrigins []string

	MaxImages           int
	GenerationRetries   int
	ModerationRetries   int
	ModerationBaseDelay time.Duration
	KnowledgeCacheTTL   time.Duration
	SessionTTL          time.Duration
	MaxContextChars     int
	StructuredOutput    bool
	HeadlessResolve     bool
	ProbeImages         bool
	DirectURLTTL        time.Duration
	ChromePath          string
}

// LoadConfig reads .env (if present) and the process environment.
// Missing Drive settings are not an error here; see DriveConfigError.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	cfg := &Config{
		AppEnv:   strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		ChatModel:       getEnv("CHAT_MODEL", "gemini-1.5-flash-latest"),
		ModerationModel: getEnv("MODERATION_MODEL", "gemini-1.5-flash-latest"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-004"),

		ModerationProvider: strings.ToLower(getEnv("MODERATION_PROVIDER", ModerationGemini)),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnv("OPENAI_MODERATION_MODEL", "omni-moderation-latest"),

		GoogleCredentialsFile:     getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleServiceAccountEmail: getEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL", ""),
		GooglePrivateKey:          getEnv("GOOGLE_PRIVATE_KEY", ""),
		DriveFolderID:             getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
		DriveRequestsPerSecond:    getEnvAsInt("DRIVE_REQUESTS_PER_SECOND", 10),
		DriveConcurrency:          getEnvAsInt("DRIVE_CONCURRENCY", 4),

		DatabaseURL:   getEnv("DATABASE_URL", "file:tickets?mode=memory&cache=shared"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		SlackBotToken: getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:  getEnv("SLACK_CHANNEL", ""),

		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		MaxImages:           getEnvAsInt("MAX_IMAGES", 3),
		GenerationRetries:   getEnvAsInt("GENERATION_RETRIES", 0),
		ModerationRetries:   getEnvAsInt("MODERATION_RETRIES", 3),
		ModerationBaseDelay: getEnvAsDuration("MODERATION_BASE_DELAY", time.Second),
		KnowledgeCacheTTL:   getEnvAsDuration("KNOWLEDGE_CACHE_TTL", 5*time.Minute),
		SessionTTL:          getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		MaxContextChars:     getEnvAsInt("MAX_CONTEXT_CHARS", 60000),
		StructuredOutput:    getEnvAsBool("STRUCTURED_OUTPUT", false),
		HeadlessResolve:     getEnvAsBool("HEADLESS_RESOLVE", true),
		ProbeImages:         getEnvAsBool("PROBE_IMAGES", false),
		DirectURLTTL:        getEnvAsDuration("DIRECT_URL_TTL", 24*time.Hour),
		ChromePath:          getEnv("CHROME_PATH", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppEnv != EnvDevelopment && c.AppEnv != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.AppEnv)
	}
	if c.ModerationProvider != ModerationGemini && c.ModerationProvider != ModerationOpenAI {
		return fmt.Errorf("MODERATION_PROVIDER must be %q or %q, got %q", ModerationGemini, ModerationOpenAI, c.ModerationProvider)
	}
	if c.MaxImages < 0 {
		return fmt.Errorf("MAX_IMAGES cannot be negative")
	}
	if c.ModerationRetries < 0 || c.GenerationRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// DriveConfigError reports which Drive settings are missing, or nil.
func (c *Config) DriveConfigError() error {
	var missing []string
	if c.GoogleCredentialsFile == "" && (c.GoogleServiceAccountEmail == "" || c.GooglePrivateKey == "") {
		missing = append(missing, "GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_SERVICE_ACCOUNT_EMAIL/GOOGLE_PRIVATE_KEY")
	}
	if c.DriveFolderID == "" {
		missing = append(missing, "GOOGLE_DRIVE_FOLDER_ID")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrDriveNotConfigured, strings.Join(missing, ", "))
}

// MockDrive is true when development mode should fall back to the
// built-in sample folder.
func (c *Config) MockDrive() bool {
	return !c.IsProduction() && c.DriveConfigError() != nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
