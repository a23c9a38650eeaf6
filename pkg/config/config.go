package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all client configuration
type Config struct {
	// Gateway server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Remote booking API
	API struct {
		BaseURL         string
		Timeout         time.Duration
		Conversations   string
		MessagesPrimary string
		MessagesAlt     string
		MessagesLegacy  string
		MarkSeen        string
		SendMessage     string
		DeleteConv      string
		Login           string
		UploadFolder    string
		Greeting        string
	}

	// Session persistence
	Session struct {
		Backend  string // file, redis or memory
		FilePath string
		RedisKey string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	// Synchronization tuning
	Sync struct {
		UnreadConcurrency   int
		BreakerThreshold    uint
		BreakerCoolDown     time.Duration
		BreakerSuccessProbe uint
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	Logging struct {
		Level  string
		Format string
	}

	Observability struct {
		Tracing bool
	}

	// View cache settings
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load builds a fresh Config from the current environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8090")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

	cfg.API.BaseURL = strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:5000"), "/")
	cfg.API.Timeout = getEnvDuration("API_TIMEOUT", 15*time.Second)
	cfg.API.Conversations = getEnvString("API_PATH_CONVERSATIONS", "/api/conversations")
	cfg.API.MessagesPrimary = getEnvString("API_PATH_MESSAGES", "/api/messages/conversation/{id}")
	cfg.API.MessagesAlt = getEnvString("API_PATH_MESSAGES_ALT", "/api/conversations/{id}/messages")
	cfg.API.MessagesLegacy = getEnvString("API_PATH_MESSAGES_LEGACY", "/api/messages/{id}")
	cfg.API.MarkSeen = getEnvString("API_PATH_MARK_SEEN", "/api/conversations/{id}/seen")
	cfg.API.SendMessage = getEnvString("API_PATH_SEND", "/api/messages/send")
	cfg.API.DeleteConv = getEnvString("API_PATH_DELETE_CONVERSATION", "/api/conversations/{id}")
	cfg.API.Login = getEnvString("API_PATH_LOGIN", "/api/auth/login")
	cfg.API.UploadFolder = getEnvString("API_UPLOAD_FOLDER", "messages")
	cfg.API.Greeting = getEnvString("INBOX_GREETING", "Hi!")

	cfg.Session.Backend = getEnvString("SESSION_BACKEND", "file")
	cfg.Session.FilePath = getEnvString("SESSION_FILE", defaultSessionFile())
	cfg.Session.RedisKey = getEnvString("SESSION_REDIS_KEY", "inbox:session")

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "inbox-client")

	cfg.Sync.UnreadConcurrency = getEnvInt("UNREAD_CONCURRENCY", 4)
	cfg.Sync.BreakerThreshold = uint(getEnvInt("BREAKER_THRESHOLD", 5))
	cfg.Sync.BreakerCoolDown = getEnvDuration("BREAKER_COOLDOWN", 30*time.Second)
	cfg.Sync.BreakerSuccessProbe = uint(getEnvInt("BREAKER_SUCCESS_PROBE", 1))

	cfg.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 20))
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Observability.Tracing = getEnvBool("TRACING_ENABLED", false)

	cfg.Cache.TTL = getEnvDuration("VIEW_TTL", 30*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("VIEW_MAX", 256)
	cfg.Cache.PurgeWindow = getEnvDuration("VIEW_PURGE_WINDOW", 5*time.Minute)

	return cfg
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".inbox-session.json"
	}
	return dir + string(os.PathSeparator) + "inbox-client" + string(os.PathSeparator) + "session.json"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
