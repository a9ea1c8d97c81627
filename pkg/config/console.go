package config

import "time"

// Session store backends.
const (
	SessionStoreFile  = "file"
	SessionStoreRedis = "redis"
)

// ConsoleConfig holds runtime configuration for the faasdeck console.
type ConsoleConfig struct {
	Environment       string
	GatewayURL        string
	RequestTimeout    time.Duration
	InactivityTimeout time.Duration
	HistoryLimit      int
	StreamBackoff     time.Duration
	PollInterval      time.Duration
	SessionStore      string
	SessionPath       string
	SessionKey        string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
}

// LoadConsoleConfig constructs a ConsoleConfig from environment variables.
func LoadConsoleConfig() ConsoleConfig {
	cfg := ConsoleConfig{
		Environment:       GetString("APP_ENV", "development"),
		GatewayURL:        GetString("FAAS_GATEWAY_URL", "http://localhost:8080"),
		RequestTimeout:    GetDuration("GATEWAY_TIMEOUT_SECONDS", 15*time.Second, time.Second),
		InactivityTimeout: GetDuration("FAASDECK_INACTIVITY_MINUTES", 30*time.Minute, time.Minute),
		HistoryLimit:      GetInt("BUILD_HISTORY_LIMIT", 50),
		StreamBackoff:     GetDuration("BUILD_STREAM_BACKOFF_MS", 3000*time.Millisecond, time.Millisecond),
		PollInterval:      GetDuration("BUILD_POLL_SECONDS", 30*time.Second, time.Second),
		SessionStore:      GetString("FAASDECK_SESSION_STORE", SessionStoreFile),
		SessionPath:       GetString("FAASDECK_SESSION_PATH", ""),
		SessionKey:        GetString("FAASDECK_SESSION_KEY", ""),
		RedisAddr:         GetString("FAASDECK_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     GetString("FAASDECK_REDIS_PASSWORD", ""),
		RedisDB:           GetInt("FAASDECK_REDIS_DB", 0),
		LogLevel:          GetString("LOG_LEVEL", "warn"),
		LogFormat:         GetString("LOG_FORMAT", "text"),
		MetricsAddr:       GetString("FAASDECK_METRICS_ADDR", ""),
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return cfg
}
