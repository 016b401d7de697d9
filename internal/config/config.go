package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	BaseURL     string
	HTTPPort    string

	AuthCookieSecure bool
	AuthTokenSecret  string
	AdminEmail       string

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBLogLevel        string
	DBSlowQueryMS     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimit RateLimitConfig

	SMTP SMTPConfig

	Credits CreditsConfig

	SchedulerEnabled      bool
	SchedulerDisabledJobs []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether outbound email is configured.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// TelemetryConfig covers logs, traces and OTLP metrics.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// RateLimitConfig rates are tokens per second.
type RateLimitConfig struct {
	SpendRate      float64
	SpendBurst     int
	MagicLinkRate  float64
	MagicLinkBurst int
}

type CreditsConfig struct {
	ConfigFile       string
	SpendStrategy    string
	PageSize         int
	RenewalSchedule  string
	RenewalPeriodDay int
}

const (
	SpendStrategyGuarded    = "guarded"
	SpendStrategyCompensate = "compensate"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("APP_ENV", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("SESSION_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:           getenv("APP_NAME", "creditkit"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		BaseURL:           strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		HTTPPort:          getenv("HTTP_PORT", "8080"),
		AuthCookieSecure:  authCookieSecure,
		AuthTokenSecret:   strings.TrimSpace(getenv("AUTH_TOKEN_SECRET", "")),
		AdminEmail:        strings.ToLower(strings.TrimSpace(getenv("ADMIN_EMAIL", ""))),
		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "creditkit"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DB_MAX_IDLE_CONNS", 10)),
		DBMaxOpenConn:     int(getenvInt64("DB_MAX_OPEN_CONNS", 50)),
		DBConnMaxLifetime: int(getenvInt64("DB_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DB_CONN_MAX_IDLE_TIME", 60)),
		DBLogLevel:        getenv("DB_LOG_LEVEL", "warn"),
		DBSlowQueryMS:     int(getenvInt64("DB_SLOW_QUERY_MS", 200)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEnabled:   getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		RateLimit: RateLimitConfig{
			SpendRate:      getenvFloat("RATE_LIMIT_SPEND_RATE", 5),
			SpendBurst:     int(getenvInt64("RATE_LIMIT_SPEND_BURST", 20)),
			MagicLinkRate:  getenvFloat("RATE_LIMIT_MAGIC_LINK_RATE", 0.1),
			MagicLinkBurst: int(getenvInt64("RATE_LIMIT_MAGIC_LINK_BURST", 5)),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     int(getenvInt64("SMTP_PORT", 587)),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@localhost"),
		},
		Credits: CreditsConfig{
			ConfigFile:       strings.TrimSpace(getenv("CREDITS_CONFIG_FILE", "")),
			SpendStrategy:    normalizeSpendStrategy(getenv("CREDITS_SPEND_STRATEGY", SpendStrategyGuarded)),
			PageSize:         int(getenvInt64("CREDITS_PAGE_SIZE", 20)),
			RenewalSchedule:  getenv("CREDITS_RENEWAL_SCHEDULE", "@monthly"),
			RenewalPeriodDay: int(getenvInt64("CREDITS_RENEWAL_PERIOD_DAYS", 30)),
		},
		SchedulerEnabled:      getenvBool("SCHEDULER_ENABLED", true),
		SchedulerDisabledJobs: getenvList("SCHEDULER_DISABLED_JOBS"),
	}
	if cfg.Credits.PageSize <= 0 {
		cfg.Credits.PageSize = 20
	}
	if cfg.Credits.RenewalPeriodDay <= 0 {
		cfg.Credits.RenewalPeriodDay = 30
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeSpendStrategy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case SpendStrategyCompensate:
		return SpendStrategyCompensate
	default:
		return SpendStrategyGuarded
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
