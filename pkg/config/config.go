package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	ServiceName string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Crypto        CryptoConfig
	Workflow      WorkflowConfig
	Sweeper       SweeperConfig
	LoginLimit    LoginLimitConfig
	Notifications NotificationConfig
	Evidence      EvidenceConfig
	Analytics     AnalyticsConfig
	Tracing       TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CryptoConfig holds the field encryption key material. Keys are hex or base64.
type CryptoConfig struct {
	FieldKey          string
	PreviousFieldKeys []string
}

// WorkflowConfig sets the documentation deadlines applied after a claim.
type WorkflowConfig struct {
	InitialReportWindow time.Duration
	FinalReportWindow   time.Duration
}

// SweeperConfig drives the deadline reminder loop.
type SweeperConfig struct {
	Enabled          bool
	Interval         time.Duration
	Lookahead        time.Duration
	Concurrency      int
	DistributedLock  bool
	LockTTL          time.Duration
	DedupeReminders  bool
	ReminderTemplate string
}

// LoginLimitConfig bounds failed login attempts per client in a sliding window.
type LoginLimitConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// NotificationConfig tunes the dispatcher worker queue.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// EvidenceConfig points at the directory evidence references resolve against.
type EvidenceConfig struct {
	Enabled bool
	BaseDir string
	// MaxUploadBytes caps a single uploaded attachment.
	MaxUploadBytes int64
	MaxFiles       int
}

// AnalyticsConfig controls the Redis cache in front of the aggregate queries.
type AnalyticsConfig struct {
	CacheEnabled bool
	OverviewTTL  time.Duration
	RatingsTTL   time.Duration
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	SampleRatio float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.ServiceName = v.GetString("SERVICE_NAME")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Crypto = CryptoConfig{
		FieldKey:          v.GetString("FIELD_ENCRYPTION_KEY"),
		PreviousFieldKeys: splitAndTrim(v.GetString("FIELD_ENCRYPTION_PREVIOUS_KEYS")),
	}

	cfg.Workflow = WorkflowConfig{
		InitialReportWindow: parseDuration(v.GetString("WORKFLOW_INITIAL_REPORT_WINDOW"), 24*time.Hour),
		FinalReportWindow:   parseDuration(v.GetString("WORKFLOW_FINAL_REPORT_WINDOW"), 48*time.Hour),
	}

	concurrency := v.GetInt("SWEEPER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 4
	}
	cfg.Sweeper = SweeperConfig{
		Enabled:          v.GetBool("ENABLE_DEADLINE_SWEEPER"),
		Interval:         parseDuration(v.GetString("SWEEPER_INTERVAL"), time.Hour),
		Lookahead:        parseDuration(v.GetString("SWEEPER_LOOKAHEAD"), 6*time.Hour),
		Concurrency:      concurrency,
		DistributedLock:  v.GetBool("SWEEPER_DISTRIBUTED_LOCK"),
		LockTTL:          parseDuration(v.GetString("SWEEPER_LOCK_TTL"), 10*time.Minute),
		DedupeReminders:  v.GetBool("SWEEPER_DEDUPE_REMINDERS"),
		ReminderTemplate: v.GetString("SWEEPER_REMINDER_TEMPLATE"),
	}

	cfg.LoginLimit = LoginLimitConfig{
		Enabled:     v.GetBool("ENABLE_LOGIN_RATE_LIMIT"),
		MaxAttempts: v.GetInt("LOGIN_MAX_ATTEMPTS"),
		Window:      parseDuration(v.GetString("LOGIN_ATTEMPT_WINDOW"), 15*time.Minute),
	}

	cfg.Notifications = NotificationConfig{
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		BufferSize: v.GetInt("NOTIFICATION_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Evidence = EvidenceConfig{
		Enabled:        v.GetBool("ENABLE_EVIDENCE_CHECK"),
		BaseDir:        v.GetString("EVIDENCE_DIR"),
		MaxUploadBytes: v.GetInt64("EVIDENCE_MAX_UPLOAD_BYTES"),
		MaxFiles:       v.GetInt("EVIDENCE_MAX_FILES"),
	}

	cfg.Analytics = AnalyticsConfig{
		CacheEnabled: v.GetBool("ENABLE_ANALYTICS_CACHE"),
		OverviewTTL:  parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 5*time.Minute),
		RatingsTTL:   parseDuration(v.GetString("ANALYTICS_RATINGS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Tracing = TracingConfig{
		Enabled:     v.GetBool("ENABLE_TRACING"),
		Exporter:    strings.ToLower(v.GetString("TRACING_EXPORTER")),
		Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRatio: v.GetFloat64("TRACING_SAMPLE_RATIO"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("SERVICE_NAME", "sos-safeguard-api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sos_safeguard")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "sos-safeguard-api")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FIELD_ENCRYPTION_KEY", "")
	v.SetDefault("FIELD_ENCRYPTION_PREVIOUS_KEYS", "")

	v.SetDefault("WORKFLOW_INITIAL_REPORT_WINDOW", "24h")
	v.SetDefault("WORKFLOW_FINAL_REPORT_WINDOW", "48h")

	v.SetDefault("ENABLE_DEADLINE_SWEEPER", true)
	v.SetDefault("SWEEPER_INTERVAL", "1h")
	v.SetDefault("SWEEPER_LOOKAHEAD", "6h")
	v.SetDefault("SWEEPER_CONCURRENCY", 4)
	v.SetDefault("SWEEPER_DISTRIBUTED_LOCK", true)
	v.SetDefault("SWEEPER_LOCK_TTL", "10m")
	v.SetDefault("SWEEPER_DEDUPE_REMINDERS", false)
	v.SetDefault("SWEEPER_REMINDER_TEMPLATE", "DEADLINE_REMINDER")

	v.SetDefault("ENABLE_LOGIN_RATE_LIMIT", true)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_ATTEMPT_WINDOW", "15m")

	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "2s")

	v.SetDefault("ENABLE_EVIDENCE_CHECK", false)
	v.SetDefault("EVIDENCE_DIR", "./evidence")
	v.SetDefault("EVIDENCE_MAX_UPLOAD_BYTES", 50<<20)
	v.SetDefault("EVIDENCE_MAX_FILES", 5)

	v.SetDefault("ENABLE_ANALYTICS_CACHE", true)
	v.SetDefault("ANALYTICS_CACHE_TTL", "5m")
	v.SetDefault("ANALYTICS_RATINGS_CACHE_TTL", "10m")

	v.SetDefault("ENABLE_TRACING", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
