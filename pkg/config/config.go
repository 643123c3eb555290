package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "CHATACCESS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "CHATACCESS_APP_ENV"
	EnvPort     = "CHATACCESS_APP_PORT"
	EnvDBDSN    = "CHATACCESS_DB_DSN"
	EnvDBHost   = "CHATACCESS_DB_HOST"
	EnvDBUser   = "CHATACCESS_DB_USER"
	EnvDBName   = "CHATACCESS_DB_NAME"
	EnvRedisURL = "CHATACCESS_REDIS_URL"

	EnvJWTSecret  = "CHATACCESS_JWT_SECRET"
	EnvJWTIssuer  = "CHATACCESS_JWT_ISSUER"
	EnvJWTExpMins = "CHATACCESS_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID       = "CHATACCESS_GCP_PROJECT_ID"
	EnvPubSubMailTopic    = "CHATACCESS_PUBSUB_MAIL_TOPIC"
	EnvPubSubMailSub      = "CHATACCESS_PUBSUB_MAIL_SUBSCRIPTION"
	EnvMailFrom           = "CHATACCESS_MAIL_FROM_EMAIL"
	EnvMailAdmin          = "CHATACCESS_MAIL_ADMIN_EMAIL"
	EnvMailProvider       = "CHATACCESS_MAIL_PROVIDER"
	EnvLinksAdminBaseURL  = "CHATACCESS_ADMIN_BASE_URL"
	EnvLinksChatBaseURL   = "CHATACCESS_CHAT_BASE_URL"
	EnvSendgridAPIKey     = "CHATACCESS_SENDGRID_API_KEY"
	EnvMetricsWorkerPort  = "CHATACCESS_WORKER_METRICS_PORT"
	EnvSubmitRateLimitWin = "CHATACCESS_SUBMIT_RATE_LIMIT_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
	Mail         MailConfig
	Links        LinksConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Mail.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadJWT reads only the token settings, for tools that mint tokens without
// the rest of the runtime configuration.
func LoadJWT() (JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CHATACCESS_APP_ENV" required:"true"`
	Port         string   `envconfig:"CHATACCESS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CHATACCESS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CHATACCESS_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CHATACCESS_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind              string `envconfig:"CHATACCESS_SERVICE_KIND" default:"api"`
	WorkerMetricsPort string `envconfig:"CHATACCESS_WORKER_METRICS_PORT" default:"9091"`
}

type DBConfig struct {
	DSN string `envconfig:"CHATACCESS_DB_DSN"`

	LegacyHost     string `envconfig:"CHATACCESS_DB_HOST"`
	LegacyPort     int    `envconfig:"CHATACCESS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHATACCESS_DB_USER"`
	LegacyPassword string `envconfig:"CHATACCESS_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHATACCESS_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHATACCESS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHATACCESS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHATACCESS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHATACCESS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHATACCESS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CHATACCESS_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHATACCESS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHATACCESS_REDIS_ADDR"`
	Password     string        `envconfig:"CHATACCESS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHATACCESS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHATACCESS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHATACCESS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHATACCESS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHATACCESS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHATACCESS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CHATACCESS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CHATACCESS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CHATACCESS_JWT_EXPIRATION_MINUTES" required:"true"`
}

// RateLimitConfig covers the public submission limits (Redis fixed window) and
// the per-instance admin API token bucket.
type RateLimitConfig struct {
	SubmitWindow     time.Duration `envconfig:"CHATACCESS_SUBMIT_RATE_LIMIT_WINDOW" default:"10m"`
	SubmitIPLimit    int           `envconfig:"CHATACCESS_SUBMIT_RATE_LIMIT_IP_LIMIT" default:"10"`
	SubmitEmailLimit int           `envconfig:"CHATACCESS_SUBMIT_RATE_LIMIT_EMAIL_LIMIT" default:"3"`
	AdminRPS         float64       `envconfig:"CHATACCESS_ADMIN_RATE_LIMIT_RPS" default:"20"`
	AdminBurst       int           `envconfig:"CHATACCESS_ADMIN_RATE_LIMIT_BURST" default:"40"`
	// KeySecret keys the email fingerprints stored in Redis. Falls back to
	// the JWT secret when empty.
	KeySecret string `envconfig:"CHATACCESS_RATE_LIMIT_KEY_SECRET"`
	// TrustedProxies are CIDRs whose X-Forwarded-For hops are believed when
	// keying the per-IP submit window. Empty keys on the TCP peer.
	TrustedProxies []string `envconfig:"CHATACCESS_TRUSTED_PROXIES"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CHATACCESS_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	MailIdempotencyTTL   time.Duration `envconfig:"CHATACCESS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ActionIdempotencyTTL time.Duration `envconfig:"CHATACCESS_ACTION_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CHATACCESS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CHATACCESS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CHATACCESS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	MailTopic        string `envconfig:"CHATACCESS_PUBSUB_MAIL_TOPIC" default:"chat-access-mail"`
	MailSubscription string `envconfig:"CHATACCESS_PUBSUB_MAIL_SUBSCRIPTION" default:"chat-access-mail-worker"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CHATACCESS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CHATACCESS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHATACCESS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// MaintenanceConfig drives the cron worker's retention and backlog jobs.
type MaintenanceConfig struct {
	Interval        time.Duration `envconfig:"CHATACCESS_MAINTENANCE_INTERVAL" default:"1h"`
	JobTimeout      time.Duration `envconfig:"CHATACCESS_MAINTENANCE_JOB_TIMEOUT" default:"5m"`
	OutboxRetention time.Duration `envconfig:"CHATACCESS_OUTBOX_RETENTION" default:"720h"`
	DLQRetention    time.Duration `envconfig:"CHATACCESS_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

const (
	MailProviderSendgrid = "sendgrid"
	MailProviderLog      = "log"
)

type MailConfig struct {
	Provider       string `envconfig:"CHATACCESS_MAIL_PROVIDER" default:"log"`
	FromEmail      string `envconfig:"CHATACCESS_MAIL_FROM_EMAIL" required:"true"`
	AdminEmail     string `envconfig:"CHATACCESS_MAIL_ADMIN_EMAIL"`
	SendgridAPIKey string `envconfig:"CHATACCESS_SENDGRID_API_KEY"`
}

// AdminRecipient returns the address that receives new-request notices.
func (m MailConfig) AdminRecipient() string {
	if admin := strings.TrimSpace(m.AdminEmail); admin != "" {
		return admin
	}
	return strings.TrimSpace(m.FromEmail)
}

func (m MailConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(m.Provider)) {
	case MailProviderLog:
		return nil
	case MailProviderSendgrid:
		if strings.TrimSpace(m.SendgridAPIKey) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvSendgridAPIKey, EnvMailProvider, MailProviderSendgrid)
		}
		return nil
	default:
		return fmt.Errorf("unsupported mail provider %q", m.Provider)
	}
}

type LinksConfig struct {
	AdminBaseURL string `envconfig:"CHATACCESS_ADMIN_BASE_URL" default:"http://localhost:8080/admin"`
	ChatBaseURL  string `envconfig:"CHATACCESS_CHAT_BASE_URL" default:"http://localhost:3000/chat"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
