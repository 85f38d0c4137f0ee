package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Chain        ChainConfig
	Escrow       EscrowConfig
	Idempotency  IdempotencyConfig
	Cron         CronConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Hooks        HooksConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Idempotency.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BAZARI_APP_ENV" required:"true"`
	Port         string `envconfig:"BAZARI_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BAZARI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BAZARI_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"BAZARI_CORS_ORIGINS" default:"http://localhost:3000"`

	// Chain-touching requests allowed per subject per RateLimitWindow; 0 disables.
	RateLimitPerWindow int           `envconfig:"BAZARI_RATE_LIMIT_PER_WINDOW" default:"60"`
	RateLimitWindow    time.Duration `envconfig:"BAZARI_RATE_LIMIT_WINDOW" default:"1m"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"BAZARI_SERVICE_KIND" default:"api"`
	// Workers expose /metrics on this address when set, e.g. ":9090".
	MetricsAddr string `envconfig:"BAZARI_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"BAZARI_DB_DSN"`
	Driver string `envconfig:"BAZARI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BAZARI_DB_HOST"`
	LegacyPort     int    `envconfig:"BAZARI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BAZARI_DB_USER"`
	LegacyPassword string `envconfig:"BAZARI_DB_PASSWORD"`
	LegacyName     string `envconfig:"BAZARI_DB_NAME"`
	LegacySSLMode  string `envconfig:"BAZARI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BAZARI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BAZARI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BAZARI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BAZARI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// Startup pings before giving up; the first retry waits 250ms and each
	// later one doubles.
	ConnectAttempts uint64 `envconfig:"BAZARI_DB_CONNECT_ATTEMPTS" default:"5"`
	// Statements slower than this are logged at warn; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"BAZARI_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BAZARI_REDIS_URL"`
	Address      string        `envconfig:"BAZARI_REDIS_ADDR"`
	Password     string        `envconfig:"BAZARI_REDIS_PASSWORD"`
	DB           int           `envconfig:"BAZARI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BAZARI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BAZARI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BAZARI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BAZARI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BAZARI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was supplied.
func (r RedisConfig) Configured() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret string `envconfig:"BAZARI_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BAZARI_JWT_ISSUER" required:"true"`
	// Audience, when set, must appear in the token's aud claim.
	Audience string        `envconfig:"BAZARI_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"BAZARI_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BAZARI_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BAZARI_AUTO_MIGRATE" default:"false"`
}

// ChainConfig points at the node bridge that exposes escrow, council and dispute state.
type ChainConfig struct {
	RPCURL            string        `envconfig:"BAZARI_CHAIN_RPC_URL" required:"true"`
	RequestTimeout    time.Duration `envconfig:"BAZARI_CHAIN_REQUEST_TIMEOUT" default:"10s"`
	InclusionTimeout  time.Duration `envconfig:"BAZARI_CHAIN_INCLUSION_TIMEOUT" default:"60s"`
	PollInterval      time.Duration `envconfig:"BAZARI_CHAIN_POLL_INTERVAL" default:"2s"`
	MaxRetries        int           `envconfig:"BAZARI_CHAIN_MAX_RETRIES" default:"5"`
	EscrowAccount     string        `envconfig:"BAZARI_CHAIN_ESCROW_ACCOUNT" required:"true"`
	RegistrationGrace time.Duration `envconfig:"BAZARI_CHAIN_REGISTRATION_GRACE" default:"5m"`
}

type EscrowConfig struct {
	FeeBasisPoints     int64         `envconfig:"BAZARI_ESCROW_FEE_BPS" default:"250"`
	UrgentBlocks       int64         `envconfig:"BAZARI_ESCROW_URGENT_BLOCKS" default:"14400"`
	MaxSellersPerOrder int           `envconfig:"BAZARI_ESCROW_MAX_SELLERS_PER_ORDER" default:"1"`
	SessionTTL         time.Duration `envconfig:"BAZARI_CHECKOUT_SESSION_TTL" default:"30m"`
}

type IdempotencyConfig struct {
	Backend string        `envconfig:"BAZARI_IDEMPOTENCY_BACKEND" default:"redis"`
	TTL     time.Duration `envconfig:"BAZARI_IDEMPOTENCY_TTL" default:"24h"`
	// Lease overrides the reservation lease derived from the chain timeouts.
	Lease time.Duration `envconfig:"BAZARI_IDEMPOTENCY_LEASE"`
}

// IdempotencyLease is how long a reserved key stays pending before another
// request may take it over. Unless set explicitly it covers a full
// inclusion wait plus the chain round trips around it.
func (c *Config) IdempotencyLease() time.Duration {
	if c.Idempotency.Lease > 0 {
		return c.Idempotency.Lease
	}
	return c.Chain.InclusionTimeout + 3*c.Chain.RequestTimeout
}

func (i IdempotencyConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Backend)) {
	case IdempotencyBackendRedis, IdempotencyBackendMemory:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvIdempotencyBackend, IdempotencyBackendRedis, IdempotencyBackendMemory)
	}
}

// UsesRedis reports whether the shared store was selected.
func (i IdempotencyConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(i.Backend), IdempotencyBackendRedis)
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"BAZARI_CRON_INTERVAL" default:"1m"`
	BatchSize int           `envconfig:"BAZARI_CRON_BATCH_SIZE" default:"100"`
	// Deadline for a single job within a cycle; 0 leaves jobs unbounded.
	JobTimeout time.Duration `envconfig:"BAZARI_CRON_JOB_TIMEOUT" default:"2m"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BAZARI_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	ClaimLease           time.Duration `envconfig:"BAZARI_EVENTING_CLAIM_LEASE" default:"5m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BAZARI_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BAZARI_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BAZARI_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"BAZARI_PUBSUB_SETTLEMENT_TOPIC" default:"bazari-settlement-events"`
	SettlementSubscription string `envconfig:"BAZARI_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"bazari-settlement-hooks"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BAZARI_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BAZARI_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BAZARI_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"BAZARI_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"BAZARI_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

// HooksConfig lists the downstream collaborators notified after settlement events.
type HooksConfig struct {
	ReputationURL string        `envconfig:"BAZARI_HOOKS_REPUTATION_URL"`
	RewardsURL    string        `envconfig:"BAZARI_HOOKS_REWARDS_URL"`
	ProfilesURL   string        `envconfig:"BAZARI_HOOKS_PROFILES_URL"`
	DeliveryURL   string        `envconfig:"BAZARI_HOOKS_DELIVERY_URL"`
	Timeout       time.Duration `envconfig:"BAZARI_HOOKS_TIMEOUT" default:"5s"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = defaultSQLiteDSN
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
