package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Orders        OrdersConfig
	GroupBuy      GroupBuyConfig
	Settlement    SettlementConfig
	WechatPay     WechatPayConfig
	Cron          CronConfig
	Observability ObservabilityConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOYALTYHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"LOYALTYHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LOYALTYHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOYALTYHUB_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow-list for browser clients.
	CORSOrigins []string `envconfig:"LOYALTYHUB_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOYALTYHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LOYALTYHUB_DB_DSN"`
	Driver string `envconfig:"LOYALTYHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOYALTYHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"LOYALTYHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOYALTYHUB_DB_USER"`
	LegacyPassword string `envconfig:"LOYALTYHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOYALTYHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOYALTYHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOYALTYHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOYALTYHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOYALTYHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOYALTYHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"LOYALTYHUB_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOYALTYHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOYALTYHUB_REDIS_ADDR"`
	Password     string        `envconfig:"LOYALTYHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOYALTYHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOYALTYHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOYALTYHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOYALTYHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOYALTYHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOYALTYHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig only covers verification; tokens are minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"LOYALTYHUB_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"LOYALTYHUB_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOYALTYHUB_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"LOYALTYHUB_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"LOYALTYHUB_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LOYALTYHUB_GCP_PROJECT_ID" required:"true"`
	ApplicationCredentials string `envconfig:"LOYALTYHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic          string `envconfig:"LOYALTYHUB_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription   string `envconfig:"LOYALTYHUB_PUBSUB_DOMAIN_SUBSCRIPTION"`
	PaymentsTopic        string `envconfig:"LOYALTYHUB_PUBSUB_PAYMENTS_TOPIC" required:"true"`
	PaymentsSubscription string `envconfig:"LOYALTYHUB_PUBSUB_PAYMENTS_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LOYALTYHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LOYALTYHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LOYALTYHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LOYALTYHUB_OUTBOX_RETENTION_DAYS" default:"30"`
}

type OrdersConfig struct {
	PendingTimeout time.Duration `envconfig:"LOYALTYHUB_ORDERS_PENDING_TIMEOUT" default:"15m"`
	SweepBatchSize int           `envconfig:"LOYALTYHUB_ORDERS_SWEEP_BATCH_SIZE" default:"200"`
	NumberPrefix   string        `envconfig:"LOYALTYHUB_ORDERS_NUMBER_PREFIX" default:"LH"`
	SnowflakeNode  int64         `envconfig:"LOYALTYHUB_SNOWFLAKE_NODE" default:"1"`
}

type GroupBuyConfig struct {
	LockTTL        time.Duration `envconfig:"LOYALTYHUB_GROUPBUY_LOCK_TTL" default:"30s"`
	AutoRefund     bool          `envconfig:"LOYALTYHUB_GROUPBUY_AUTO_REFUND" default:"true"`
	SweepBatchSize int           `envconfig:"LOYALTYHUB_GROUPBUY_SWEEP_BATCH_SIZE" default:"100"`
	HashSalt       string        `envconfig:"LOYALTYHUB_GROUPBUY_HASH_SALT" default:"loyaltyhub-groups"`
}

type SettlementConfig struct {
	MaxRetries       int           `envconfig:"LOYALTYHUB_SETTLEMENT_MAX_RETRIES" default:"5"`
	RetryBatchSize   int           `envconfig:"LOYALTYHUB_SETTLEMENT_RETRY_BATCH_SIZE" default:"100"`
	RetryConcurrency int           `envconfig:"LOYALTYHUB_SETTLEMENT_RETRY_CONCURRENCY" default:"4"`
	PayoutTimeout    time.Duration `envconfig:"LOYALTYHUB_SETTLEMENT_PAYOUT_TIMEOUT" default:"10s"`
	// DefaultFeeRate applies when a merchant profile has no rate configured.
	DefaultFeeRate string `envconfig:"LOYALTYHUB_SETTLEMENT_DEFAULT_FEE_RATE" default:"0.006"`
}

// FeeRate parses DefaultFeeRate.
func (s SettlementConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultFeeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (s SettlementConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultFeeRate))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvSettlementDefaultFeeRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0, 1)", EnvSettlementDefaultFeeRate)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%s must be non-negative", EnvSettlementMaxRetries)
	}
	return nil
}

type WechatPayConfig struct {
	AppID                     string `envconfig:"LOYALTYHUB_WECHATPAY_APP_ID"`
	MchID                     string `envconfig:"LOYALTYHUB_WECHATPAY_MCH_ID"`
	MchCertificateSerialNo    string `envconfig:"LOYALTYHUB_WECHATPAY_MCH_SERIAL_NO"`
	MchPrivateKeyPath         string `envconfig:"LOYALTYHUB_WECHATPAY_MCH_PRIVATE_KEY_PATH"`
	MchAPIv3Key               string `envconfig:"LOYALTYHUB_WECHATPAY_MCH_APIV3_KEY"`
	NotifyURL                 string `envconfig:"LOYALTYHUB_WECHATPAY_NOTIFY_URL"`
	RefundNotifyURL           string `envconfig:"LOYALTYHUB_WECHATPAY_REFUND_NOTIFY_URL"`
	ProfitSharingReceiverType string `envconfig:"LOYALTYHUB_WECHATPAY_PROFIT_SHARING_RECEIVER_TYPE" default:"MERCHANT_ID"`
}

// Enabled reports whether enough credentials are present to build a client.
func (w WechatPayConfig) Enabled() bool {
	return w.AppID != "" && w.MchID != "" && w.MchCertificateSerialNo != "" && w.MchPrivateKeyPath != "" && w.MchAPIv3Key != ""
}

// CronConfig holds the scheduler tick plus the cadence of each sweep.
type CronConfig struct {
	Interval             time.Duration `envconfig:"LOYALTYHUB_CRON_INTERVAL" default:"30s"`
	LockTTL              time.Duration `envconfig:"LOYALTYHUB_CRON_LOCK_TTL" default:"5m"`
	CloseOrdersEvery     time.Duration `envconfig:"LOYALTYHUB_CRON_CLOSE_ORDERS_EVERY" default:"1m"`
	ExpiredGroupsEvery   time.Duration `envconfig:"LOYALTYHUB_CRON_EXPIRED_GROUPS_EVERY" default:"1m"`
	SettlementRetryEvery time.Duration `envconfig:"LOYALTYHUB_CRON_SETTLEMENT_RETRY_EVERY" default:"5m"`
	VoucherExpiryEvery   time.Duration `envconfig:"LOYALTYHUB_CRON_VOUCHER_EXPIRY_EVERY" default:"1h"`
	OutboxRetentionEvery time.Duration `envconfig:"LOYALTYHUB_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
}

type ObservabilityConfig struct {
	GormMetrics bool `envconfig:"LOYALTYHUB_GORM_METRICS" default:"true"`
	GormTracing bool `envconfig:"LOYALTYHUB_GORM_TRACING" default:"false"`
	// GormMetricsRefreshSeconds controls how often pool stats are sampled.
	GormMetricsRefreshSeconds uint32 `envconfig:"LOYALTYHUB_GORM_METRICS_REFRESH_SECONDS" default:"15"`
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
