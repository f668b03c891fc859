package config

const (
	EnvPrefix = "LOYALTYHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "LOYALTYHUB_APP_ENV"
	EnvPort   = "LOYALTYHUB_APP_PORT"
	EnvDBDSN  = "LOYALTYHUB_DB_DSN"
	EnvDBHost = "LOYALTYHUB_DB_HOST"
	EnvDBUser = "LOYALTYHUB_DB_USER"
	EnvDBName = "LOYALTYHUB_DB_NAME"
	EnvDBPass = "LOYALTYHUB_DB_PASSWORD"
	EnvDBPort = "LOYALTYHUB_DB_PORT"

	EnvRedisURL = "LOYALTYHUB_REDIS_URL"

	EnvJWTSecret = "LOYALTYHUB_JWT_SECRET"
	EnvJWTIssuer = "LOYALTYHUB_JWT_ISSUER"

	EnvGCPProjectID = "LOYALTYHUB_GCP_PROJECT_ID"

	EnvPubSubDomainTopic   = "LOYALTYHUB_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub     = "LOYALTYHUB_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvPubSubPaymentsTopic = "LOYALTYHUB_PUBSUB_PAYMENTS_TOPIC"
	EnvPubSubPaymentsSub   = "LOYALTYHUB_PUBSUB_PAYMENTS_SUBSCRIPTION"

	EnvOrdersPendingTimeout     = "LOYALTYHUB_ORDERS_PENDING_TIMEOUT"
	EnvGroupBuyAutoRefund       = "LOYALTYHUB_GROUPBUY_AUTO_REFUND"
	EnvSettlementMaxRetries     = "LOYALTYHUB_SETTLEMENT_MAX_RETRIES"
	EnvSettlementDefaultFeeRate = "LOYALTYHUB_SETTLEMENT_DEFAULT_FEE_RATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
