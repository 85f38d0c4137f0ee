package config

// EnvPrefix is handed to envconfig; every field carries an explicit key so the
// prefix only matters for unnamed fields.
const EnvPrefix = "BAZARI"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	IdempotencyBackendRedis  = "redis"
	IdempotencyBackendMemory = "memory"
)

const defaultSQLiteDSN = "file:bazari.db?cache=shared&_fk=1"

const (
	EnvAppEnv             = "BAZARI_APP_ENV"
	EnvPort               = "BAZARI_APP_PORT"
	EnvDBDSN              = "BAZARI_DB_DSN"
	EnvDBHost             = "BAZARI_DB_HOST"
	EnvDBUser             = "BAZARI_DB_USER"
	EnvDBName             = "BAZARI_DB_NAME"
	EnvUseSQLite          = "BAZARI_USE_SQLITE"
	EnvRedisURL           = "BAZARI_REDIS_URL"
	EnvJWTSecret          = "BAZARI_JWT_SECRET"
	EnvJWTIssuer          = "BAZARI_JWT_ISSUER"
	EnvChainRPCURL        = "BAZARI_CHAIN_RPC_URL"
	EnvChainEscrowAccount = "BAZARI_CHAIN_ESCROW_ACCOUNT"
	EnvEscrowFeeBPS       = "BAZARI_ESCROW_FEE_BPS"
	EnvIdempotencyBackend = "BAZARI_IDEMPOTENCY_BACKEND"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
