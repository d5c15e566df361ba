package config

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"github/chapool/go-custody/internal/errs"
)

type EchoServer struct {
	Debug                          bool
	ListenAddress                  string
	HideInternalServerErrorDetails bool
	BaseURL                        string
	EnableCORSMiddleware           bool
	EnableLoggerMiddleware         bool
	EnableRecoverMiddleware        bool
	EnableRequestIDMiddleware      bool
	EnableTrailingSlashMiddleware  bool
	EnablePrometheusMiddleware     bool
	// UserIDHeader is set by the upstream authenticating proxy.
	UserIDHeader string
	AdminToken   string `json:"-"` // sensitive
}

type LoggerServer struct {
	Level              zerolog.Level
	RequestLevel       zerolog.Level
	LogRequestHeader   bool
	LogResponseHeader  bool
	PrettyPrintConsole bool
}

type Redis struct {
	// Addr empty disables the shared tier; caches then run process-local only.
	Addr        string
	Password    string `json:"-"` // sensitive
	DB          int
	KeyPrefix   string
	DialTimeout time.Duration
}

type Chain struct {
	ChainID        int64
	RPCURLs        []string
	RequestTimeout time.Duration
	NativeSymbol   string
	NativeDecimals int32
	TokenSymbol    string
	TokenContract  string
	TokenDecimals  int32
}

type Wallet struct {
	EncryptionKey   string `json:"-"` // sensitive, 64 hex chars
	KMSProvider     string // "local" or "gcp"
	KMSKeyReference string
	LocalKMSKey     string `json:"-"` // sensitive, 64 hex chars
	KMSTimeout      time.Duration
}

type Price struct {
	SourceURL      string
	AssetID        string
	APIKey         string `json:"-"` // sensitive
	TTL            time.Duration
	MaxTTL         time.Duration
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	FallbackUSD    float64
}

type Balance struct {
	TTL    time.Duration
	MaxTTL time.Duration
}

type Transfer struct {
	ConfirmationTTL           time.Duration
	DailyLimitUSD             float64
	MonthlyLimitUSD           float64
	SecondaryAuthThresholdUSD float64
	GasBufferPercent          int64
}

type Reconcile struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	Parallelism int
}

type Server struct {
	Database  Database
	Echo      EchoServer
	Logger    LoggerServer
	Redis     Redis
	Chain     Chain
	Wallet    Wallet
	Price     Price
	Balance   Balance
	Transfer  Transfer
	Reconcile Reconcile
}

// LoadEnvFiles loads the given dotenv files (default ".env") into the process
// environment without overriding already set variables. Missing files are skipped.
func LoadEnvFiles(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := gotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("Failed to load env file")
		}
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PGHOST", "postgres")
	v.SetDefault("PGPORT", 5432)
	v.SetDefault("PGUSER", "dbuser")
	v.SetDefault("PGPASSWORD", "")
	v.SetDefault("PGDATABASE", "custody")
	v.SetDefault("PGSSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 50)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "10m")

	v.SetDefault("SERVER_ECHO_LISTEN_ADDRESS", ":8080")
	v.SetDefault("SERVER_ECHO_BASE_URL", "http://localhost:8080")
	v.SetDefault("SERVER_ECHO_HIDE_INTERNAL_SERVER_ERROR_DETAILS", true)
	v.SetDefault("SERVER_ECHO_ENABLE_CORS_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_LOGGER_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_RECOVER_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_REQUEST_ID_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_TRAILING_SLASH_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_PROMETHEUS_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_USER_ID_HEADER", "X-User-ID")

	v.SetDefault("SERVER_LOGGER_LEVEL", "info")
	v.SetDefault("SERVER_LOGGER_REQUEST_LEVEL", "info")
	v.SetDefault("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false)

	v.SetDefault("REDIS_KEY_PREFIX", "custody:")
	v.SetDefault("REDIS_DIAL_TIMEOUT", "2s")

	v.SetDefault("CHAIN_ID", 1)
	v.SetDefault("CHAIN_RPC_URLS", "http://localhost:8545")
	v.SetDefault("CHAIN_REQUEST_TIMEOUT", "15s")
	v.SetDefault("CHAIN_NATIVE_SYMBOL", "ETH")
	v.SetDefault("CHAIN_NATIVE_DECIMALS", 18)
	v.SetDefault("CHAIN_TOKEN_SYMBOL", "USDC")
	v.SetDefault("CHAIN_TOKEN_CONTRACT", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	v.SetDefault("CHAIN_TOKEN_DECIMALS", 6)

	v.SetDefault("WALLET_KMS_PROVIDER", "local")
	v.SetDefault("WALLET_KMS_KEY_REFERENCE", "local/custody-seed")
	v.SetDefault("WALLET_KMS_TIMEOUT", "10s")

	v.SetDefault("PRICE_SOURCE_URL", "https://api.coingecko.com/api/v3")
	v.SetDefault("PRICE_ASSET_ID", "ethereum")
	v.SetDefault("PRICE_TTL", "1m")
	v.SetDefault("PRICE_MAX_TTL", "10m")
	v.SetDefault("PRICE_ATTEMPT_TIMEOUT", "5s")
	v.SetDefault("PRICE_RETRY_DELAY", "1s")
	v.SetDefault("PRICE_FALLBACK_USD", 2000.0)

	v.SetDefault("BALANCE_TTL", "5m")
	v.SetDefault("BALANCE_MAX_TTL", "30m")

	v.SetDefault("TRANSFER_CONFIRMATION_TTL", "10m")
	v.SetDefault("TRANSFER_DAILY_LIMIT_USD", 10000.0)
	v.SetDefault("TRANSFER_MONTHLY_LIMIT_USD", 50000.0)
	v.SetDefault("TRANSFER_SECONDARY_AUTH_THRESHOLD_USD", 1000.0)
	v.SetDefault("TRANSFER_GAS_BUFFER_PERCENT", 20)

	v.SetDefault("RECONCILE_ENABLED", true)
	v.SetDefault("RECONCILE_INTERVAL", "30s")
	v.SetDefault("RECONCILE_BATCH_SIZE", 50)
	v.SetDefault("RECONCILE_PARALLELISM", 5)

	return v
}

func parseLevel(v *viper.Viper, key string, fallback zerolog.Level) zerolog.Level {
	level, err := zerolog.ParseLevel(v.GetString(key))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Invalid log level, using default")
		return fallback
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined above.
func DefaultServiceConfigFromEnv() Server {
	v := newViper()

	return Server{
		Database: Database{
			Host:     v.GetString("PGHOST"),
			Port:     v.GetInt("PGPORT"),
			Database: v.GetString("PGDATABASE"),
			Username: v.GetString("PGUSER"),
			Password: v.GetString("PGPASSWORD"),
			AdditionalParams: map[string]string{
				"sslmode": v.GetString("PGSSLMODE"),
			},
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Echo: EchoServer{
			Debug:                          v.GetBool("SERVER_ECHO_DEBUG"),
			ListenAddress:                  v.GetString("SERVER_ECHO_LISTEN_ADDRESS"),
			HideInternalServerErrorDetails: v.GetBool("SERVER_ECHO_HIDE_INTERNAL_SERVER_ERROR_DETAILS"),
			BaseURL:                        v.GetString("SERVER_ECHO_BASE_URL"),
			EnableCORSMiddleware:           v.GetBool("SERVER_ECHO_ENABLE_CORS_MIDDLEWARE"),
			EnableLoggerMiddleware:         v.GetBool("SERVER_ECHO_ENABLE_LOGGER_MIDDLEWARE"),
			EnableRecoverMiddleware:        v.GetBool("SERVER_ECHO_ENABLE_RECOVER_MIDDLEWARE"),
			EnableRequestIDMiddleware:      v.GetBool("SERVER_ECHO_ENABLE_REQUEST_ID_MIDDLEWARE"),
			EnableTrailingSlashMiddleware:  v.GetBool("SERVER_ECHO_ENABLE_TRAILING_SLASH_MIDDLEWARE"),
			EnablePrometheusMiddleware:     v.GetBool("SERVER_ECHO_ENABLE_PROMETHEUS_MIDDLEWARE"),
			UserIDHeader:                   v.GetString("SERVER_ECHO_USER_ID_HEADER"),
			AdminToken:                     v.GetString("SERVER_ECHO_ADMIN_TOKEN"),
		},
		Logger: LoggerServer{
			Level:              parseLevel(v, "SERVER_LOGGER_LEVEL", zerolog.InfoLevel),
			RequestLevel:       parseLevel(v, "SERVER_LOGGER_REQUEST_LEVEL", zerolog.InfoLevel),
			LogRequestHeader:   v.GetBool("SERVER_LOGGER_LOG_REQUEST_HEADER"),
			LogResponseHeader:  v.GetBool("SERVER_LOGGER_LOG_RESPONSE_HEADER"),
			PrettyPrintConsole: v.GetBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE"),
		},
		Redis: Redis{
			Addr:        v.GetString("REDIS_ADDR"),
			Password:    v.GetString("REDIS_PASSWORD"),
			DB:          v.GetInt("REDIS_DB"),
			KeyPrefix:   v.GetString("REDIS_KEY_PREFIX"),
			DialTimeout: v.GetDuration("REDIS_DIAL_TIMEOUT"),
		},
		Chain: Chain{
			ChainID:        v.GetInt64("CHAIN_ID"),
			RPCURLs:        splitList(v.GetString("CHAIN_RPC_URLS")),
			RequestTimeout: v.GetDuration("CHAIN_REQUEST_TIMEOUT"),
			NativeSymbol:   v.GetString("CHAIN_NATIVE_SYMBOL"),
			NativeDecimals: v.GetInt32("CHAIN_NATIVE_DECIMALS"),
			TokenSymbol:    v.GetString("CHAIN_TOKEN_SYMBOL"),
			TokenContract:  v.GetString("CHAIN_TOKEN_CONTRACT"),
			TokenDecimals:  v.GetInt32("CHAIN_TOKEN_DECIMALS"),
		},
		Wallet: Wallet{
			EncryptionKey:   v.GetString("WALLET_ENCRYPTION_KEY"),
			KMSProvider:     v.GetString("WALLET_KMS_PROVIDER"),
			KMSKeyReference: v.GetString("WALLET_KMS_KEY_REFERENCE"),
			LocalKMSKey:     v.GetString("WALLET_LOCAL_KMS_KEY"),
			KMSTimeout:      v.GetDuration("WALLET_KMS_TIMEOUT"),
		},
		Price: Price{
			SourceURL:      v.GetString("PRICE_SOURCE_URL"),
			AssetID:        v.GetString("PRICE_ASSET_ID"),
			APIKey:         v.GetString("PRICE_API_KEY"),
			TTL:            v.GetDuration("PRICE_TTL"),
			MaxTTL:         v.GetDuration("PRICE_MAX_TTL"),
			AttemptTimeout: v.GetDuration("PRICE_ATTEMPT_TIMEOUT"),
			RetryDelay:     v.GetDuration("PRICE_RETRY_DELAY"),
			FallbackUSD:    v.GetFloat64("PRICE_FALLBACK_USD"),
		},
		Balance: Balance{
			TTL:    v.GetDuration("BALANCE_TTL"),
			MaxTTL: v.GetDuration("BALANCE_MAX_TTL"),
		},
		Transfer: Transfer{
			ConfirmationTTL:           v.GetDuration("TRANSFER_CONFIRMATION_TTL"),
			DailyLimitUSD:             v.GetFloat64("TRANSFER_DAILY_LIMIT_USD"),
			MonthlyLimitUSD:           v.GetFloat64("TRANSFER_MONTHLY_LIMIT_USD"),
			SecondaryAuthThresholdUSD: v.GetFloat64("TRANSFER_SECONDARY_AUTH_THRESHOLD_USD"),
			GasBufferPercent:          v.GetInt64("TRANSFER_GAS_BUFFER_PERCENT"),
		},
		Reconcile: Reconcile{
			Enabled:     v.GetBool("RECONCILE_ENABLED"),
			Interval:    v.GetDuration("RECONCILE_INTERVAL"),
			BatchSize:   v.GetInt("RECONCILE_BATCH_SIZE"),
			Parallelism: v.GetInt("RECONCILE_PARALLELISM"),
		},
	}
}

func isHexKey(s string) bool {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	return err == nil && len(b) == 32
}

// Validate checks everything the wallet engine cannot start without. All
// failures wrap errs.ErrConfiguration.
func (c Server) Validate() error {
	switch {
	case !isHexKey(c.Wallet.EncryptionKey):
		return errors.Wrap(errs.ErrConfiguration, "WALLET_ENCRYPTION_KEY must be 64 hex characters")
	case c.Wallet.KMSKeyReference == "":
		return errors.Wrap(errs.ErrConfiguration, "WALLET_KMS_KEY_REFERENCE is required")
	case c.Wallet.KMSProvider != "local" && c.Wallet.KMSProvider != "gcp":
		return errors.Wrapf(errs.ErrConfiguration, "unknown WALLET_KMS_PROVIDER %q", c.Wallet.KMSProvider)
	case c.Wallet.KMSProvider == "local" && !isHexKey(c.Wallet.LocalKMSKey):
		return errors.Wrap(errs.ErrConfiguration, "WALLET_LOCAL_KMS_KEY must be 64 hex characters")
	case c.Chain.ChainID <= 0:
		return errors.Wrap(errs.ErrConfiguration, "CHAIN_ID must be positive")
	case len(c.Chain.RPCURLs) == 0:
		return errors.Wrap(errs.ErrConfiguration, "CHAIN_RPC_URLS is required")
	case c.Transfer.DailyLimitUSD < 0 || c.Transfer.MonthlyLimitUSD < 0:
		return errors.Wrap(errs.ErrConfiguration, "transfer limits must not be negative")
	case c.Transfer.ConfirmationTTL <= 0:
		return errors.Wrap(errs.ErrConfiguration, "TRANSFER_CONFIRMATION_TTL must be positive")
	case c.Reconcile.BatchSize <= 0:
		return errors.Wrap(errs.ErrConfiguration, "RECONCILE_BATCH_SIZE must be positive")
	}

	return nil
}
