package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBBOT_* environment variable overrides, fills
// preset-backed risk fields, and returns the final Config. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.ApplyRiskPreset()

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ARBBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBBOT_WALLET_KEY_PASSWORD")

	// ── Feed ──
	setInt(&cfg.Feed.UpdateIntervalMs, "ARBBOT_FEED_UPDATE_INTERVAL_MS")
	setDuration(&cfg.Feed.Staleness, "ARBBOT_FEED_STALENESS")
	setDuration(&cfg.Feed.MaxBackoff, "ARBBOT_FEED_MAX_BACKOFF")
	setDuration(&cfg.Feed.RequestTimeout, "ARBBOT_FEED_REQUEST_TIMEOUT")
	setBool(&cfg.Feed.MirrorToRedis, "ARBBOT_FEED_MIRROR_TO_REDIS")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Pairs, "ARBBOT_TRADING_PAIRS")
	setFloat64(&cfg.Trading.MinProfitPercentage, "ARBBOT_TRADING_MIN_PROFIT_PERCENTAGE")
	setFloat64(&cfg.Trading.SlippageTolerance, "ARBBOT_TRADING_SLIPPAGE_TOLERANCE")
	setFloat64(&cfg.Trading.TradingFeePct, "ARBBOT_TRADING_FEE_PCT")
	setFloat64(&cfg.Trading.NetworkFee, "ARBBOT_TRADING_NETWORK_FEE")
	setBool(&cfg.Trading.UseFlashLoans, "ARBBOT_TRADING_USE_FLASH_LOANS")

	// ── Risk ──
	setStr(&cfg.Risk.Level, "ARBBOT_RISK_LEVEL")
	setFloat64(&cfg.Risk.BaseCapital, "ARBBOT_RISK_BASE_CAPITAL")
	setFloat64(&cfg.Risk.MaxPositionSize, "ARBBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MinTradeSize, "ARBBOT_RISK_MIN_TRADE_SIZE")
	setInt(&cfg.Risk.MaxConcurrentTrades, "ARBBOT_RISK_MAX_CONCURRENT_TRADES")
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxTradesPerDay, "ARBBOT_RISK_MAX_TRADES_PER_DAY")
	setBool(&cfg.Risk.UseCircuitBreakers, "ARBBOT_RISK_USE_CIRCUIT_BREAKERS")
	setInt(&cfg.Risk.FailureThreshold, "ARBBOT_RISK_FAILURE_THRESHOLD")
	setDuration(&cfg.Risk.HaltCooldown, "ARBBOT_RISK_HALT_COOLDOWN")

	// ── Flash loans ──
	setStr(&cfg.FlashLoan.Provider, "ARBBOT_FLASH_LOAN_PROVIDER")
	setFloat64(&cfg.FlashLoan.CustomFeePct, "ARBBOT_FLASH_LOAN_CUSTOM_FEE_PCT")
	setFloat64(&cfg.FlashLoan.MaxLoanAmount, "ARBBOT_FLASH_LOAN_MAX_LOAN_AMOUNT")

	// ── Execution ──
	setStr(&cfg.Execution.Submitter, "ARBBOT_EXECUTION_SUBMITTER")
	setStr(&cfg.Execution.RelayURL, "ARBBOT_EXECUTION_RELAY_URL")
	setStr(&cfg.Execution.RelayAPIKey, "ARBBOT_EXECUTION_RELAY_API_KEY")
	setStr(&cfg.Execution.RelaySecret, "ARBBOT_EXECUTION_RELAY_SECRET")
	setInt(&cfg.Execution.ChainID, "ARBBOT_EXECUTION_CHAIN_ID")
	setInt(&cfg.Execution.MaxAttempts, "ARBBOT_EXECUTION_MAX_ATTEMPTS")
	setDuration(&cfg.Execution.ConfirmationTimeout, "ARBBOT_EXECUTION_CONFIRMATION_TIMEOUT")
	setStr(&cfg.Execution.LockBackend, "ARBBOT_EXECUTION_LOCK_BACKEND")

	// ── Profit ──
	setBool(&cfg.Profit.AutoReinvest, "ARBBOT_PROFIT_AUTO_REINVEST")
	setFloat64(&cfg.Profit.ReinvestPercentage, "ARBBOT_PROFIT_REINVEST_PERCENTAGE")
	setFloat64(&cfg.Profit.WithdrawPercentage, "ARBBOT_PROFIT_WITHDRAW_PERCENTAGE")
	setFloat64(&cfg.Profit.ReservePercentage, "ARBBOT_PROFIT_RESERVE_PERCENTAGE")

	// ── Ledger ──
	setStr(&cfg.Ledger.Store, "ARBBOT_LEDGER_STORE")
	setBool(&cfg.Ledger.ArchiveEnabled, "ARBBOT_LEDGER_ARCHIVE_ENABLED")
	setInt(&cfg.Ledger.ArchiveRetentionDays, "ARBBOT_LEDGER_ARCHIVE_RETENTION_DAYS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBBOT_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "ARBBOT_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "ARBBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "ARBBOT_KAFKA_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setStr(&cfg.LogLevel, "ARBBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

// setStr also accepts KEY_FILE pointing at a file holding the value, for
// secrets mounted by the orchestrator. KEY wins when both are set.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			*dst = strings.TrimSpace(string(b))
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
