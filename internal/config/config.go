// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Feed      FeedConfig      `toml:"feed"`
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	FlashLoan FlashLoanConfig `toml:"flash_loan"`
	Execution ExecutionConfig `toml:"execution"`
	Profit    ProfitConfig    `toml:"profit"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key used by the relay submitter.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// FeedConfig controls price polling.
type FeedConfig struct {
	UpdateIntervalMs int              `toml:"update_interval_ms"`
	Staleness        duration         `toml:"staleness"`
	MaxBackoff       duration         `toml:"max_backoff"`
	RequestTimeout   duration         `toml:"request_timeout"`
	MirrorToRedis    bool             `toml:"mirror_to_redis"`
	Exchanges        []ExchangeConfig `toml:"exchanges"`
}

// UpdateInterval returns the polling interval as a duration.
func (f FeedConfig) UpdateInterval() time.Duration {
	return time.Duration(f.UpdateIntervalMs) * time.Millisecond
}

// ExchangeConfig describes one price source.
type ExchangeConfig struct {
	Name string `toml:"name"`
	// Kind is one of "http", "ws" or "static".
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
	// Prices is used by static sources: pair -> mid price.
	Prices    map[string]float64 `toml:"prices"`
	SpreadBps float64            `toml:"spread_bps"`
	Depth     float64            `toml:"depth"`
}

// TradingConfig holds detection parameters. Percentages are expressed in
// percent (0.5 means 0.5%).
type TradingConfig struct {
	Pairs               []string `toml:"pairs"`
	MinProfitPercentage float64  `toml:"min_profit_percentage"`
	SlippageTolerance   float64  `toml:"slippage_tolerance"`
	TradingFeePct       float64  `toml:"trading_fee_pct"`
	NetworkFee          float64  `toml:"network_fee"`
	UseFlashLoans       bool     `toml:"use_flash_loans"`
	DetectWorkers       int      `toml:"detect_workers"`
}

// RiskConfig holds risk controller parameters. Zero values for the
// preset-backed fields are filled in from the selected risk level.
type RiskConfig struct {
	Level               string   `toml:"level"`
	BaseCapital         float64  `toml:"base_capital"`
	MaxPositionSize     float64  `toml:"max_position_size"`
	MinTradeSize        float64  `toml:"min_trade_size"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	MaxDailyLoss        float64  `toml:"max_daily_loss"`
	MaxTradesPerDay     int      `toml:"max_trades_per_day"`
	UseCircuitBreakers  bool     `toml:"use_circuit_breakers"`
	FailureThreshold    int      `toml:"failure_threshold"`
	RecoverySuccesses   int      `toml:"recovery_successes"`
	ThrottleMultiplier  float64  `toml:"throttle_multiplier"`
	HaltCooldown        duration `toml:"halt_cooldown"`
}

// FlashLoanConfig selects a loan provider.
type FlashLoanConfig struct {
	// Provider is "solend", "flash_protocol", "flash_loan_mastery", "custom"
	// or "cheapest".
	Provider      string  `toml:"provider"`
	CustomFeePct  float64 `toml:"custom_fee_pct"`
	MaxLoanAmount float64 `toml:"max_loan_amount"`
}

// ExecutionConfig controls the coordinator and the ledger submitter.
type ExecutionConfig struct {
	// Submitter is "paper" or "relay".
	Submitter           string   `toml:"submitter"`
	RelayURL            string   `toml:"relay_url"`
	RelayAPIKey         string   `toml:"relay_api_key"`
	RelaySecret         string   `toml:"relay_secret"`
	ChainID             int      `toml:"chain_id"`
	MaxAttempts         int      `toml:"max_attempts"`
	RetryBackoff        duration `toml:"retry_backoff"`
	ConfirmationTimeout duration `toml:"confirmation_timeout"`
	DedupTTL            duration `toml:"dedup_ttl"`
	// LockBackend is "memory" or "redis".
	LockBackend string   `toml:"lock_backend"`
	LockTTL     duration `toml:"lock_ttl"`
}

// ProfitConfig controls how realized profit is split.
type ProfitConfig struct {
	AutoReinvest       bool    `toml:"auto_reinvest"`
	ReinvestPercentage float64 `toml:"reinvest_percentage"`
	WithdrawPercentage float64 `toml:"withdraw_percentage"`
	ReservePercentage  float64 `toml:"reserve_percentage"`
	MinDistribution    float64 `toml:"min_distribution"`
}

// LedgerConfig selects the attempt store and archival policy.
type LedgerConfig struct {
	// Store is "memory" or "postgres".
	Store                string   `toml:"store"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig enables the Kafka event sink.
type KafkaConfig struct {
	Enabled     bool     `toml:"enabled"`
	Brokers     []string `toml:"brokers"`
	Topic       string   `toml:"topic"`
	Compression string   `toml:"compression"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// Preset-backed risk fields are left zero and resolved by ApplyRiskPreset.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			UpdateIntervalMs: 1000,
			Staleness:        duration{3 * time.Second},
			MaxBackoff:       duration{30 * time.Second},
			RequestTimeout:   duration{5 * time.Second},
			Exchanges: []ExchangeConfig{
				{Name: "jupiter", Kind: "http", URL: "https://quote-api.jup.ag/v6"},
				{Name: "raydium", Kind: "http", URL: "https://api-v3.raydium.io"},
				{Name: "orca", Kind: "http", URL: "https://api.orca.so"},
			},
		},
		Trading: TradingConfig{
			Pairs:         []string{"SOL/USDC"},
			TradingFeePct: 0.1,
			NetworkFee:    0.01,
			UseFlashLoans: true,
			DetectWorkers: 4,
		},
		Risk: RiskConfig{
			Level:              string(domain.RiskModerate),
			BaseCapital:        1000,
			MinTradeSize:       1,
			UseCircuitBreakers: true,
			FailureThreshold:   3,
			RecoverySuccesses:  3,
			ThrottleMultiplier: 0.5,
		},
		FlashLoan: FlashLoanConfig{
			Provider:      "solend",
			MaxLoanAmount: 1_000_000,
		},
		Execution: ExecutionConfig{
			Submitter:           "paper",
			ChainID:             1,
			MaxAttempts:         3,
			RetryBackoff:        duration{250 * time.Millisecond},
			ConfirmationTimeout: duration{30 * time.Second},
			DedupTTL:            duration{5 * time.Second},
			LockBackend:         "memory",
			LockTTL:             duration{time.Minute},
		},
		Profit: ProfitConfig{
			AutoReinvest:       true,
			ReinvestPercentage: 70,
			WithdrawPercentage: 30,
			ReservePercentage:  0,
			MinDistribution:    0.1,
		},
		Ledger: LedgerConfig{
			Store:                "memory",
			ArchiveRetentionDays: 30,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbbot-ledger",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic:       "arbbot.events",
			Compression: "snappy",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution.attempt", "risk.transition", "bot.status"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true, // relay submitter, real funds
	"paper":   true, // full loop against the paper ledger
	"monitor": true, // feeds and detection only
	"server":  true, // HTTP surface over the stored ledger
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validExchangeKinds = map[string]bool{"http": true, "ws": true, "static": true}

var validProviders = map[string]bool{
	"solend":             true,
	"flash_protocol":     true,
	"flash_loan_mastery": true,
	"custom":             true,
	"cheapest":           true,
}

// MaxExposure is the global exposure ceiling shared by all pairs.
func (c *Config) MaxExposure() float64 {
	return c.Risk.MaxPositionSize * float64(c.Risk.MaxConcurrentTrades)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Malformed risk parameters are
// fatal: the returned error wraps domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when units are signed for a relay.
	if c.Mode == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Execution.Submitter != "relay" {
			errs = append(errs, "execution: submitter must be relay for mode live")
		}
	}

	// Feed
	if c.Feed.UpdateIntervalMs < 50 {
		errs = append(errs, fmt.Sprintf("feed: update_interval_ms must be >= 50, got %d", c.Feed.UpdateIntervalMs))
	}
	if c.Feed.Staleness.Duration <= 0 {
		errs = append(errs, "feed: staleness must be > 0")
	}
	if len(c.Feed.Exchanges) < 2 {
		errs = append(errs, "feed: at least two exchanges are required")
	}
	seen := make(map[string]bool, len(c.Feed.Exchanges))
	for i, ex := range c.Feed.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Sprintf("feed: exchanges[%d].name must not be empty", i))
		}
		if seen[ex.Name] {
			errs = append(errs, fmt.Sprintf("feed: duplicate exchange %q", ex.Name))
		}
		seen[ex.Name] = true
		if !validExchangeKinds[ex.Kind] {
			errs = append(errs, fmt.Sprintf("feed: exchanges[%d].kind %q (valid: http, ws, static)", i, ex.Kind))
		}
		if ex.Kind != "static" && ex.URL == "" {
			errs = append(errs, fmt.Sprintf("feed: exchanges[%d].url must be set for kind %s", i, ex.Kind))
		}
	}

	// Trading
	if len(c.Trading.Pairs) == 0 {
		errs = append(errs, "trading: at least one pair is required")
	}
	for _, p := range c.Trading.Pairs {
		if _, err := domain.ParsePair(p); err != nil {
			errs = append(errs, "trading: "+err.Error())
		}
	}
	if c.Trading.MinProfitPercentage <= 0 {
		errs = append(errs, "trading: min_profit_percentage must be > 0")
	}
	if c.Trading.SlippageTolerance < 0 || c.Trading.SlippageTolerance >= 100 {
		errs = append(errs, "trading: slippage_tolerance must be in [0, 100)")
	}
	if c.Trading.TradingFeePct < 0 || c.Trading.NetworkFee < 0 {
		errs = append(errs, "trading: fees must not be negative")
	}

	// Risk: any problem here is fatal.
	if _, err := domain.ParseRiskLevel(c.Risk.Level); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MinTradeSize < 0 || c.Risk.MinTradeSize > c.Risk.MaxPositionSize {
		errs = append(errs, "risk: min_trade_size must be in [0, max_position_size]")
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		errs = append(errs, "risk: max_concurrent_trades must be >= 1")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.FailureThreshold < 1 {
		errs = append(errs, "risk: failure_threshold must be >= 1")
	}
	if c.Risk.RecoverySuccesses < 1 {
		errs = append(errs, "risk: recovery_successes must be >= 1")
	}
	if c.Risk.ThrottleMultiplier <= 0 || c.Risk.ThrottleMultiplier > 1 {
		errs = append(errs, "risk: throttle_multiplier must be in (0, 1]")
	}

	// Flash loans
	if c.Trading.UseFlashLoans {
		if !validProviders[c.FlashLoan.Provider] {
			errs = append(errs, fmt.Sprintf("flash_loan: unknown provider %q", c.FlashLoan.Provider))
		}
		if c.FlashLoan.Provider == "custom" && c.FlashLoan.CustomFeePct <= 0 {
			errs = append(errs, "flash_loan: custom_fee_pct must be > 0 for the custom provider")
		}
		if c.FlashLoan.MaxLoanAmount < c.Risk.MaxPositionSize {
			errs = append(errs, "flash_loan: max_loan_amount must cover max_position_size")
		}
	}

	// Execution
	switch c.Execution.Submitter {
	case "paper":
	case "relay":
		if c.Execution.RelayURL == "" {
			errs = append(errs, "execution: relay_url is required for the relay submitter")
		}
	default:
		errs = append(errs, fmt.Sprintf("execution: unknown submitter %q (valid: paper, relay)", c.Execution.Submitter))
	}
	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, "execution: max_attempts must be >= 1")
	}
	if c.Execution.ConfirmationTimeout.Duration <= 0 {
		errs = append(errs, "execution: confirmation_timeout must be > 0")
	}
	if c.Execution.LockBackend != "memory" && c.Execution.LockBackend != "redis" {
		errs = append(errs, fmt.Sprintf("execution: unknown lock_backend %q", c.Execution.LockBackend))
	}
	if c.Execution.LockBackend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "execution: lock_backend redis requires redis.enabled")
	}

	// Profit
	sum := c.Profit.ReinvestPercentage + c.Profit.WithdrawPercentage + c.Profit.ReservePercentage
	if c.Profit.ReinvestPercentage < 0 || c.Profit.WithdrawPercentage < 0 || c.Profit.ReservePercentage < 0 {
		errs = append(errs, "profit: percentages must not be negative")
	} else if sum < 99.99 || sum > 100.01 {
		errs = append(errs, fmt.Sprintf("profit: reinvest+withdraw+reserve must equal 100, got %.2f", sum))
	}

	// Ledger / Postgres
	switch c.Ledger.Store {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown store %q (valid: memory, postgres)", c.Ledger.Store))
	}
	if c.Ledger.ArchiveEnabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Ledger.ArchiveRetentionDays < 1 {
			errs = append(errs, "ledger: archive_retention_days must be >= 1")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers are required when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
