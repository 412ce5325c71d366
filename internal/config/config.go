package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Solana     SolanaConfig     `mapstructure:"solana"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// DatabaseConfig contains PostgreSQL settings for the trade/position store.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig backs the optional price-history cache (internal/evaluator/pricecache.go).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig backs the optional breaker-transition / signal event bus.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// AggregatorConfig describes the DEX-aggregator HTTP API (quote/swap).
type AggregatorConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second"`
	ComputeUnitPriceMu int64         `mapstructure:"compute_unit_price_micro_lamports"`
	ComputeUnitLimit   int64         `mapstructure:"compute_unit_limit"`
}

// SolanaConfig describes the RPC endpoint and signing context.
type SolanaConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	WalletKeypairPath   string        `mapstructure:"wallet_keypair_path"`
	TxConfirmMaxRetries int           `mapstructure:"tx_confirm_max_retries"`
	TxConfirmDelay      time.Duration `mapstructure:"tx_confirm_delay_seconds"`
}

// TradingConfig contains engine-wide trading parameters.
type TradingConfig struct {
	PaperTradingEnabled bool          `mapstructure:"paper_trading_enabled"`
	DefaultSlippageBps  int           `mapstructure:"default_slippage_bps"`
	MaxSlippagePct      float64       `mapstructure:"max_slippage_pct"`
	TradeAmountUSD      float64       `mapstructure:"trade_amount_usd"`
	InterTradeInterval  time.Duration `mapstructure:"inter_trade_interval"`
	MaxPriceHistoryLen  int           `mapstructure:"max_price_history_len"`
	QuoteMints          []string      `mapstructure:"quote_mints"`
	MinLiquidity        float64       `mapstructure:"min_liquidity"`
	MaxLiquidity        float64       `mapstructure:"max_liquidity"`
	MinHolders          int           `mapstructure:"min_holders"`
	MaxSpread           float64       `mapstructure:"max_spread"`
}

// BreakerConfig contains circuit-breaker fabric defaults.
type BreakerConfig struct {
	ComponentMaxFailures int           `mapstructure:"component_cb_max_failures"`
	ComponentResetAfter  time.Duration `mapstructure:"circuit_breaker_reset_minutes"`
	OperationMaxFailures int           `mapstructure:"operation_cb_max_failures"`
	OperationResetAfter  time.Duration `mapstructure:"operation_cb_reset_minutes"`
	TokenMaxFailures     int           `mapstructure:"token_cb_max_failures"`
	TokenResetAfter      time.Duration `mapstructure:"token_cb_reset_minutes"`
	PersistenceDir       string        `mapstructure:"persistence_dir"`
}

// StrategyThresholds are the per-strategy signal parameters.
type StrategyThresholds struct {
	StopLossPct          float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct        float64 `mapstructure:"take_profit_pct"`
	TrailingStopPct      float64 `mapstructure:"trailing_stop_pct"`
	VolumeSurgeMultiple  float64 `mapstructure:"volume_surge_multiple"`
	EntryConfidenceFloor float64 `mapstructure:"entry_confidence_floor"`
}

// StrategyConfig contains the default and per-strategy-label threshold sets.
type StrategyConfig struct {
	EvaluationInterval time.Duration                 `mapstructure:"strategy_evaluation_interval"`
	Default            StrategyThresholds             `mapstructure:"default"`
	Overrides          map[string]StrategyThresholds  `mapstructure:"overrides"`
}

// APIConfig contains the operator control-surface settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file, then environment variable overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ENGINE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "solexec-engine")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "solexec")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("aggregator.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("aggregator.timeout", "10s")
	v.SetDefault("aggregator.rate_limit_per_second", 5.0)
	v.SetDefault("aggregator.compute_unit_price_micro_lamports", 0)
	v.SetDefault("aggregator.compute_unit_limit", 0)

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.timeout", "15s")
	v.SetDefault("solana.tx_confirm_max_retries", 10)
	v.SetDefault("solana.tx_confirm_delay_seconds", "1s")

	v.SetDefault("trading.paper_trading_enabled", true)
	v.SetDefault("trading.default_slippage_bps", 50)
	v.SetDefault("trading.max_slippage_pct", 1.0)
	v.SetDefault("trading.trade_amount_usd", 50.0)
	v.SetDefault("trading.inter_trade_interval", "1s")
	v.SetDefault("trading.max_price_history_len", 100)
	v.SetDefault("trading.quote_mints", []string{
		"So11111111111111111111111111111111111111112",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	v.SetDefault("trading.min_liquidity", 1000.0)
	v.SetDefault("trading.max_liquidity", 10_000_000.0)
	v.SetDefault("trading.min_holders", 50)
	v.SetDefault("trading.max_spread", 0.05)

	v.SetDefault("breaker.component_cb_max_failures", 20)
	v.SetDefault("breaker.circuit_breaker_reset_minutes", "2m")
	v.SetDefault("breaker.operation_cb_max_failures", 10)
	v.SetDefault("breaker.operation_cb_reset_minutes", "5m")
	v.SetDefault("breaker.token_cb_max_failures", 10)
	v.SetDefault("breaker.token_cb_reset_minutes", "5m")
	v.SetDefault("breaker.persistence_dir", "")

	v.SetDefault("strategy.strategy_evaluation_interval", "30s")
	v.SetDefault("strategy.default.stop_loss_pct", 0.05)
	v.SetDefault("strategy.default.take_profit_pct", 0.10)
	v.SetDefault("strategy.default.trailing_stop_pct", 0.05)
	v.SetDefault("strategy.default.volume_surge_multiple", 2.0)
	v.SetDefault("strategy.default.entry_confidence_floor", 0.5)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the control-surface listen address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ThresholdsFor returns the per-strategy thresholds for a label, falling
// back to the configured default set when no override exists.
func (c *StrategyConfig) ThresholdsFor(strategyID string) StrategyThresholds {
	if t, ok := c.Overrides[strategyID]; ok {
		return t
	}
	return c.Default
}
