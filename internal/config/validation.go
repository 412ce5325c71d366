package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate performs configuration-wide validation once a Config has been
// unmarshaled from file/env. Called from Load.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateAggregator()...)
	errors = append(errors, c.validateSolana()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateAPI()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors
	if c.App.Name == "" {
		errors = append(errors, ValidationError{"app.name", "application name is required"})
	}
	switch c.App.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		errors = append(errors, ValidationError{"app.log_level", fmt.Sprintf("unrecognized log level %q", c.App.LogLevel)})
	}
	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors
	if c.Database.Host == "" {
		errors = append(errors, ValidationError{"database.host", "database host is required"})
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{"database.port", "database port must be between 1 and 65535"})
	}
	if c.Database.PoolSize <= 0 {
		errors = append(errors, ValidationError{"database.pool_size", "pool size must be positive"})
	}
	return errors
}

func (c *Config) validateAggregator() ValidationErrors {
	var errors ValidationErrors
	if c.Aggregator.BaseURL == "" {
		errors = append(errors, ValidationError{"aggregator.base_url", "aggregator base URL is required"})
	}
	if c.Aggregator.Timeout <= 0 {
		errors = append(errors, ValidationError{"aggregator.timeout", "aggregator timeout must be positive"})
	}
	return errors
}

func (c *Config) validateSolana() ValidationErrors {
	var errors ValidationErrors
	if c.Solana.RPCURL == "" {
		errors = append(errors, ValidationError{"solana.rpc_url", "solana RPC URL is required"})
	}
	if c.Solana.TxConfirmMaxRetries <= 0 {
		errors = append(errors, ValidationError{"solana.tx_confirm_max_retries", "must be positive"})
	}
	if !c.Trading.PaperTradingEnabled && c.Solana.WalletKeypairPath == "" {
		errors = append(errors, ValidationError{"solana.wallet_keypair_path", "wallet keypair path is required in live trading mode"})
	}
	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors
	if c.Trading.DefaultSlippageBps < 0 || c.Trading.DefaultSlippageBps > 10000 {
		errors = append(errors, ValidationError{"trading.default_slippage_bps", "must be between 0 and 10000"})
	}
	if c.Trading.MaxPriceHistoryLen <= 0 {
		errors = append(errors, ValidationError{"trading.max_price_history_len", "must be positive"})
	}
	if len(c.Trading.QuoteMints) == 0 {
		errors = append(errors, ValidationError{"trading.quote_mints", "at least one quote mint is required to classify BUY/SELL"})
	}
	if c.Trading.MinLiquidity < 0 || c.Trading.MaxLiquidity <= c.Trading.MinLiquidity {
		errors = append(errors, ValidationError{"trading.max_liquidity", "max_liquidity must exceed min_liquidity"})
	}
	return errors
}

func (c *Config) validateBreaker() ValidationErrors {
	var errors ValidationErrors
	if c.Breaker.ComponentMaxFailures <= 0 {
		errors = append(errors, ValidationError{"breaker.component_cb_max_failures", "must be positive"})
	}
	if c.Breaker.ComponentResetAfter <= 0 {
		errors = append(errors, ValidationError{"breaker.circuit_breaker_reset_minutes", "must be positive"})
	}
	if c.Breaker.TokenMaxFailures <= 0 || c.Breaker.OperationMaxFailures <= 0 {
		errors = append(errors, ValidationError{"breaker.token_cb_max_failures", "token and operation breaker thresholds must be positive"})
	}
	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{"api.port", "must be between 1 and 65535"})
	}
	return errors
}
