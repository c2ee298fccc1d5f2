// Package config defines all configuration for the exchange daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via MKT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"marketsim/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Tickers     map[string]float64 `mapstructure:"tickers"`
	DefaultTIF  string             `mapstructure:"default_tif"`
	MarketMaker MarketMakerConfig  `mapstructure:"market_maker"`
	Bot         BotConfig          `mapstructure:"liquidity_bot"`
	Journal     JournalConfig      `mapstructure:"journal"`
	API         APIConfig          `mapstructure:"api"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

// MarketMakerConfig names the privileged principal the liquidity bot
// trades as.
type MarketMakerConfig struct {
	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`
}

// BotConfig shapes the liquidity bot's quotes.
//
//   - Interval: how often quotes are pulled and reposted.
//   - Spread: half-spread fraction; quotes go at p*(1-s) and p*(1+s).
//   - MinQuantity/MaxQuantity: uniform range for quote size.
type BotConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Spread      float64       `mapstructure:"spread"`
	MinQuantity int64         `mapstructure:"min_quantity"`
	MaxQuantity int64         `mapstructure:"max_quantity"`
}

// JournalConfig sets where the audit journal and user snapshot live.
type JournalConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	SyncEveryCommit bool   `mapstructure:"sync_every_commit"`
}

// APIConfig controls the HTTP/WebSocket server.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper lowercases map keys; ticker symbols are upper case.
	if cfg.Tickers != nil {
		tickers := make(map[string]float64, len(cfg.Tickers))
		for ticker, price := range cfg.Tickers {
			tickers[strings.ToUpper(ticker)] = price
		}
		cfg.Tickers = tickers
	}

	if port := os.Getenv("MKT_API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("MKT_API_PORT: %w", err)
		}
		cfg.API.Port = p
	}
	if dir := os.Getenv("MKT_JOURNAL_DATA_DIR"); dir != "" {
		cfg.Journal.DataDir = dir
	}
	if level := os.Getenv("MKT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Tickers) == 0 {
		return fmt.Errorf("tickers: at least one ticker is required")
	}
	for ticker, price := range c.Tickers {
		if price <= 0 {
			return fmt.Errorf("tickers.%s: initial price must be > 0", ticker)
		}
	}
	if c.DefaultTIF != "" && !types.TimeInForce(c.DefaultTIF).Valid() {
		return fmt.Errorf("default_tif must be one of GTC, IOC, FOK")
	}
	if c.Bot.Enabled {
		if c.MarketMaker.UserID == "" {
			return fmt.Errorf("market_maker.user_id is required when the liquidity bot is enabled")
		}
		if c.Bot.Interval <= 0 {
			return fmt.Errorf("liquidity_bot.interval must be > 0")
		}
		if c.Bot.Spread <= 0 || c.Bot.Spread >= 1 {
			return fmt.Errorf("liquidity_bot.spread must be in (0, 1)")
		}
		if c.Bot.MinQuantity <= 0 || c.Bot.MaxQuantity < c.Bot.MinQuantity {
			return fmt.Errorf("liquidity_bot quantity range is invalid")
		}
	}
	if c.Journal.DataDir == "" {
		return fmt.Errorf("journal.data_dir is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid TCP port")
	}
	return nil
}

// TickerPrices converts the configured initial prices to decimals,
// rounded to the 2 fractional digits the engine accepts.
func (c *Config) TickerPrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Tickers))
	for ticker, price := range c.Tickers {
		out[ticker] = decimal.NewFromFloat(price).Round(2)
	}
	return out
}

// DefaultTimeInForce returns the configured fallback TIF, defaulting to
// GTC.
func (c *Config) DefaultTimeInForce() types.TimeInForce {
	if c.DefaultTIF == "" {
		return types.GTC
	}
	return types.TimeInForce(c.DefaultTIF)
}
