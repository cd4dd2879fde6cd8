package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the grid core.
type Config struct {
	Port   string
	Symbol string

	// Binance spot testnet (default environment)
	TestnetAPIKey    string
	TestnetAPISecret string
	// Binance spot production, selected per request
	ProdAPIKey    string
	ProdAPISecret string
	RecvWindow    int64

	// Auth
	JWTSecret string
	JWTExpiry time.Duration
	AppSecret string

	// Database
	DBPath string

	// Execution
	DryRun             bool
	DryRunInitialPrice float64
	DryRunFeeRate      float64 // decimal (e.g. 0.001 = 10 bps)

	// Loops
	TrailingInterval  time.Duration
	TrailingDeadband  float64
	FillInterval      time.Duration
	FillTradeLimit    int
	FillUseProduction bool
	HistoryTradeLimit int

	// Notifications
	NotifyWebhookURL string

	// Price cache
	RedisAddr     string
	PriceCacheTTL time.Duration

	// API
	RateLimitRPS   float64
	RateLimitBurst int

	// Logging
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Localization
	Language string // "en" or "zh"
}

// Tuning is the optional YAML file. Only non-zero fields are applied, and
// environment variables still win over it.
type Tuning struct {
	Trailing struct {
		Interval string  `yaml:"interval"`
		Deadband float64 `yaml:"deadband"`
	} `yaml:"trailing"`
	Fills struct {
		Interval   string `yaml:"interval"`
		TradeLimit int    `yaml:"trade_limit"`
	} `yaml:"fills"`
	History struct {
		TradeLimit int `yaml:"trade_limit"`
	} `yaml:"history"`
	PriceCache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"price_cache"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Log struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Load reads .env (if present), the optional YAML tuning file and the
// environment into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := defaults()
	if path := getEnv("CONFIG_FILE", "config.yaml"); path != "" {
		if err := cfg.applyTuningFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:              "3000",
		Symbol:            "BTCUSDT",
		RecvWindow:        5000,
		JWTExpiry:         15 * time.Minute,
		DBPath:            "./data/btc-grid.db",
		DryRunFeeRate:     0.001,
		TrailingInterval:  10 * time.Second,
		TrailingDeadband:  0.001,
		FillInterval:      30 * time.Second,
		FillTradeLimit:    20,
		HistoryTradeLimit: 100,
		PriceCacheTTL:     2 * time.Second,
		RateLimitRPS:      10,
		RateLimitBurst:    20,
		LogMaxSizeMB:      50,
		LogMaxBackups:     5,
		LogMaxAgeDays:     14,
		Language:          "en",
	}
}

func (c *Config) applyTuningFile(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var t Tuning
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return c.ApplyTuning(t)
}

// ApplyTuning overlays the non-zero values of t.
func (c *Config) ApplyTuning(t Tuning) error {
	var err error
	if c.TrailingInterval, err = durationOr(t.Trailing.Interval, c.TrailingInterval); err != nil {
		return fmt.Errorf("trailing.interval: %w", err)
	}
	if c.FillInterval, err = durationOr(t.Fills.Interval, c.FillInterval); err != nil {
		return fmt.Errorf("fills.interval: %w", err)
	}
	if c.PriceCacheTTL, err = durationOr(t.PriceCache.TTL, c.PriceCacheTTL); err != nil {
		return fmt.Errorf("price_cache.ttl: %w", err)
	}
	if t.Trailing.Deadband > 0 {
		c.TrailingDeadband = t.Trailing.Deadband
	}
	if t.Fills.TradeLimit > 0 {
		c.FillTradeLimit = t.Fills.TradeLimit
	}
	if t.History.TradeLimit > 0 {
		c.HistoryTradeLimit = t.History.TradeLimit
	}
	if t.RateLimit.RPS > 0 {
		c.RateLimitRPS = t.RateLimit.RPS
	}
	if t.RateLimit.Burst > 0 {
		c.RateLimitBurst = t.RateLimit.Burst
	}
	if t.Log.File != "" {
		c.LogFile = t.Log.File
	}
	if t.Log.MaxSizeMB > 0 {
		c.LogMaxSizeMB = t.Log.MaxSizeMB
	}
	if t.Log.MaxBackups > 0 {
		c.LogMaxBackups = t.Log.MaxBackups
	}
	if t.Log.MaxAgeDays > 0 {
		c.LogMaxAgeDays = t.Log.MaxAgeDays
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Symbol = strings.ToUpper(getEnv("SYMBOL", c.Symbol))

	// Testnet keys fall back to the generic names.
	c.TestnetAPIKey = getEnv("BINANCE_TESTNET_API_KEY", os.Getenv("BINANCE_API_KEY"))
	c.TestnetAPISecret = getEnv("BINANCE_TESTNET_SECRET_KEY", os.Getenv("BINANCE_SECRET_KEY"))
	c.ProdAPIKey = os.Getenv("BINANCE_PROD_API_KEY")
	c.ProdAPISecret = os.Getenv("BINANCE_PROD_SECRET_KEY")
	c.RecvWindow = int64(getEnvInt("BINANCE_RECV_WINDOW", int(c.RecvWindow)))

	c.JWTSecret = os.Getenv("JWT_SECRET")
	c.JWTExpiry = time.Duration(getEnvInt("JWT_EXPIRY_MINUTES", int(c.JWTExpiry/time.Minute))) * time.Minute
	c.AppSecret = os.Getenv("APP_SECRET")

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	c.DBPath = getEnv("DB_PATH", getEnv("DATABASE_PATH", c.DBPath))

	c.DryRun = getEnvBool("DRY_RUN", c.DryRun)
	c.DryRunInitialPrice = getEnvFloat("DRY_RUN_INITIAL_PRICE", c.DryRunInitialPrice)
	c.DryRunFeeRate = getEnvFloat("DRY_RUN_FEE_RATE", c.DryRunFeeRate)

	c.TrailingInterval = getEnvDuration("TRAILING_INTERVAL", c.TrailingInterval)
	c.TrailingDeadband = getEnvFloat("TRAILING_DEADBAND", c.TrailingDeadband)
	c.FillInterval = getEnvDuration("FILL_INTERVAL", c.FillInterval)
	c.FillTradeLimit = getEnvInt("FILL_TRADE_LIMIT", c.FillTradeLimit)
	c.FillUseProduction = getEnvBool("FILL_USE_PRODUCTION", c.FillUseProduction)
	c.HistoryTradeLimit = getEnvInt("HISTORY_TRADE_LIMIT", c.HistoryTradeLimit)

	c.NotifyWebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.NotifyWebhookURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.PriceCacheTTL = getEnvDuration("PRICE_CACHE_TTL", c.PriceCacheTTL)
	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = getEnvInt("LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)
	c.Language = strings.ToLower(getEnv("LANGUAGE", c.Language))
}

// HasProduction reports whether production keys are configured.
func (c *Config) HasProduction() bool {
	return c.ProdAPIKey != "" && c.ProdAPISecret != ""
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !c.DryRun && (c.TestnetAPIKey == "" || c.TestnetAPISecret == "") {
		errs = append(errs, errors.New("BINANCE_TESTNET_API_KEY and BINANCE_TESTNET_SECRET_KEY are required unless DRY_RUN=true"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.AppSecret == "" {
		errs = append(errs, errors.New("APP_SECRET is required"))
	}
	if c.TrailingInterval <= 0 || c.FillInterval <= 0 {
		errs = append(errs, errors.New("loop intervals must be positive"))
	}
	if c.TrailingDeadband <= 0 || c.TrailingDeadband >= 1 {
		errs = append(errs, fmt.Errorf("TRAILING_DEADBAND %.4f out of range (0,1)", c.TrailingDeadband))
	}
	if c.FillTradeLimit <= 0 || c.FillTradeLimit > 1000 {
		errs = append(errs, fmt.Errorf("FILL_TRADE_LIMIT %d out of range [1,1000]", c.FillTradeLimit))
	}
	if c.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY_MINUTES must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func durationOr(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
