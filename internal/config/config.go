package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Venue
	Venue       string
	PaperTrade  bool
	StreamURL   string
	HTTPTimeout time.Duration

	// Execution
	RetryAttempts     int
	RetryDelay        time.Duration
	RateLimitPerSec   int
	ReconcileInterval time.Duration
	MaxOrderAge       time.Duration
	IcebergThreshold  float64
	ShutdownTimeout   time.Duration

	// Risk Management
	InitialCapital       float64
	MaxPositionSize      float64
	MaxDrawdownPercent   float64
	BaseStopLossPercent  float64
	VolatilityThreshold  float64
	VolumeSpikeFactor    float64
	SpreadAnomalyFactor  float64
	FeeRatePercent       float64

	// Tuner
	TunerEnabled      bool
	TunerPollInterval time.Duration

	// Performance
	CacheTTL                time.Duration
	WebsocketReconnectDelay time.Duration

	// Strategy configuration file (viper YAML), empty means built-in defaults
	StrategiesFile string

	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Venue:       getEnv("VENUE", "paper"),
		PaperTrade:  getEnvBool("PAPER_TRADE", true),
		StreamURL:   getEnv("STREAM_URL", ""),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT_MS", 3000) * time.Millisecond,

		RetryAttempts:     getEnvInt("EXEC_RETRY_ATTEMPTS", 3),
		RetryDelay:        getEnvDuration("EXEC_RETRY_DELAY_MS", 1000) * time.Millisecond,
		RateLimitPerSec:   getEnvInt("EXEC_RATE_LIMIT_PER_SEC", 10),
		ReconcileInterval: getEnvDuration("EXEC_RECONCILE_INTERVAL_MS", 1000) * time.Millisecond,
		MaxOrderAge:       getEnvDuration("EXEC_MAX_ORDER_AGE_SEC", 300) * time.Second,
		IcebergThreshold:  getEnvFloat("EXEC_ICEBERG_THRESHOLD", 1.0),
		ShutdownTimeout:   getEnvDuration("EXEC_SHUTDOWN_TIMEOUT_SEC", 10) * time.Second,

		InitialCapital:       getEnvFloat("RISK_INITIAL_CAPITAL", 10000.0),
		MaxPositionSize:      getEnvFloat("RISK_MAX_POSITION_SIZE", 1.0),
		MaxDrawdownPercent:   getEnvFloat("RISK_MAX_DRAWDOWN_PERCENT", 10.0),
		BaseStopLossPercent:  getEnvFloat("RISK_BASE_STOP_LOSS_PERCENT", 2.0),
		VolatilityThreshold:  getEnvFloat("RISK_VOLATILITY_THRESHOLD", 3.0),
		VolumeSpikeFactor:    getEnvFloat("RISK_VOLUME_SPIKE_FACTOR", 5.0),
		SpreadAnomalyFactor:  getEnvFloat("RISK_SPREAD_ANOMALY_FACTOR", 3.0),
		FeeRatePercent:       getEnvFloat("RISK_FEE_RATE_PERCENT", 0.1),

		TunerEnabled:      getEnvBool("TUNER_ENABLED", false),
		TunerPollInterval: getEnvDuration("TUNER_POLL_INTERVAL_SEC", 60) * time.Second,

		CacheTTL:                getEnvDuration("CACHE_TTL_MS", 500) * time.Millisecond,
		WebsocketReconnectDelay: getEnvDuration("WEBSOCKET_RECONNECT_DELAY_MS", 1000) * time.Millisecond,

		StrategiesFile: getEnv("STRATEGIES_FILE", ""),

		Debug: getEnvBool("DEBUG", false),
	}

	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("EXEC_RETRY_ATTEMPTS must be >= 0")
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("RISK_INITIAL_CAPITAL must be positive")
	}
	if cfg.MaxDrawdownPercent <= 0 || cfg.MaxDrawdownPercent >= 100 {
		return nil, fmt.Errorf("RISK_MAX_DRAWDOWN_PERCENT must be in (0, 100)")
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(parsed)
		}
	}
	return time.Duration(defaultValue)
}
