package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the options core.
type Config struct {
	Port string

	// Streaming endpoints (Pusher-compatible)
	OTCStreamURL     string
	RegularStreamURL string
	ConnectTimeout   time.Duration
	SettleDelay      time.Duration
	ReconnectDelay   time.Duration

	// Broker REST boundary
	BrokerBaseURL string
	BrokerToken   string
	BrokerRate    float64 // requests per second

	// Candles
	CandleInterval time.Duration
	CandleLimit    int

	// Trade lifecycle
	UserID             string
	AccountType        string
	Currency           string
	MartingaleEnabled  bool
	MartingaleMaxLevel int

	// Reconciliation polling
	PollInterval time.Duration
	PollGrace    time.Duration
	PollRate     float64 // status lookups per second

	// Trade history store
	DBPath string

	// Optional trading profile (YAML)
	ProfilePath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		OTCStreamURL:       getEnv("OTC_STREAM_URL", "wss://ws-us2.pusher.com/app/43474559fc2d8059c93e?protocol=7&client=go&version=1.0.0"),
		RegularStreamURL:   getEnv("REGULAR_STREAM_URL", "wss://ws-sa1.pusher.com/app/35040a820f525e208c5b?protocol=7&client=go&version=1.0.0"),
		ConnectTimeout:     getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		SettleDelay:        getEnvDuration("SETTLE_DELAY", 100*time.Millisecond),
		ReconnectDelay:     getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		BrokerBaseURL:      getEnv("BROKER_BASE_URL", "http://localhost:3000/api/trading"),
		BrokerToken:        os.Getenv("BROKER_TOKEN"),
		BrokerRate:         getEnvFloat("BROKER_RATE", 5),
		CandleInterval:     getEnvDuration("CANDLE_INTERVAL", 30*time.Second),
		CandleLimit:        getEnvInt("CANDLE_LIMIT", 300),
		UserID:             os.Getenv("USER_ID"),
		AccountType:        getEnv("ACCOUNT_TYPE", "real"),
		Currency:           getEnv("CURRENCY", "BRL"),
		MartingaleEnabled:  getEnv("MARTINGALE_ENABLED", "true") == "true",
		MartingaleMaxLevel: getEnvInt("MARTINGALE_MAX_LEVEL", 2),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 10*time.Second),
		PollGrace:          getEnvDuration("POLL_GRACE", 10*time.Second),
		PollRate:           getEnvFloat("POLL_RATE", 2),
		DBPath:             getEnv("DB_PATH", "./data/options.db"),
		ProfilePath:        getEnv("PROFILE_PATH", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
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

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
