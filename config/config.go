package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Market   MarketConfig   `mapstructure:"market"`
	Candle   CandleConfig   `mapstructure:"candle"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// FeedConfig configures the websocket tick feed.
type FeedConfig struct {
	URL                  string        `mapstructure:"url"`
	APIKey               string        `mapstructure:"api_key"`
	AccessToken          string        `mapstructure:"access_token"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// MarketConfig defines trading hours in the exchange's own timezone.
type MarketConfig struct {
	Timezone string `mapstructure:"timezone"` // e.g. "Asia/Kolkata"
	Open     string `mapstructure:"open"`     // "HH:MM", e.g. "09:15"
	Close    string `mapstructure:"close"`    // "HH:MM", e.g. "15:30"
}

// CandleConfig controls candle aggregation.
type CandleConfig struct {
	Window        string        `mapstructure:"window"`         // e.g. "5s", "1m"
	HistorySize   int           `mapstructure:"history_size"`   // completed candles kept per instrument
	FlushInterval time.Duration `mapstructure:"flush_interval"` // drain/evaluate cadence
}

// NotifyConfig configures the outbound notification provider.
type NotifyConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	UserName string        `mapstructure:"user_name"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., FEED_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.timezone", "Asia/Kolkata")
	v.SetDefault("market.open", "09:15")
	v.SetDefault("market.close", "15:30")
	v.SetDefault("candle.window", "5s")
	v.SetDefault("candle.history_size", 20)
	v.SetDefault("candle.flush_interval", time.Second)
	v.SetDefault("feed.dial_timeout", 10*time.Second)
	v.SetDefault("feed.max_reconnect_attempts", 50)
	v.SetDefault("notify.timeout", 10*time.Second)
}
