package config

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/viper"
)

// Config stores configuration values for the console.
// Values come from an optional env-format file and environment variables;
// environment variables take precedence.
type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	AppEnv   string `mapstructure:"APP_ENV"`
	AppPort  string `mapstructure:"APP_PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Remote user API
	APIBaseURL      string        `mapstructure:"API_BASE_URL"`
	APIToken        string        `mapstructure:"API_TOKEN"`
	APITimeout      time.Duration `mapstructure:"API_TIMEOUT"`
	APIUpdateMethod string        `mapstructure:"API_UPDATE_METHOD"`

	// Console behaviour
	RefetchInterval time.Duration `mapstructure:"CONSOLE_REFETCH_INTERVAL"`
	Retry           int           `mapstructure:"CONSOLE_RETRY"`
	RetryMaxDelay   time.Duration `mapstructure:"CONSOLE_RETRY_MAX_DELAY"`
	SuccessTTL      time.Duration `mapstructure:"CONSOLE_SUCCESS_TTL"`

	SessionTTL    time.Duration `mapstructure:"SESSION_TTL"`
	SessionCookie string        `mapstructure:"SESSION_COOKIE"`

	// Redis is optional; sessions stay in memory and mutations are not
	// rate limited without it.
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	RateLimitCapacity   int     `mapstructure:"RATE_LIMIT_CAPACITY"`
	RateLimitRefillRate float64 `mapstructure:"RATE_LIMIT_REFILL_RATE"`

	// RabbitMQ is optional; without it invalidations stay local.
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`
}

var defaults = map[string]any{
	"APP_NAME":  "user-console",
	"APP_ENV":   "development",
	"APP_PORT":  ":8087",
	"LOG_LEVEL": "info",

	"API_BASE_URL":      "http://localhost:8080/api",
	"API_TOKEN":         "",
	"API_TIMEOUT":       10 * time.Second,
	"API_UPDATE_METHOD": "PUT",

	"CONSOLE_REFETCH_INTERVAL": 3 * time.Second,
	"CONSOLE_RETRY":            3,
	"CONSOLE_RETRY_MAX_DELAY":  30 * time.Second,
	"CONSOLE_SUCCESS_TTL":      3 * time.Second,

	"SESSION_TTL":    12 * time.Hour,
	"SESSION_COOKIE": "console_session",

	"REDIS_HOST":     "",
	"REDIS_PORT":     "6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"RATE_LIMIT_CAPACITY":    20,
	"RATE_LIMIT_REFILL_RATE": 2.0,

	"RABBITMQ_URL":      "",
	"RABBITMQ_EXCHANGE": "user_console.invalidations",
}

// Load reads filePath when it is not empty, then applies environment
// variables over it.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// RedisEnabled reports whether a Redis host is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, c.RedisPort)
}

func (c *Config) RabbitMQEnabled() bool {
	return c.RabbitMQURL != ""
}
