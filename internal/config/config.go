package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort string

	RailProvider     string
	CelcoinBaseURL   string
	CelcoinClientID  string
	CelcoinClientKey string

	SchedulerEnabled  bool
	DispatcherEnabled bool

	WebhookMaxAttempts int
	WebhookBaseBackoff time.Duration
	RailTimeout        time.Duration
}

// New loads and validates configuration from environment variables.
// The scheduler and webhook dispatcher are optional per process so the
// sweep loops can run on a dedicated instance.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:             os.Getenv("PAGCORE_POSTGRES_USER"),
		DBPass:             os.Getenv("PAGCORE_POSTGRES_PASSWORD"),
		DBHost:             os.Getenv("PAGCORE_POSTGRES_HOST"),
		DBPort:             os.Getenv("PAGCORE_POSTGRES_PORT"),
		DBName:             os.Getenv("PAGCORE_POSTGRES_DB"),
		SSLMode:            os.Getenv("PAGCORE_POSTGRES_SSLMODE"),
		RedisHost:          os.Getenv("PAGCORE_REDIS_HOST"),
		RedisPort:          os.Getenv("PAGCORE_REDIS_PORT"),
		NatsHost:           os.Getenv("PAGCORE_NATS_HOST"),
		NatsPort:           os.Getenv("PAGCORE_NATS_PORT"),
		ApiPort:            os.Getenv("PAGCORE_API_PORT"),
		RailProvider:       os.Getenv("PAGCORE_RAIL_PROVIDER"),
		CelcoinBaseURL:     os.Getenv("PAGCORE_CELCOIN_BASE_URL"),
		CelcoinClientID:    os.Getenv("PAGCORE_CELCOIN_CLIENT_ID"),
		CelcoinClientKey:   os.Getenv("PAGCORE_CELCOIN_CLIENT_SECRET"),
		SchedulerEnabled:   os.Getenv("PAGCORE_SCHEDULER_ENABLED") != "false",
		DispatcherEnabled:  os.Getenv("PAGCORE_DISPATCHER_ENABLED") != "false",
		WebhookMaxAttempts: getEnvInt("PAGCORE_WEBHOOK_MAX_ATTEMPTS", 5),
		WebhookBaseBackoff: getEnvDuration("PAGCORE_WEBHOOK_BASE_BACKOFF", 30*time.Second),
		RailTimeout:        getEnvDuration("PAGCORE_RAIL_TIMEOUT", 2*time.Hour),
	}

	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: PAGCORE_POSTGRES_USER/HOST/DB/SSLMODE")
	}
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: PAGCORE_REDIS_HOST/PORT")
	}
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: PAGCORE_NATS_HOST/PORT")
	}
	if cfg.ApiPort == "" {
		return nil, fmt.Errorf("missing required env: PAGCORE_API_PORT")
	}

	if cfg.RailProvider == "" {
		cfg.RailProvider = "loopback"
	}
	if cfg.RailProvider != "celcoin" && cfg.RailProvider != "loopback" {
		return nil, fmt.Errorf("invalid rail provider %q, must be 'celcoin' or 'loopback'", cfg.RailProvider)
	}
	if cfg.RailProvider == "celcoin" &&
		(cfg.CelcoinBaseURL == "" || cfg.CelcoinClientID == "" || cfg.CelcoinClientKey == "") {
		return nil, fmt.Errorf("missing required env for celcoin rail: PAGCORE_CELCOIN_BASE_URL/CLIENT_ID/CLIENT_SECRET")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
