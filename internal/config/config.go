package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string    `yaml:"env" env:"APP_ENV" env-default:"development"`
	HTTP      HTTP      `yaml:"http"`
	DB        DB        `yaml:"db"`
	Cache     Cache     `yaml:"cache"`
	Upstream  Upstream  `yaml:"upstream"`
	Proxy     Proxy     `yaml:"proxy"`
	Breaker   Breaker   `yaml:"breaker"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Auth      Auth      `yaml:"auth"`
	Kafka     Kafka     `yaml:"kafka"`
}

type HTTP struct {
	Address        string        `yaml:"address"         env:"HTTP_ADDRESS"         env-default:":8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout"    env:"HTTP_READ_TIMEOUT"    env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout"   env:"HTTP_WRITE_TIMEOUT"   env-default:"15s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"10s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"      env-default:"http://localhost:5173" env-separator:","`
}

type DB struct {
	Path string `yaml:"path" env:"DB_PATH" env-default:"./cyclecal.db"`
}

type Cache struct {
	Backend       string        `yaml:"backend"        env:"CACHE_BACKEND"  env-default:"memory"`
	TTL           time.Duration `yaml:"ttl"            env:"CACHE_TTL"      env-default:"5m"`
	RedisAddr     string        `yaml:"redis_addr"     env:"REDIS_URL"      env-default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db"       env:"REDIS_DB"       env-default:"0"`
}

type Upstream struct {
	ResultsBaseURL string        `yaml:"results_base_url" env:"RESULTS_BASE_URL" env-default:"https://www.crossresults.com"`
	EventSourceURL string        `yaml:"event_source_url" env:"EVENT_SOURCE_URL" env-default:"https://api.bikereg.com/graphql"`
	Timeout        time.Duration `yaml:"timeout"          env:"UPSTREAM_TIMEOUT" env-default:"8s"`
}

type Proxy struct {
	APIKey       string   `yaml:"api_key"        env:"PROXY_API_KEY"`
	APIKeyHeader string   `yaml:"api_key_header" env:"PROXY_API_KEY_HEADER" env-default:"X-API-Key"`
	SecuredBases []string `yaml:"secured_bases"  env:"PROXY_SECURED_BASES"  env-separator:","`
}

type Breaker struct {
	MaxRequests         uint32        `yaml:"max_requests"         env:"CB_MAX_REQUESTS"         env-default:"5"`
	Interval            time.Duration `yaml:"interval"             env:"CB_INTERVAL"             env-default:"60s"`
	Timeout             time.Duration `yaml:"timeout"              env:"CB_TIMEOUT"              env-default:"10s"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"CB_CONSECUTIVE_FAILURES" env-default:"3"`
}

type RateLimit struct {
	Limit float64 `yaml:"limit" env:"RATE_LIMIT" env-default:"100"`
	Burst int     `yaml:"burst" env:"RATE_BURST" env-default:"20"`
}

type Auth struct {
	JWTSecret     string        `yaml:"jwt_secret"     env:"JWT_SECRET_KEY"`
	TokenTTL      time.Duration `yaml:"token_ttl"      env:"JWT_TOKEN_TTL"  env-default:"24h"`
	AdminUsername string        `yaml:"admin_username" env:"ADMIN_USERNAME" env-default:"admin"`
	AdminPassword string        `yaml:"admin_password" env:"ADMIN_PASSWORD"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic"   env:"KAFKA_TOPIC"   env-default:"event-changes"`
}

// Load reads the configuration from the environment. When CONFIG_PATH is
// set the YAML file it points to is read first and the environment
// overrides it.
func Load() (Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for binaries that cannot start without configuration.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
