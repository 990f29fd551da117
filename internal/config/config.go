package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Addr            string        `yaml:"addr" env:"API_ADDR" env-default:":8787"`
	DatabaseDialect string        `yaml:"database_dialect" env:"DATABASE_DIALECT" env-default:"sqlite"`
	DatabaseURL     string        `yaml:"database_url" env:"DATABASE_URL" env-default:"./data/taskboard.db"`
	JWTSecret       string        `yaml:"jwt_secret" env:"TASKBOARD_JWT_SECRET" env-default:"taskboard-dev-secret"`
	TokenTTL        time.Duration `yaml:"token_ttl" env:"TASKBOARD_TOKEN_TTL" env-default:"24h"`
	WebhookSecret   string        `yaml:"webhook_secret" env:"TASKBOARD_WEBHOOK_SECRET"`
	CORSOrigin      string        `yaml:"cors_origin" env:"TASKBOARD_CORS_ORIGIN" env-default:"*"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT" env-default:"text"`
	// Redis fans board events out across instances; empty keeps them in-process.
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	// Meilisearch is optional; search falls back to SQL when unset or down.
	MeiliURL       string `yaml:"meili_url" env:"MEILI_URL"`
	MeiliMasterKey string `yaml:"meili_master_key" env:"MEILI_MASTER_KEY"`
	// Object storage for board exports.
	MinioEndpoint  string `yaml:"minio_endpoint" env:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minio_access_key" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minio_secret_key" env:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minio_bucket" env:"MINIO_BUCKET" env-default:"taskboard-exports"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

// Load reads configPath when it exists and fills the rest from the
// environment. An empty path reads the environment only.
func Load(configPath string) (Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			if err := cleanenv.ReadEnv(&cfg); err != nil {
				return Config{}, fmt.Errorf("read env: %w", err)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", configPath, err)
	}
	return cfg, nil
}
