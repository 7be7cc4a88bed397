package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisChatHost string `env:"REDIS_CHAT_HOST" envDefault:"localhost"`
	RedisChatPort uint16 `env:"REDIS_CHAT_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	// SharedSecret signs connection checksums; the token issuer must use the
	// same value.
	SharedSecret string `env:"SHARED_SECRET" validate:"required"`

	// AuthMode selects where websocket credentials come from: "query" reads
	// them from the connection URL, "session" from a Redis-backed session.
	AuthMode string `env:"AUTH_MODE" envDefault:"query" validate:"oneof=query session"`

	CallbackTimeoutMs uint32 `env:"CALLBACK_TIMEOUT_MS" envDefault:"4000" validate:"min=100"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
