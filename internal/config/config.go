package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/livequiz.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// Optional infrastructure. Empty means in-process only.
	RedisURL string `env:"REDIS_URL"`
	NATSURL  string `env:"NATS_URL"`

	AuthSecret          string        `env:"AUTH_SECRET" envDefault:"dev-secret"`
	ParticipantTokenTTL time.Duration `env:"PARTICIPANT_TOKEN_TTL" envDefault:"12h"`

	JoinGracePeriod  time.Duration `env:"JOIN_GRACE_PERIOD" envDefault:"0s"`
	ResumeCooldown   time.Duration `env:"RESUME_COOLDOWN" envDefault:"2s"`
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`

	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// SeedDemo creates a demo event at startup and logs its join code.
	SeedDemo bool `env:"SEED_DEMO" envDefault:"false"`
}

// Load reads an optional .env file from the working directory and then
// parses the environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.AuthSecret == "":
		return errors.New("AUTH_SECRET must not be empty")
	case c.ParticipantTokenTTL <= 0:
		return errors.New("PARTICIPANT_TOKEN_TTL must be positive")
	case c.JoinGracePeriod < 0:
		return errors.New("JOIN_GRACE_PERIOD must not be negative")
	case c.ResumeCooldown < 0:
		return errors.New("RESUME_COOLDOWN must not be negative")
	case c.SubscriberBuffer <= 0:
		return errors.New("SUBSCRIBER_BUFFER must be positive")
	}
	return nil
}
