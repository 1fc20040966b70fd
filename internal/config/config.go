// Package config loads server configuration from the environment.
//
// An optional .env file in the working directory is read first (values
// already set in the real environment win), then variables are parsed into
// Config through struct tags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Hash algorithms accepted in HASH_ALGORITHM.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

const minJWTSecretLength = 16

// Config holds every setting the server reads at startup.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	// DatabaseURL selects the Postgres store; when empty the SQLite file at
	// DBPath is used.
	DBPath      string `env:"DB_PATH"      envDefault:"data/identity.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSecret string        `env:"JWT_SECRET,unset"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"identity-service"`
	JWTTTL    time.Duration `env:"JWT_TTL"    envDefault:"15m"`
	// SecureCookie sets the Secure flag on the login cookie.
	SecureCookie bool `env:"SECURE_COOKIE" envDefault:"false"`

	HashAlgorithm     string `env:"HASH_ALGORITHM"     envDefault:"bcrypt"`
	BcryptCost        int    `env:"BCRYPT_COST"        envDefault:"12"`
	Argon2MemoryKB    uint32 `env:"ARGON2_MEMORY_KB"   envDefault:"65536"`
	Argon2Time        uint32 `env:"ARGON2_TIME"        envDefault:"3"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	// HashConcurrency caps concurrent hash computations; 0 means GOMAXPROCS.
	HashConcurrency int `env:"HASH_CONCURRENCY" envDefault:"0"`

	// RedisAddr enables token revocation on logout when set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD,unset"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTelEnabled  bool   `env:"OTEL_ENABLED"  envDefault:"true"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromMap parses cfg from environ instead of the process environment.
func FromMap(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every setting that would keep the server from starting.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		errs = append(errs, errors.New("one of DATABASE_URL or DB_PATH is required"))
	}
	switch c.HashAlgorithm {
	case HashBcrypt, HashArgon2id:
	default:
		errs = append(errs, fmt.Errorf("HASH_ALGORITHM must be %q or %q, got %q", HashBcrypt, HashArgon2id, c.HashAlgorithm))
	}
	if c.HashConcurrency < 0 {
		errs = append(errs, errors.New("HASH_CONCURRENCY must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel converts LOG_LEVEL to a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return level, nil
}
