package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8081"`

	DatabaseDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"attendance.db"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	SessionBackend string `env:"SESSION_BACKEND" envDefault:"memory"`

	JWTIssuer       string        `env:"JWT_ISSUER" envDefault:"rollcall"`
	JWTSigningKey   string        `env:"JWT_SIGNING_KEY" envDefault:"dev-signing-secret-change"`
	AdminSessionTTL time.Duration `env:"ADMIN_SESSION_TTL" envDefault:"12h"`
	CookieSecure    bool          `env:"COOKIE_SECURE" envDefault:"false"`

	BootstrapAdminUser     string `env:"BOOTSTRAP_ADMIN_USER" envDefault:"admin"`
	BootstrapAdminPassword string `env:"BOOTSTRAP_ADMIN_PASSWORD" envDefault:"admin123"`
	BcryptCost             int    `env:"BCRYPT_COST" envDefault:"12"`

	Sections  []string `env:"SECTIONS" envSeparator:"," envDefault:"CSE-A,CSE-B,CSE-C"`
	PublicURL string   `env:"PUBLIC_URL" envDefault:"http://localhost:8081"`

	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`
}

// Load reads an optional .env file and then parses the environment.
// Variables already present in the environment win over the file.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sections = normalizeSections(cfg.Sections)
	if err := cfg.validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Production reports whether the app runs with production defaults.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// FirstSection is the section shown by the live view when none is requested.
func (a App) FirstSection() string {
	if len(a.Sections) == 0 {
		return ""
	}
	return a.Sections[0]
}

func (a App) validate() error {
	switch a.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", a.DatabaseDriver)
	}
	switch a.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND %q", a.SessionBackend)
	}
	if a.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required")
	}
	if a.AdminSessionTTL <= 0 {
		return errors.New("ADMIN_SESSION_TTL must be positive")
	}
	return nil
}

func normalizeSections(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
