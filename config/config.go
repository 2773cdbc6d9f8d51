package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Config is the auth server configuration, read from the environment
type Config struct {
	Addr        string `env:"AUTH_ADDR" envDefault:":8787" json:"addr"`
	DatabaseDSN string `env:"AUTH_DATABASE_DSN" envDefault:"file:budgetwise-auth.db?cache=shared" json:"database_dsn"`
	RoutePrefix string `env:"AUTH_ROUTE_PREFIX" envDefault:"/auth" json:"route_prefix"`

	SigningKey string   `env:"AUTH_SIGNING_KEY" json:"signing_key"`
	Issuer     string   `env:"AUTH_ISSUER" envDefault:"budgetwise" json:"issuer"`
	Audience   []string `env:"AUTH_AUDIENCE" envSeparator:"," json:"audience,omitempty"`

	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"15m" json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"168h" json:"refresh_token_ttl"`
	ResetTokenTTL   time.Duration `env:"AUTH_RESET_TOKEN_TTL" envDefault:"24h" json:"reset_token_ttl"`
	ConfirmationTTL time.Duration `env:"AUTH_CONFIRMATION_TOKEN_TTL" envDefault:"48h" json:"confirmation_ttl"`
	Leeway          time.Duration `env:"AUTH_TOKEN_LEEWAY" envDefault:"0s" json:"leeway"`

	CookieDomain             string `env:"AUTH_COOKIE_DOMAIN" json:"cookie_domain,omitempty"`
	RequireEmailConfirmation bool   `env:"AUTH_REQUIRE_EMAIL_CONFIRMATION" json:"require_email_confirmation"`
	BcryptCost               int    `env:"AUTH_BCRYPT_COST" envDefault:"10" json:"bcrypt_cost"`

	RateLimitMax    int           `env:"AUTH_RATE_LIMIT_MAX" envDefault:"20" json:"rate_limit_max"`
	RateLimitWindow time.Duration `env:"AUTH_RATE_LIMIT_WINDOW" envDefault:"1m" json:"rate_limit_window"`

	Debug bool `env:"AUTH_DEBUG" json:"debug"`
}

// Load reads the optional dotenv files and parses the environment. Missing
// dotenv files are ignored.
func Load(filenames ...string) (Config, error) {
	_ = godotenv.Load(filenames...)
	return Parse()
}

// Parse reads the configuration from the process environment
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse env")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DatabaseDSN, validation.Required),
		validation.Field(&c.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&c.AccessTokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.RefreshTokenTTL, validation.Required, validation.Min(time.Hour)),
		validation.Field(&c.ResetTokenTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.ConfirmationTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.RateLimitMax, validation.Min(0)),
	)
	if err != nil {
		return goerrors.New(fmt.Sprintf("invalid auth config: %v", err), goerrors.CategoryValidation)
	}
	return nil
}
