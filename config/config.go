// Package config loads access-server settings from ACCESS_ prefixed
// environment variables and an optional config file.
package config

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "ACCESS"

var errRequired = errors.New("cannot be blank")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	SessionStoreSQL   = "sql"
	SessionStoreRedis = "redis"

	ProviderLocal = "local"
	ProviderAuth0 = "auth0"
)

// Config is the access-server configuration.
type Config struct {
	HTTPAddr             string        `mapstructure:"HTTP_ADDR"`
	MetricsAddr          string        `mapstructure:"METRICS_ADDR"`
	DBDriver             string        `mapstructure:"DB_DRIVER"`
	DBDSN                string        `mapstructure:"DB_DSN"`
	SessionSigningKey    string        `mapstructure:"SESSION_SIGNING_KEY"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	SessionIssuer        string        `mapstructure:"SESSION_ISSUER"`
	SessionStore         string        `mapstructure:"SESSION_STORE"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	RequireVerifiedEmail bool          `mapstructure:"REQUIRE_VERIFIED_EMAIL"`
	CredentialProvider   string        `mapstructure:"CREDENTIAL_PROVIDER"`
	Auth0Domain          string        `mapstructure:"AUTH0_DOMAIN"`
	Auth0ClientID        string        `mapstructure:"AUTH0_CLIENT_ID"`
	Auth0ClientSecret    string        `mapstructure:"AUTH0_CLIENT_SECRET"`
	Auth0Connection      string        `mapstructure:"AUTH0_CONNECTION"`
	PublicURL            string        `mapstructure:"PUBLIC_URL"`
	PhoneRegion          string        `mapstructure:"PHONE_REGION"`
	HashidUserIDs        bool          `mapstructure:"HASHID_USER_IDS"`
	Debug                bool          `mapstructure:"DEBUG"`
}

var keys = []string{
	"HTTP_ADDR", "METRICS_ADDR", "DB_DRIVER", "DB_DSN",
	"SESSION_SIGNING_KEY", "SESSION_TTL", "SESSION_ISSUER", "SESSION_STORE", "REDIS_URL",
	"REQUIRE_VERIFIED_EMAIL", "CREDENTIAL_PROVIDER",
	"AUTH0_DOMAIN", "AUTH0_CLIENT_ID", "AUTH0_CLIENT_SECRET", "AUTH0_CONNECTION",
	"PUBLIC_URL", "PHONE_REGION", "HASHID_USER_IDS", "DEBUG",
}

// Load reads configuration. file is optional; a missing file is ignored
// but a malformed one is an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_DSN", "file:access.db?cache=shared&_fk=1")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("SESSION_ISSUER", "go-access")
	v.SetDefault("SESSION_STORE", SessionStoreSQL)
	v.SetDefault("REQUIRE_VERIFIED_EMAIL", false)
	v.SetDefault("CREDENTIAL_PROVIDER", ProviderLocal)
	v.SetDefault("AUTH0_CONNECTION", "Username-Password-Authentication")
	v.SetDefault("PHONE_REGION", "US")
	v.SetDefault("HASHID_USER_IDS", false)
	v.SetDefault("DEBUG", false)

	// Unmarshal only sees env values for bound keys
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !goerrors.As(err, &notFound) && !isMissingFile(err) {
				return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
					WithTextCode("CONFIG_READ_FAILED")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config").
			WithTextCode("CONFIG_DECODE_FAILED")
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.CredentialProvider = strings.ToLower(strings.TrimSpace(cfg.CredentialProvider))

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(c,
			validation.Field(&c.HTTPAddr, validation.Required),
			validation.Field(&c.DBDriver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
			validation.Field(&c.DBDSN, validation.Required),
			validation.Field(&c.SessionSigningKey, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
			validation.Field(&c.SessionStore, validation.In(SessionStoreSQL, SessionStoreRedis)),
			validation.Field(&c.RedisURL, requiredWhen(c.SessionStore == SessionStoreRedis)),
			validation.Field(&c.CredentialProvider, validation.In(ProviderLocal, ProviderAuth0)),
			validation.Field(&c.Auth0Domain, requiredWhen(c.CredentialProvider == ProviderAuth0)),
			validation.Field(&c.Auth0ClientID, requiredWhen(c.CredentialProvider == ProviderAuth0)),
			validation.Field(&c.Auth0ClientSecret, requiredWhen(c.CredentialProvider == ProviderAuth0)),
		)
	}, "invalid configuration")
	if err != nil {
		return err
	}
	return nil
}

func requiredWhen(condition bool) validation.Rule {
	return validation.By(func(value any) error {
		if !condition {
			return nil
		}
		if s, _ := value.(string); strings.TrimSpace(s) == "" {
			return errRequired
		}
		return nil
	})
}

func isMissingFile(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "cannot find the file")
}
