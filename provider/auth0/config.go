package auth0

import (
	"strings"
)

// DefaultConnection is the Auth0 database connection created by default
// for every tenant.
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 tenant settings.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// ClientID and ClientSecret belong to an application allowed to use
	// the Management API and the password grant.
	ClientID     string
	ClientSecret string

	// Connection is the database connection accounts live in.
	// Default: DefaultConnection.
	Connection string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain, clientID, clientSecret string) Config {
	return Config{
		Domain:       domain,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Connection:   DefaultConnection,
	}
}

// host returns the bare tenant host; the SDK adds the scheme itself.
func (c Config) host() string {
	domain := strings.TrimSpace(c.Domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}

func (c Config) connection() string {
	if conn := strings.TrimSpace(c.Connection); conn != "" {
		return conn
	}
	return DefaultConnection
}
