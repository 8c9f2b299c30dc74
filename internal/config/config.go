package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "WAYPOINT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDriver       = DriverSQLite
	defaultDatabasePath = "waypoint.db"
	defaultLogLevel     = "info"
	defaultCookieName   = "waypoint_session"
	defaultIssuer       = "waypoint-auth"
)

// Supported database.driver values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	LogLevel          string
	LogFile           string
	SessionSigningKey string
	SessionCookieName string
	SessionIssuer     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultIssuer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		LogFile:           configViper.GetString("log.file"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SessionIssuer:     configViper.GetString("session.issuer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	return nil
}
