package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "SINCROGOO"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "sincrogoo.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "app_session"
	defaultSessionIssuer   = "sincrogoo-auth"
	defaultServiceSubject  = "sincrogoo-service"
	defaultServiceAudience = "sincrogoo-store"
	defaultEnvironment     = "development"
)

// AppConfig captures runtime configuration for the sync API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	ServiceTokenSecret   string
	ServiceSubject       string
	ServiceAudience      string
	ServiceTokenTTL      time.Duration
	Environment          string
	RESTBaseURL          string
	RESTAPIKey           string
}

// Production reports whether the process runs with production semantics,
// which makes anonymous store access fail closed.
func (c AppConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("service.subject", defaultServiceSubject)
	configViper.SetDefault("service.audience", defaultServiceAudience)
	configViper.SetDefault("service.token_ttl_minutes", 30)
	configViper.SetDefault("environment", defaultEnvironment)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		ServiceTokenSecret:   configViper.GetString("service.token_secret"),
		ServiceSubject:       configViper.GetString("service.subject"),
		ServiceAudience:      configViper.GetString("service.audience"),
		ServiceTokenTTL:      time.Duration(configViper.GetInt("service.token_ttl_minutes")) * time.Minute,
		Environment:          configViper.GetString("environment"),
		RESTBaseURL:          configViper.GetString("rest.base_url"),
		RESTAPIKey:           configViper.GetString("rest.api_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	return nil
}
