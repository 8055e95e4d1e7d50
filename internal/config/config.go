package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
		Name    string `mapstructure:"name"`
		Version string `mapstructure:"version"`
	} `mapstructure:"server"`
	DB struct {
		Driver   string `mapstructure:"driver"`
		Path     string `mapstructure:"path"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	MCP struct {
		Transport string `mapstructure:"transport"`
	} `mapstructure:"mcp"`
	Auth struct {
		Enabled      bool   `mapstructure:"enabled"`
		OktaDomain   string `mapstructure:"okta_domain"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Logging struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"logging"`
	Confirmation struct {
		TTL    time.Duration `mapstructure:"ttl"`
		Secret string        `mapstructure:"secret"`
	} `mapstructure:"confirmation"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// EnvPrefix is prepended to every environment override, e.g.
// ARGO_MCP_DB_DRIVER=postgres.
const EnvPrefix = "ARGO_MCP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.name", "argo-workflows-mcp")
	v.SetDefault("server.version", "0.2.0")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", "argo-workflows-mcp.db")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("mcp.transport", TransportStdio)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("confirmation.ttl", 10*time.Minute)

	// Keys without a meaningful default are still registered so AutomaticEnv
	// can override them during Unmarshal.
	for _, key := range []string{
		"db.host", "db.user", "db.password", "db.name",
		"auth.okta_domain", "auth.client_id", "auth.client_secret", "auth.redirect_url",
		"tls.cert_file", "tls.key_file", "logging.file", "confirmation.secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("tls.enable", false)
	v.SetDefault("logging.compress", false)
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file is
// not an error, defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.MCP.Transport = strings.ToLower(strings.TrimSpace(config.MCP.Transport))
	config.DB.Driver = strings.ToLower(strings.TrimSpace(config.DB.Driver))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.MCP.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return errors.New("mcp.transport must be stdio or http")
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("db.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return errors.New("db.host and db.name are required for the postgres driver")
		}
	default:
		return errors.New("db.driver must be sqlite or postgres")
	}
	if c.Confirmation.TTL <= 0 {
		return errors.New("confirmation.ttl must be positive")
	}
	return nil
}

// IsDev reports whether the server runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// normalizeOktaIssuer strips whitespace and a trailing slash so issuers pasted
// from the Okta admin console compare equal to the discovered issuer.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
