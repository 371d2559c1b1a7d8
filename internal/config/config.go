// Package config loads service configuration from an optional YAML file,
// an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Payment  PaymentConfig  `yaml:"payment"`
	CORS     CORSConfig     `yaml:"cors"`
	Health   HealthConfig   `yaml:"health"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	// RateLimitRPM bounds requests per minute per client on limited routes.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// DatabaseConfig holds MongoDB configuration
type DatabaseConfig struct {
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`
	// Transactions enables multi-document transactions. Requires a replica set.
	Transactions bool `yaml:"transactions"`
}

// JWTConfig holds token signing configuration. Either Secret or Keys must be set.
type JWTConfig struct {
	Secret    string            `yaml:"secret"`
	Keys      map[string]string `yaml:"keys"`
	ActiveKID string            `yaml:"active_kid"`
	TTL       time.Duration     `yaml:"ttl"`
}

// PaymentConfig holds the payment provider configuration
type PaymentConfig struct {
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	Currency  string `yaml:"currency"`
}

// CORSConfig lists the browser origins allowed to send the session cookie
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HealthConfig holds the gRPC health probe configuration. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration. path may be empty or point to a missing
// file, in which case only defaults and the environment are used.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; absence is not an error
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         5000,
			Environment:  "development",
			RateLimitRPM: 30,
		},
		Database: DatabaseConfig{
			Name: "biodataDB",
		},
		JWT: JWTConfig{
			TTL: 5 * 24 * time.Hour,
		},
		Payment: PaymentConfig{
			BaseURL:  "https://api.stripe.com",
			Currency: "usd",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnv() error {
	setString(&c.Database.URI, "MONGODB_URI")
	setString(&c.Database.Name, "MONGODB_DATABASE")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.JWT.ActiveKID, "JWT_ACTIVE_KID")
	setString(&c.Server.Host, "HOST")
	setString(&c.Server.Environment, "ENVIRONMENT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Payment.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Payment.BaseURL, "STRIPE_BASE_URL")

	if v := os.Getenv("JWT_KEYS"); v != "" {
		keys, err := ParseKeys(v)
		if err != nil {
			return err
		}
		c.JWT.Keys = keys
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}

	for key, dst := range map[string]*int{
		"PORT":           &c.Server.Port,
		"RATE_LIMIT_RPM": &c.Server.RateLimitRPM,
		"HEALTH_PORT":    &c.Health.Port,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TRUST_PROXY %q: %w", v, err)
		}
		c.Server.TrustProxy = b
	}
	if v := os.Getenv("MONGODB_TRANSACTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MONGODB_TRANSACTIONS %q: %w", v, err)
		}
		c.Database.Transactions = b
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return errors.New("MONGODB_URI must be set")
	}
	if c.Database.Name == "" {
		return errors.New("database name must be set")
	}
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWT.Keys) > 0 {
		if c.JWT.ActiveKID == "" {
			return errors.New("JWT_ACTIVE_KID must be set when JWT_KEYS is used")
		}
		if _, ok := c.JWT.Keys[c.JWT.ActiveKID]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", c.JWT.ActiveKID)
		}
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt ttl must be positive")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// IsProduction reports whether the service runs with production cookie rules.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseKeys parses "kid:secret,kid2:secret2" into a key map.
func ParseKeys(v string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	if len(keys) == 0 {
		return nil, errors.New("JWT_KEYS contains no keys")
	}
	return keys, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
