// Package config loads the Atlas server configuration.
//
// Configuration comes from an optional YAML file (selected by the --config
// flag or ATLAS_CONFIG) and is then overridden by environment variables.
// Defaults are suitable for local development only; production deployments
// must set both JWT secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment mode.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

const (
	defaultAccessSecret  = "dev-access-secret-change-me"
	defaultRefreshSecret = "dev-refresh-secret-change-me"
)

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port string      `yaml:"port"`
	Env  Environment `yaml:"env"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file. Its directory is created on startup.
	Path string `yaml:"path"`
}

// JWTConfig configures token signing. Access and refresh tokens use
// independent secrets.
type JWTConfig struct {
	Secret        string        `yaml:"secret"`
	ExpiresIn     time.Duration `yaml:"expires_in"`
	RefreshSecret string        `yaml:"refresh_secret"`
	RefreshTTL    time.Duration `yaml:"refresh_expires_in"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// RateLimitConfig configures the per-IP API rate limit.
// A zero Requests value disables limiting.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// AuditConfig configures activity log retention. A zero Retention keeps
// entries forever.
type AuditConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// BootstrapConfig optionally seeds an admin account at startup.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: "3000", Env: Development},
		Database: DatabaseConfig{Path: "data/atlas.db"},
		JWT: JWTConfig{
			Secret:        defaultAccessSecret,
			ExpiresIn:     24 * time.Hour,
			RefreshSecret: defaultRefreshSecret,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		CORS:      CORSConfig{Origins: []string{"*"}},
		RateLimit: RateLimitConfig{Requests: 100, Window: 15 * time.Minute},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults and then
// applies environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. lookup is injected
// so tests do not have to mutate the process environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PORT", &c.Server.Port)
	if v, ok := lookup("ATLAS_ENV"); ok && v != "" {
		c.Server.Env = Environment(v)
	}
	str("ATLAS_DB_PATH", &c.Database.Path)
	str("ATLAS_JWT_SECRET", &c.JWT.Secret)
	str("ATLAS_JWT_REFRESH_SECRET", &c.JWT.RefreshSecret)
	if err := dur("ATLAS_JWT_EXPIRES_IN", &c.JWT.ExpiresIn); err != nil {
		return err
	}
	if err := dur("ATLAS_JWT_REFRESH_EXPIRES_IN", &c.JWT.RefreshTTL); err != nil {
		return err
	}
	if v, ok := lookup("ATLAS_CORS_ORIGIN"); ok && v != "" {
		c.CORS.Origins = splitList(v)
	}
	if v, ok := lookup("ATLAS_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ATLAS_RATE_LIMIT: %w", err)
		}
		c.RateLimit.Requests = n
	}
	if err := dur("ATLAS_AUDIT_RETENTION", &c.Audit.Retention); err != nil {
		return err
	}
	str("ATLAS_ADMIN_EMAIL", &c.Bootstrap.AdminEmail)
	str("ATLAS_ADMIN_PASSWORD", &c.Bootstrap.AdminPassword)
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Server.Env {
	case Development, Production, Test:
	default:
		errs = append(errs, fmt.Errorf("server.env: unknown environment %q", c.Server.Env))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.JWT.Secret == "" || c.JWT.RefreshSecret == "" {
		errs = append(errs, errors.New("jwt.secret and jwt.refresh_secret are required"))
	}
	if c.JWT.Secret == c.JWT.RefreshSecret {
		errs = append(errs, errors.New("jwt.secret and jwt.refresh_secret must differ"))
	}
	if c.Server.Env == Production &&
		(c.JWT.Secret == defaultAccessSecret || c.JWT.RefreshSecret == defaultRefreshSecret) {
		errs = append(errs, errors.New("default JWT secrets are not allowed in production"))
	}
	if c.JWT.ExpiresIn <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("jwt lifetimes must be positive"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("rate_limit.requests must not be negative"))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("bootstrap.admin_email and bootstrap.admin_password must be set together"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Server.Env == Production
}

// parseDuration accepts Go durations plus a "d" day suffix ("7d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
