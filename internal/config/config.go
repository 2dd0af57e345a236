package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Roles a credential can carry
const (
	RoleOwner  = "owner"
	RoleKeeper = "keeper"
)

// Credential is an API key pair and the role its tokens are issued with
type Credential struct {
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`
	Role   string `yaml:"role"`
}

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret      string       `yaml:"jwt_secret"`
		APICredentials []Credential `yaml:"api_credentials"`
	} `yaml:"auth"`
	Keeper struct {
		Enabled    bool              `yaml:"enabled"`
		Identity   string            `yaml:"identity"`
		DcaCron    string            `yaml:"dca_cron"`
		IntentCron string            `yaml:"intent_cron"`
		PriceTTL   int64             `yaml:"price_ttl"` // seconds
		Seed       int64             `yaml:"seed"`
		Prices     map[string]uint64 `yaml:"prices"`    // USD, 6 decimals
		Inventory  map[string]uint64 `yaml:"inventory"` // float minted to the keeper at startup
	} `yaml:"keeper"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("KEEPER_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Keeper.Enabled = enabled
		}
	}
	if v := os.Getenv("KEEPER_IDENTITY"); v != "" {
		cfg.Keeper.Identity = v
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "vaults.db"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "klear-secret-key"
	}
	if len(cfg.Auth.APICredentials) == 0 {
		cfg.Auth.APICredentials = []Credential{
			{Key: "test-api-key", Secret: "test-api-secret", Role: RoleOwner},
			{Key: "test-keeper-key", Secret: "test-keeper-secret", Role: RoleKeeper},
		}
	}
	if cfg.Keeper.Identity == "" {
		cfg.Keeper.Identity = "test-keeper-key"
	}
	if cfg.Keeper.DcaCron == "" {
		cfg.Keeper.DcaCron = "*/30 * * * * *"
	}
	if cfg.Keeper.IntentCron == "" {
		cfg.Keeper.IntentCron = "*/10 * * * * *"
	}
	if cfg.Keeper.PriceTTL == 0 {
		cfg.Keeper.PriceTTL = 10
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port %q is not a valid port", c.Server.Port)
	}
	for _, cred := range c.Auth.APICredentials {
		if cred.Key == "" || cred.Secret == "" {
			return fmt.Errorf("auth.api_credentials entries need a key and a secret")
		}
		if cred.Role != RoleOwner && cred.Role != RoleKeeper {
			return fmt.Errorf("auth.api_credentials %s has unknown role %q", cred.Key, cred.Role)
		}
	}
	if c.Keeper.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Keeper.DcaCron); err != nil {
			return fmt.Errorf("keeper.dca_cron: %w", err)
		}
		if _, err := parser.Parse(c.Keeper.IntentCron); err != nil {
			return fmt.Errorf("keeper.intent_cron: %w", err)
		}
		if c.Keeper.Identity == "" {
			return fmt.Errorf("keeper.identity is required when the keeper is enabled")
		}
	}
	return nil
}

// Production reports whether the service runs in production mode
func (c *Config) Production() bool {
	return c.Server.Env == "production"
}
