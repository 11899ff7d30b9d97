// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// DotEnvPath overrides the .env file path loaded in development
	DotEnvPath string
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:      "config",
		Environment:    "",
		SkipValidation: false,
	}
}

// Load loads configuration with cascading file fallback, then applies
// environment variable overrides (highest priority), matching the external
// interfaces list.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	if env == "development" || env == "local" {
		LoadDotEnv(options.DotEnvPath)
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		errs := ValidateConfiguration(cfg)
		for _, e := range errs {
			if e.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// ValidationError reports a single configuration problem. Level "error"
// fails Load; Level "warning" is informational only.
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks the loaded config for obviously unusable
// values. It never reads secret material, only shape and presence.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Database == nil || cfg.Database.Host == "" {
		errs = append(errs, ValidationError{Field: "database.host", Message: "DB_HOST is required", Level: "error"})
	}
	if cfg.Database != nil && cfg.Database.User == "" {
		errs = append(errs, ValidationError{Field: "database.user", Message: "DB_USER is required", Level: "error"})
	}

	if cfg.Server != nil && cfg.Server.PortHTTP == cfg.Server.PortHTTPS {
		errs = append(errs, ValidationError{Field: "server.port_http", Message: "PORT_HTTP and PORT_HTTPS must differ", Level: "error"})
	}

	if cfg.Unseal != nil && !IsDevelopment() {
		if cfg.Unseal.CertB64 == "" || cfg.Unseal.KeyB64 == "" {
			errs = append(errs, ValidationError{Field: "unseal.cert_b64", Message: "UNSEAL_CERT_B64/UNSEAL_KEY_B64 are required outside development", Level: "error"})
		}
	}

	if cfg.AutoUnseal != nil && cfg.AutoUnseal.Enabled && !IsDevelopment() {
		errs = append(errs, ValidationError{Field: "auto_unseal.enabled", Message: "AUTO_UNSEAL is dev-only", Level: "warning"})
	}

	return errs
}
