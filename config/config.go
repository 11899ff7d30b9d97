// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills unset fields with the server's operational defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "nioca"
	}
	if cfg.Database.MaxConn == 0 {
		cfg.Database.MaxConn = 10
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.PortHTTP == 0 {
		cfg.Server.PortHTTP = 8080
	}
	if cfg.Server.PortHTTPS == 0 {
		cfg.Server.PortHTTPS = 8443
	}
	if cfg.Server.PortHTTPSPub == 0 {
		cfg.Server.PortHTTPSPub = cfg.Server.PortHTTPS
	}
	if cfg.Server.OutboundTimeout == 0 {
		cfg.Server.OutboundTimeout = 10 * time.Second
	}
	if cfg.Server.CertSubjectCommon == "" {
		cfg.Server.CertSubjectCommon = "nioca-ca"
	}

	if cfg.Unseal == nil {
		cfg.Unseal = &UnsealConfig{}
	}
	if cfg.Unseal.RateLimit == 0 {
		cfg.Unseal.RateLimit = 10
	}

	if cfg.AutoUnseal == nil {
		cfg.AutoUnseal = &AutoUnsealConfig{}
	}
	if cfg.AutoUnseal.Interval == 0 {
		cfg.AutoUnseal.Interval = 30 * time.Second
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = cfg.Metrics.Port
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}

	if cfg.Session == nil {
		cfg.Session = &SessionConfig{}
	}
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = 8 * time.Hour
	}
	if cfg.Session.TimeoutUnauthenticated == 0 {
		cfg.Session.TimeoutUnauthenticated = 5 * time.Minute
	}

	if cfg.Oidc == nil {
		cfg.Oidc = &OidcClientConfig{}
	}
	if cfg.Oidc.AdminClaim == "" {
		cfg.Oidc.AdminClaim = "admin"
	}
	if cfg.Oidc.UserClaim == "" {
		cfg.Oidc.UserClaim = "user"
	}
	if cfg.Oidc.ClaimPath == "" {
		cfg.Oidc.ClaimPath = "roles"
	}
}
