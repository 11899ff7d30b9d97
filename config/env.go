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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a `.env` file into the process environment if present.
// It is a no-op in production-style deployments where the file does not
// exist; missing files are not an error.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

// GetEnvironment returns the current environment from CA_ENV or ENVIRONMENT,
// defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("CA_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment.
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// applyEnvironmentOverrides overrides config fields with the environment
// variables named in the external interfaces list. Environment variables
// take priority over the defaults file.
func applyEnvironmentOverrides(cfg *Config) {
	if cfg.Database != nil {
		cfg.Database.Host = envString("DB_HOST", cfg.Database.Host)
		cfg.Database.Port = envInt("DB_PORT", cfg.Database.Port)
		cfg.Database.User = envString("DB_USER", cfg.Database.User)
		cfg.Database.Password = envString("DB_PASSWORD", cfg.Database.Password)
		cfg.Database.MaxConn = envInt("DATABASE_MAX_CONN", cfg.Database.MaxConn)
	}

	if cfg.Server != nil {
		cfg.Server.PubURL = envString("PUB_URL", cfg.Server.PubURL)
		cfg.Server.PortHTTP = envInt("PORT_HTTP", cfg.Server.PortHTTP)
		cfg.Server.PortHTTPS = envInt("PORT_HTTPS", cfg.Server.PortHTTPS)
		cfg.Server.PortHTTPSPub = envInt("PORT_HTTPS_PUB", cfg.Server.PortHTTPSPub)
		cfg.Server.DirectAccessPubURL = envString("DIRECT_ACCESS_PUB_URL", cfg.Server.DirectAccessPubURL)
		cfg.Server.DevMode = envBool("DEV_MODE", cfg.Server.DevMode)
		cfg.Server.CertSubjectCountry = envString("NIOCA_CERT_COUNTRY", cfg.Server.CertSubjectCountry)
		cfg.Server.CertSubjectOrg = envString("NIOCA_CERT_ORG", cfg.Server.CertSubjectOrg)
		cfg.Server.CertSubjectOrgUnit = envString("NIOCA_CERT_OU", cfg.Server.CertSubjectOrgUnit)
		cfg.Server.CertSubjectCommon = envString("NIOCA_CERT_CN", cfg.Server.CertSubjectCommon)
	}

	if cfg.Unseal != nil {
		cfg.Unseal.CertB64 = envString("UNSEAL_CERT_B64", cfg.Unseal.CertB64)
		cfg.Unseal.KeyB64 = envString("UNSEAL_KEY_B64", cfg.Unseal.KeyB64)
		cfg.Unseal.InitKey = envString("INIT_KEY", cfg.Unseal.InitKey)
		cfg.Unseal.RateLimit = envInt("UNSEAL_RATE_LIMIT", cfg.Unseal.RateLimit)
	}

	if cfg.AutoUnseal != nil {
		cfg.AutoUnseal.Enabled = envBool("AUTO_UNSEAL", cfg.AutoUnseal.Enabled)
		cfg.AutoUnseal.Shard1 = envString("AUTO_UNSEAL_SHARD_1", cfg.AutoUnseal.Shard1)
		cfg.AutoUnseal.Shard2 = envString("AUTO_UNSEAL_SHARD_2", cfg.AutoUnseal.Shard2)
		cfg.AutoUnseal.EncUUID = envString("AUTO_UNSEAL_ENC_UUID", cfg.AutoUnseal.EncUUID)
		cfg.AutoUnseal.EncValue = envString("AUTO_UNSEAL_ENC_VALUE", cfg.AutoUnseal.EncValue)
		cfg.AutoUnseal.Interval = envDurationSeconds("INTERVAL_AUTO_UNSEAL", cfg.AutoUnseal.Interval)
	}

	if logLevel := os.Getenv("CA_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("CA_LOG_FORMAT"); logFormat != "" && cfg.Logging != nil {
		cfg.Logging.Format = logFormat
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Enabled = envBool("CA_METRICS_ENABLED", cfg.Metrics.Enabled)
		cfg.Metrics.Port = envInt("CA_METRICS_PORT", cfg.Metrics.Port)
	}

	if cfg.Session != nil {
		cfg.Session.Timeout = envDurationSeconds("SESSION_TIMEOUT", cfg.Session.Timeout)
		cfg.Session.TimeoutUnauthenticated = envDurationSeconds("SESSION_TIMEOUT_UNAUTHENTICATED", cfg.Session.TimeoutUnauthenticated)
	}

	if cfg.Oidc != nil {
		cfg.Oidc.RedirectURI = envString("OIDC_REDIRECT_URI", cfg.Oidc.RedirectURI)
		cfg.Oidc.AdminClaim = envString("OIDC_ADMIN_CLAIM", cfg.Oidc.AdminClaim)
		cfg.Oidc.UserClaim = envString("OIDC_USER_CLAIM", cfg.Oidc.UserClaim)
		cfg.Oidc.ClaimPath = envString("OIDC_CLAIM_PATH", cfg.Oidc.ClaimPath)
	}
}
