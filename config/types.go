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

// Package config provides configuration management for the CA server.
package config

import "time"

// Config is the main configuration structure for the CA server. Every field
// can be set from a YAML defaults file; the fields read in
// applyEnvironmentOverrides can then be overridden by their environment
// variables (for example UNSEAL_RATE_LIMIT for unseal.rate_limit).
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Database    *DatabaseConfig   `yaml:"database" json:"database"`
	Server      *ServerConfig     `yaml:"server" json:"server"`
	Unseal      *UnsealConfig     `yaml:"unseal" json:"unseal"`
	AutoUnseal  *AutoUnsealConfig `yaml:"auto_unseal" json:"auto_unseal"`
	Logging     *LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig     `yaml:"health" json:"health"`
	Session     *SessionConfig    `yaml:"session" json:"session"`
	Oidc        *OidcClientConfig `yaml:"oidc" json:"oidc"`
}

// SessionConfig holds the lifetimes of authenticated and not yet
// authenticated sessions (`SESSION_TIMEOUT`, `SESSION_TIMEOUT_UNAUTHENTICATED`).
type SessionConfig struct {
	Timeout                time.Duration `yaml:"timeout" json:"timeout"`
	TimeoutUnauthenticated time.Duration `yaml:"timeout_unauthenticated" json:"timeout_unauthenticated"`
}

// OidcClientConfig holds the redirect URI and admin/user claim names used
// to evaluate a federated login (`OIDC_REDIRECT_URI`, `OIDC_ADMIN_CLAIM`,
// `OIDC_USER_CLAIM`, `OIDC_CLAIM_PATH`).
type OidcClientConfig struct {
	RedirectURI string `yaml:"redirect_uri" json:"redirect_uri"`
	AdminClaim  string `yaml:"admin_claim" json:"admin_claim"`
	UserClaim   string `yaml:"user_claim" json:"user_claim"`
	ClaimPath   string `yaml:"claim_path" json:"claim_path"` // "roles" or "groups"
}

// DatabaseConfig holds the Postgres connection parameters (`DB_HOST`,
// `DB_PORT`, `DB_USER`, `DB_PASSWORD`, `DATABASE_MAX_CONN`).
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Name     string `yaml:"name" json:"name"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
}

// ServerConfig holds the listener and public-URL configuration
// (`PUB_URL`, `PORT_HTTP`, `PORT_HTTPS`, `PORT_HTTPS_PUB`,
// `DIRECT_ACCESS_PUB_URL`, `NIOCA_CERT_*`).
type ServerConfig struct {
	PubURL              string        `yaml:"pub_url" json:"pub_url"`
	PortHTTP            int           `yaml:"port_http" json:"port_http"`
	PortHTTPS           int           `yaml:"port_https" json:"port_https"`
	PortHTTPSPub        int           `yaml:"port_https_pub" json:"port_https_pub"`
	DirectAccessPubURL  string        `yaml:"direct_access_pub_url" json:"direct_access_pub_url"`
	DevMode             bool          `yaml:"dev_mode" json:"dev_mode"`
	OutboundTimeout     time.Duration `yaml:"outbound_timeout" json:"outbound_timeout"`
	CertSubjectCountry  string        `yaml:"cert_subject_country" json:"cert_subject_country"`
	CertSubjectOrg      string        `yaml:"cert_subject_org" json:"cert_subject_org"`
	CertSubjectOrgUnit  string        `yaml:"cert_subject_org_unit" json:"cert_subject_org_unit"`
	CertSubjectCommon   string        `yaml:"cert_subject_common" json:"cert_subject_common"`
}

// UnsealConfig holds the sealed-phase listener material (`UNSEAL_CERT_B64`,
// `UNSEAL_KEY_B64`) and the init key printed at first boot (`INIT_KEY`) and
// the add-shard rate limit (`UNSEAL_RATE_LIMIT`, seconds).
type UnsealConfig struct {
	CertB64   string `yaml:"cert_b64" json:"cert_b64"`
	KeyB64    string `yaml:"key_b64" json:"key_b64"`
	InitKey   string `yaml:"init_key" json:"init_key"`
	RateLimit int    `yaml:"rate_limit" json:"rate_limit"`
}

// AutoUnsealConfig holds the dev-only auto-unseal shard injection
// (`AUTO_UNSEAL`, `AUTO_UNSEAL_SHARD_1/2`, `AUTO_UNSEAL_ENC_UUID`,
// `AUTO_UNSEAL_ENC_VALUE`) and the cluster propagation interval
// (`INTERVAL_AUTO_UNSEAL`, seconds).
type AutoUnsealConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Shard1   string        `yaml:"shard_1" json:"shard_1"`
	Shard2   string        `yaml:"shard_2" json:"shard_2"`
	EncUUID  string        `yaml:"enc_uuid" json:"enc_uuid"`
	EncValue string        `yaml:"enc_value" json:"enc_value"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}
