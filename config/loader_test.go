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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFilesFallsBackToEnv(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "ca")
	t.Setenv("CA_ENV", "development")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development"})
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "ca", cfg.Database.User)
}

func TestLoad_ValidationFailsWithoutDBUser(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "")

	_, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development"})
	// setDefaults fills database.host with "localhost", so only the
	// missing user should fail validation.
	require.Error(t, err)
}

func TestLoad_SkipValidation(t *testing.T) {
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), Environment: "development", SkipValidation: true})
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestValidateConfiguration_PortCollision(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Server.PortHTTPS = cfg.Server.PortHTTP

	errs := ValidateConfiguration(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "server.port_http" {
			found = true
		}
	}
	assert.True(t, found)
}
