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
)

func TestGetEnvironment_Default(t *testing.T) {
	t.Setenv("CA_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	assert.Equal(t, "development", GetEnvironment())
}

func TestGetEnvironment_CAEnvWins(t *testing.T) {
	t.Setenv("CA_ENV", "Production")
	t.Setenv("ENVIRONMENT", "staging")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	t.Setenv("DB_HOST", "db.prod.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("UNSEAL_RATE_LIMIT", "20")
	t.Setenv("AUTO_UNSEAL", "true")

	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 20, cfg.Unseal.RateLimit)
	assert.True(t, cfg.AutoUnseal.Enabled)
}

func TestEnvInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("CA_TEST_INT", "not-a-number")
	assert.Equal(t, 7, envInt("CA_TEST_INT", 7))
}
