package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: "staging"
database:
  host: "db.internal"
  port: 5432
  user: "ca"
  max_conn: 25
server:
  pub_url: "https://ca.internal"
  port_http: 8080
  port_https: 8443
logging:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 25, cfg.Database.MaxConn)
	assert.Equal(t, "https://ca.internal", cfg.Server.PubURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// unset fields still receive defaults
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 10, cfg.Unseal.RateLimit)
	assert.Equal(t, 8080, cfg.Server.PortHTTP)
	assert.Equal(t, 8443, cfg.Server.PortHTTPS)
	assert.Equal(t, cfg.Server.PortHTTPS, cfg.Server.PortHTTPSPub)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Database.Host = "db.example.com"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", loaded.Database.Host)
}
