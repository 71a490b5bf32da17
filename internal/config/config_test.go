package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Empty(t, cfg.LogFile)
	assert.False(t, cfg.Verbose)
	assert.False(t, cfg.MetricsStdout)
}

func TestLoadFromFile(t *testing.T) {
	raw, err := yaml.Marshal(map[string]interface{}{
		"db-path":        "/var/lib/shopfloor/floor.db",
		"listen-addr":    ":9000",
		"log-file":       "/var/log/shopfloor.log",
		"verbose":        true,
		"metrics-stdout": true,
	})
	require.NoError(t, err)
	path := writeConfig(t, string(raw))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/shopfloor/floor.db", cfg.DBPath)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "/var/log/shopfloor.log", cfg.LogFile)
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.MetricsStdout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen-addr: \":9000\"\n")
	t.Setenv("SHOPFLOOR_LISTEN_ADDR", ":7777")
	t.Setenv("SHOPFLOOR_VERBOSE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.True(t, cfg.Verbose)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsEmptyValues(t *testing.T) {
	path := writeConfig(t, "db-path: \"\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db-path")
}

func TestValidate(t *testing.T) {
	cfg := &Config{DBPath: "x.db", ListenAddr: ":1"}
	assert.NoError(t, cfg.Validate())

	cfg.ListenAddr = ""
	assert.Error(t, cfg.Validate())
}

// writeConfig writes content to a temp shopfloor.yaml and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shopfloor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
