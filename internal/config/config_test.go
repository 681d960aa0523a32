package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 4, cfg.DispatchWorkers)
	assert.Equal(t, 256, cfg.DispatchQueueSize)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `db_path: /var/lib/brokergate/gateway.db
api_port: 9443
ledger_url: https://api.daon.network
sweep_interval: 30s
dispatch_workers: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/brokergate/gateway.db", cfg.DBPath)
	assert.Equal(t, 9443, cfg.APIPort)
	assert.Equal(t, "https://api.daon.network", cfg.LedgerURL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 8, cfg.DispatchWorkers)
	// Unset fields keep their defaults.
	assert.Equal(t, 256, cfg.DispatchQueueSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_port: 9443\n"), 0o600))
	t.Setenv("BROKERGATE_API_PORT", "7070")
	t.Setenv("BROKERGATE_LEDGER_URL", "http://localhost:2317")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.APIPort, "env should win over file")
	assert.Equal(t, "http://localhost:2317", cfg.LedgerURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadSweepInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_interval: -5s\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "sweep_interval")
}
