// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8089", cfg.ListenAddr)
	require.Equal(t, 3, cfg.Queue.Workers)
	require.Equal(t, 5*time.Minute, cfg.Discovery.ScanInterval)
	require.Equal(t, "/var/lib/venued/venued.db", cfg.DBPath)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
queue:
  workers: 5
discovery:
  subnet: "192.168.1.0/24"
`), 0o600))

	t.Setenv("VENUED_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr, "file overrides default")
	require.Equal(t, 7, cfg.Queue.Workers, "env overrides file")
	require.Equal(t, "192.168.1.0/24", cfg.Discovery.Subnet)
	// untouched values keep defaults
	require.Equal(t, 10, cfg.Poller.FanOut)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Queue.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ListenAddr = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Discovery.ScanInterval = 0
	require.Error(t, cfg.Validate())
}
