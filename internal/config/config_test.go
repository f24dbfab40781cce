package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbxray.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  type: sqlite\n  dsn: \"file:test.db\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, 10, cfg.Database.MaxConns)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  type: postgres
  dsn: "postgres://localhost:5432/app"
  schema: reporting
  max_conns: 4
log:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "reporting", cfg.Database.Schema)
	require.Equal(t, 4, cfg.Database.MaxConns)
	require.True(t, cfg.Log.JSON)

	ac := cfg.AdapterConfig()
	require.Equal(t, "postgres", ac.Type)
	require.Equal(t, "reporting", ac.Schema)
	require.Equal(t, 4, ac.MaxConns)
}

func TestLoadDSNFromEnv(t *testing.T) {
	path := writeConfig(t, "database:\n  type: mysql\n")
	t.Setenv("DBXRAY_DSN", "user:pass@tcp(localhost:3306)/app")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "user:pass@tcp(localhost:3306)/app", cfg.Database.DSN)
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  addr: \":9090\"\n"))
	require.ErrorContains(t, err, "database.type")

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
