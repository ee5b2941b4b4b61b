package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 1, cfg.Capture.EvidenceConcurrency)
	assert.Equal(t, "session", cfg.Capture.LinkPolicy)
	assert.Equal(t, 10, cfg.Quota.Limits["free"])
	assert.False(t, cfg.VisionEnabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9090

[database]
driver = "sqlite"
sqlite_path = "/tmp/capture.db"

[capture]
link_policy = "mentioned"
evidence_concurrency = 0

[quota]
default_tier = "plus"
[quota.limits]
plus = 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.App.Port)
	assert.Equal(t, "/tmp/capture.db", cfg.DSN())
	assert.Equal(t, "mentioned", cfg.Capture.LinkPolicy)
	assert.Equal(t, 1, cfg.Capture.EvidenceConcurrency)
	assert.Equal(t, 50, cfg.Quota.Limits["plus"])
}

func TestLoadRejectsUnknownLinkPolicy(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("CAPTURE_LINK_POLICY", "random")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link policy")
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.User = "app"
	cfg.Database.Password = "secret"

	assert.Equal(t, "app:secret@tcp(127.0.0.1:3306)/custodytrail?parseTime=true&loc=UTC&charset=utf8mb4", cfg.DSN())
}
