package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4500*time.Millisecond, cfg.Timeout())
	assert.Equal(t, 12*time.Second, cfg.Window())
	assert.Equal(t, 500*time.Millisecond, cfg.Resolution())
	assert.Equal(t, time.Minute, cfg.SnapshotLifetime())
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/sync/data.db
remote:
  baseUrl: https://api.example.com
  timeoutMs: 2000
batch:
  windowMs: 5000
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sync/data.db", cfg.Database.Path)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout())
	assert.Equal(t, 5*time.Second, cfg.Window())
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, "1", cfg.Remote.APIVersion)
	assert.Equal(t, 500, cfg.Timer.ResolutionMS)
}

func TestLoad_SchemaRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero timeout", "remote:\n  timeoutMs: 0\n"},
		{"negative window", "batch:\n  windowMs: -1\n"},
		{"unknown log level", "log:\n  level: chatty\n"},
		{"empty base url", "remote:\n  baseUrl: \"\"\n"},
		{"empty database path", "database:\n  path: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
