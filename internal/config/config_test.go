package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/linkage"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 0.7, cfg.Linkage.MatchingParameter, 0.0001)
	assert.Equal(t, 8, cfg.Linkage.MaxTokenLength)
	assert.Equal(t, "best", cfg.Linkage.Mode)
	assert.Equal(t, 1, cfg.Linkage.Workers)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "hplink.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "outputs", cfg.Data.OutputPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
linkage:
  matching_parameter: 0.85
  mode: all
  workers: 4
data:
  epc_path: /data/certificates.csv
store:
  driver: postgres
  database_url: postgres://localhost/hplink
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hplink.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, cfg.Linkage.MatchingParameter, 0.0001)
	assert.Equal(t, "all", cfg.Linkage.Mode)
	assert.Equal(t, 4, cfg.Linkage.Workers)
	assert.Equal(t, 8, cfg.Linkage.MaxTokenLength)
	assert.Equal(t, "/data/certificates.csv", cfg.Data.EPCPath)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "console", cfg.Log.Format)

	lc, err := cfg.LinkageSettings()
	require.NoError(t, err)
	assert.Equal(t, linkage.ModeAll, lc.Mode)
}

func TestLoadExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hplink.yaml"), []byte("linkage:\n  mode: all\n"), 0o644))

	t.Setenv("HPLINK_LINKAGE_MODE", "best")
	t.Setenv("HPLINK_LINKAGE_MATCHING_PARAMETER", "0.9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "best", cfg.Linkage.Mode)
	assert.InDelta(t, 0.9, cfg.Linkage.MatchingParameter, 0.0001)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	dotenv := "# local settings\nexport HPLINK_SERVER_PORT=7070\nHPLINK_LOG_LEVEL=\"debug\"\nnot a pair\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o644))

	// registered so the variables LoadEnv sets are removed afterwards
	t.Setenv("HPLINK_SERVER_PORT", "")
	os.Unsetenv("HPLINK_SERVER_PORT")
	t.Setenv("HPLINK_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level, "existing environment wins over .env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold too high", func(c *Config) { c.Linkage.MatchingParameter = 1.2 }, "linkage"},
		{"unknown mode", func(c *Config) { c.Linkage.Mode = "most" }, "linkage"},
		{"token length", func(c *Config) { c.Linkage.MaxTokenLength = 0 }, "linkage"},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, "store driver"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Linkage: LinkageConfig{MatchingParameter: 0.7, MaxTokenLength: 8, Mode: "best", Workers: 1},
				Store:   StoreConfig{Driver: "sqlite"},
				Server:  ServerConfig{Port: 8080},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("HPLINK_TEST_VALUE", "12")
	assert.Equal(t, "12", GetEnv("HPLINK_TEST_VALUE", "x"))
	assert.Equal(t, 12, GetEnvInt("HPLINK_TEST_VALUE", 3))
	assert.Equal(t, "x", GetEnv("HPLINK_TEST_UNSET", "x"))
	assert.Equal(t, 3, GetEnvInt("HPLINK_TEST_UNSET", 3))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
