package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvLogLevel, "")
	return dir
}

func TestNew_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := New()
	require.NoError(t, err)

	require.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL())
	require.Equal(t, DefaultLogLevel, cfg.LogLevel())
	require.Equal(t, dir, cfg.DataDir())
	require.Equal(t, filepath.Join(dir, DBFilename), cfg.DBPath())
	require.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout())
	require.Equal(t, "videos", cfg.DefaultMode())
	require.False(t, cfg.Headless())
}

func TestNew_BaseURLFromEnvTrimsSlash(t *testing.T) {
	isolate(t)
	t.Setenv(EnvAPIBaseURL, "https://gen.example.com/")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "https://gen.example.com", cfg.APIBaseURL())
}

func TestNew_InvalidBaseURL(t *testing.T) {
	isolate(t)

	for _, raw := range []string{"ftp://gen.example.com", "http://", "::nope"} {
		t.Setenv(EnvAPIBaseURL, raw)
		_, err := New()
		require.Error(t, err, raw)
	}
}

func TestNew_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	content := "api_base_url: http://10.0.0.5:9000\nlog_level: debug\nhttp_timeout: 5s\ndefault_voice: en-US-AriaNeural\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv(EnvConfigFile, path)

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:9000", cfg.APIBaseURL())
	require.Equal(t, "debug", cfg.LogLevel())
	require.Equal(t, 5*time.Second, cfg.HTTPTimeout())
	require.Equal(t, "en-US-AriaNeural", cfg.DefaultVoice())
}

func TestNew_EnvOverridesConfigFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: warn\n"), 0o644))
	t.Setenv(EnvLogLevel, "error")

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "error", cfg.LogLevel())
}

func TestBuildInfo(t *testing.T) {
	require.Equal(t, "reelforge "+Version+" (commit unknown, built unknown)", BuildInfo())
}
