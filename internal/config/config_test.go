package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classicrob/takopi-go/internal/apperrors"
)

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "takopi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[kimi]
command = "kimi"
args = ["--session-dir", "/tmp"]

[liaison]
captain_chair = true
poll_interval_s = 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kimi", cfg.Backends["kimi"].Command)
	assert.True(t, cfg.Liaison.CaptainChair)
	assert.Equal(t, 0.5, cfg.Liaison.PollIntervalS)
}

func TestLoadMissingReturnsConfigError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.toml"))
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ConfigError, appErr.Kind)
}

func TestLoadUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "takopi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[codex]
command = "codex"
future_field = "ignored"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "codex", cfg.Backends["codex"].Command)
}

func TestLoadMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "takopi.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [ valid toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
