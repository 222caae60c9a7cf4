package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().ListenAddr, cfg.ListenAddr)
	assert.Equal(t, CurrentProtocolVersion, cfg.ProtocolVersion)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "listen_addr: \"0.0.0.0:3000\"\ncache_size: 99\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lucent.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.ListenAddr)
	assert.Equal(t, 99, cfg.CacheSize)
}

func TestLoad_EnvOverridesProjectFile(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "listen_addr: \"0.0.0.0:3000\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lucent.yaml"), []byte(yamlBody), 0o644))
	t.Setenv("LUCENT_LISTEN_ADDR", "0.0.0.0:4000")

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:4000", cfg.ListenAddr)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LUCENT_LISTEN_ADDR", "0.0.0.0:4000")
	flagAddr := "0.0.0.0:5000"

	cfg, err := Load(dir, &FlagOverrides{ListenAddr: &flagAddr})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr)
}

func TestLoad_PoolAcquireTimeoutFromMillisecondsField(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "pool_acquire_timeout_ms: 250\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lucent.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.PoolAcquireTimeout)
}

func TestValidate_RejectsNegativePoolSize(t *testing.T) {
	cfg := Defaults()
	cfg.PoolMaxPerURL = -1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroCacheSize(t *testing.T) {
	cfg := Defaults()
	cfg.CacheSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingProjectFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, nil)
	assert.NoError(t, err)
}

func TestLoad_CommandTimeoutMaxFromMillisecondsField(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "command_timeout_max_ms: 5000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".lucent.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeoutMax)
}

func TestLoad_EnvOverridesCommandTimeoutMax(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LUCENT_COMMAND_TIMEOUT_MAX_MS", "7000")

	cfg, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.CommandTimeoutMax)
}

func TestLoad_FlagOverridesCommandTimeoutMax(t *testing.T) {
	dir := t.TempDir()
	want := 9 * time.Second
	cfg, err := Load(dir, &FlagOverrides{CommandTimeoutMax: &want})
	require.NoError(t, err)
	assert.Equal(t, want, cfg.CommandTimeoutMax)
}
