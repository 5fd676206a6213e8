package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	HTTP struct {
		Port string `yaml:"port" env:"TEST_HTTP_PORT"`
	} `yaml:"http"`
	Poll    time.Duration `yaml:"poll" env:"TEST_POLL"`
	Retries int           `yaml:"retries" env:"TEST_RETRIES"`
	Nested  struct {
		Value string `yaml:"value"`
	} `yaml:"nested"`
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"9090\"\npoll: 15s\nretries: 3\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg := &testConfig{}
	require.NoError(t, Load(cfg))

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.Poll)
	assert.Equal(t, 3, cfg.Retries)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: \"9090\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_HTTP_PORT", "7070")

	cfg := &testConfig{}
	require.NoError(t, Load(cfg))

	assert.Equal(t, "7070", cfg.HTTP.Port)
}

func TestDurationAcceptsPlainSeconds(t *testing.T) {
	t.Setenv("TEST_POLL", "45")

	cfg := &testConfig{}
	require.NoError(t, Load(cfg))

	assert.Equal(t, 45*time.Second, cfg.Poll)
}

func TestGeneratedEnvKeyForUntaggedField(t *testing.T) {
	t.Setenv("NESTED_VALUE", "from-env")

	cfg := &testConfig{}
	require.NoError(t, Load(cfg))

	assert.Equal(t, "from-env", cfg.Nested.Value)
}

func TestLoadRejectsNonPointer(t *testing.T) {
	assert.Error(t, Load(testConfig{}))
	assert.Error(t, Load(nil))
}
