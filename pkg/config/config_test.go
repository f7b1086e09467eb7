package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port      int           `env:"TEST_CFG_PORT" envDefault:"8080"`
	AccessTTL time.Duration `env:"TEST_CFG_ACCESS_TTL" envDefault:"15m"`
	Secure    bool          `env:"TEST_CFG_SECURE" envDefault:"false"`
}

type requiredConfig struct {
	Secret string `env:"TEST_CFG_SECRET,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.Secure)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_ACCESS_TTL", "5m")
	t.Setenv("TEST_CFG_SECURE", "true")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.True(t, cfg.Secure)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("required missing", func(t *testing.T) {
		var cfg requiredConfig
		err := Load(&cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("TEST_CFG_ACCESS_TTL", "soon")
		var cfg testConfig
		require.Error(t, Load(&cfg))
	})
}

func TestLoadWithPrefix(t *testing.T) {
	t.Setenv("PB_TEST_CFG_PORT", "7070")
	t.Setenv("TEST_CFG_PORT", "1111")

	var cfg testConfig
	require.NoError(t, LoadWithPrefix("PB_", &cfg))
	assert.Equal(t, 7070, cfg.Port)
}
