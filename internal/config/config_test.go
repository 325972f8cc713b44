package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
		"DB_MIN_POOL_SIZE", "DB_MAX_POOL_SIZE",
		"RECONCILE_INTERVAL", "MAX_CONCURRENT_RECONCILES",
		"BACKOFF_BASE_DELAY", "BACKOFF_MAX_DELAY", "BACKOFF_JITTER_FACTOR",
		"ENABLED_ACTION_PLUGINS", "ENABLED_INPUT_PLUGINS", "PLUGIN_CONFIGS",
	} {
		os.Unsetenv(k)
	}
	Reset()
}

func TestDatabaseConfigFromEnvRequiresPassword(t *testing.T) {
	clearEnv(t)
	_, err := databaseConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestDatabaseConfigFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_PASSWORD", "secret")
	defer os.Unsetenv("DB_PASSWORD")

	cfg, err := databaseConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "operator_controller", cfg.Database)
	assert.Equal(t, "operator", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
}

func TestDatabaseConfigFromEnvInvalidPortFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_PASSWORD", "secret")
	os.Setenv("DB_PORT", "not-a-number")
	defer os.Unsetenv("DB_PASSWORD")
	defer os.Unsetenv("DB_PORT")

	cfg, err := databaseConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Port)
}

func TestDatabaseConfigStringRedactsPassword(t *testing.T) {
	cfg := defaultDatabaseConfig()
	cfg.Password = "hunter2"
	assert.NotContains(t, cfg.String(), "hunter2")
	assert.Contains(t, cfg.String(), "<redacted>")
}

func TestControllerConfigFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg := controllerConfigFromEnv()
	assert.Equal(t, 60, cfg.ReconcileIntervalSeconds)
	assert.Equal(t, 5, cfg.MaxConcurrentReconciles)
	assert.Equal(t, 60, cfg.BackoffBaseDelaySeconds)
	assert.Equal(t, 3600, cfg.BackoffMaxDelaySeconds)
	assert.InDelta(t, 0.1, cfg.BackoffJitterFactor, 0.0001)
}

func TestPluginConfigFromEnvParsesJSON(t *testing.T) {
	clearEnv(t)
	os.Setenv("ENABLED_ACTION_PLUGINS", "github_actions, terraform")
	os.Setenv("PLUGIN_CONFIGS", `{"github_actions":{"token":"abc"}}`)
	defer os.Unsetenv("ENABLED_ACTION_PLUGINS")
	defer os.Unsetenv("PLUGIN_CONFIGS")

	cfg := pluginConfigFromEnv()
	assert.Equal(t, []string{"github_actions", "terraform"}, cfg.EnabledActionPlugins)
	assert.Equal(t, "abc", cfg.GetPluginConfig("github_actions")["token"])
}

func TestPluginConfigFromEnvInvalidJSONIgnored(t *testing.T) {
	clearEnv(t)
	os.Setenv("PLUGIN_CONFIGS", `{not valid json`)
	defer os.Unsetenv("PLUGIN_CONFIGS")

	cfg := pluginConfigFromEnv()
	assert.Empty(t, cfg.PluginConfigs)
}

func TestFromEnvRejectsOutOfRangePort(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_PASSWORD", "secret")
	os.Setenv("DB_PORT", "99999")
	defer os.Unsetenv("DB_PASSWORD")
	defer os.Unsetenv("DB_PORT")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestFromEnvAcceptsDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_PASSWORD", "secret")
	defer os.Unsetenv("DB_PASSWORD")

	_, err := FromEnv()
	require.NoError(t, err)
}

func TestLoadSingletonCachesAndResets(t *testing.T) {
	clearEnv(t)
	os.Setenv("DB_PASSWORD", "secret")
	defer os.Unsetenv("DB_PASSWORD")

	cfg1, err := Load()
	require.NoError(t, err)

	os.Setenv("DB_HOST", "changed-after-load")
	cfg2, err := Get()
	require.NoError(t, err)
	assert.Equal(t, cfg1.Database.Host, cfg2.Database.Host, "singleton should not re-read env")

	Reset()
	cfg3, err := Get()
	require.NoError(t, err)
	assert.Equal(t, "changed-after-load", cfg3.Database.Host)
}
