// Package config loads operator configuration from environment
// variables, with an optional YAML file overlay for local development.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidator = validator.New()

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	Database     string `yaml:"database" validate:"required"`
	User         string `yaml:"user" validate:"required"`
	Password     string `yaml:"password"`
	MinPoolSize  int    `yaml:"min_pool_size" validate:"min=1"`
	MaxPoolSize  int    `yaml:"max_pool_size" validate:"min=1"`
}

// String redacts the password so DatabaseConfig can be logged safely.
func (c DatabaseConfig) String() string {
	return fmt.Sprintf("DatabaseConfig{Host:%s Port:%d Database:%s User:%s Password:<redacted> MinPoolSize:%d MaxPoolSize:%d}",
		c.Host, c.Port, c.Database, c.User, c.MinPoolSize, c.MaxPoolSize)
}

// DSN renders a postgres:// connection string for the pgx stdlib driver.
// Never logged directly; callers should log c.String() instead.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:        "localhost",
		Port:        5432,
		Database:    "operator_controller",
		User:        "operator",
		MinPoolSize: 5,
		MaxPoolSize: 20,
	}
}

// databaseConfigFromEnv loads DatabaseConfig from the environment,
// falling back to defaults for everything except password, which must
// be set explicitly.
func databaseConfigFromEnv() (DatabaseConfig, error) {
	cfg := defaultDatabaseConfig()

	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		return DatabaseConfig{}, fmt.Errorf("DB_PASSWORD environment variable must be set: database password cannot be empty")
	}
	cfg.Password = password

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := intFromEnv("DB_PORT"); ok {
		cfg.Port = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.User = v
	}
	if v, ok := intFromEnv("DB_MIN_POOL_SIZE"); ok {
		cfg.MinPoolSize = v
	}
	if v, ok := intFromEnv("DB_MAX_POOL_SIZE"); ok {
		cfg.MaxPoolSize = v
	}
	return cfg, nil
}

// ControllerConfig configures the reconciliation dispatcher.
type ControllerConfig struct {
	ReconcileIntervalSeconds  int     `yaml:"reconcile_interval"`
	MaxConcurrentReconciles  int     `yaml:"max_concurrent_reconciles" validate:"min=1"`
	BackoffBaseDelaySeconds  int     `yaml:"backoff_base_delay"`
	BackoffMaxDelaySeconds   int     `yaml:"backoff_max_delay"`
	BackoffJitterFactor      float64 `yaml:"backoff_jitter_factor" validate:"min=0,max=1"`
}

func defaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ReconcileIntervalSeconds: 60,
		MaxConcurrentReconciles:  5,
		BackoffBaseDelaySeconds:  60,
		BackoffMaxDelaySeconds:   3600,
		BackoffJitterFactor:      0.1,
	}
}

func controllerConfigFromEnv() ControllerConfig {
	cfg := defaultControllerConfig()
	if v, ok := intFromEnv("RECONCILE_INTERVAL"); ok {
		cfg.ReconcileIntervalSeconds = v
	}
	if v, ok := intFromEnv("MAX_CONCURRENT_RECONCILES"); ok {
		cfg.MaxConcurrentReconciles = v
	}
	if v, ok := intFromEnv("BACKOFF_BASE_DELAY"); ok {
		cfg.BackoffBaseDelaySeconds = v
	}
	if v, ok := intFromEnv("BACKOFF_MAX_DELAY"); ok {
		cfg.BackoffMaxDelaySeconds = v
	}
	if v := os.Getenv("BACKOFF_JITTER_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BackoffJitterFactor = f
		}
	}
	return cfg
}

// PluginConfig configures which plugins are active and their
// per-plugin configuration maps.
type PluginConfig struct {
	EnabledActionPlugins []string                  `yaml:"enabled_action_plugins"`
	EnabledInputPlugins  []string                  `yaml:"enabled_input_plugins"`
	PluginConfigs        map[string]map[string]any `yaml:"plugin_configs"`
}

func defaultPluginConfig() PluginConfig {
	return PluginConfig{PluginConfigs: map[string]map[string]any{}}
}

func pluginConfigFromEnv() PluginConfig {
	cfg := defaultPluginConfig()
	if v := os.Getenv("ENABLED_ACTION_PLUGINS"); v != "" {
		cfg.EnabledActionPlugins = splitTrim(v)
	}
	if v := os.Getenv("ENABLED_INPUT_PLUGINS"); v != "" {
		cfg.EnabledInputPlugins = splitTrim(v)
	}
	if v := os.Getenv("PLUGIN_CONFIGS"); v != "" {
		var parsed map[string]map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			cfg.PluginConfigs = parsed
		}
	}
	return cfg
}

// GetPluginConfig returns the configuration map for a named plugin, or
// an empty map if none was set.
func (c PluginConfig) GetPluginConfig(name string) map[string]any {
	if m, ok := c.PluginConfigs[name]; ok {
		return m
	}
	return map[string]any{}
}

// Config is the fully assembled operator configuration.
type Config struct {
	Database   DatabaseConfig
	Controller ControllerConfig
	Plugins    PluginConfig
}

// Default returns a Config with every field at its default value
// (database password left empty, so it is only suitable for tests).
func Default() Config {
	return Config{
		Database:   defaultDatabaseConfig(),
		Controller: defaultControllerConfig(),
		Plugins:    defaultPluginConfig(),
	}
}

// FromEnv assembles a Config from environment variables and validates
// every struct tag (min/max bounds, required fields) before returning
// it, so a misconfigured deployment fails at startup rather than at the
// first operation that trips over an out-of-range value.
func FromEnv() (Config, error) {
	db, err := databaseConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Database:   db,
		Controller: controllerConfigFromEnv(),
		Plugins:    pluginConfigFromEnv(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs every `validate` struct tag on Config and its nested
// sections, returning the first aggregate validation failure.
func (c Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadYAMLOverlay reads a YAML file and overlays its values onto cfg in
// place, for local development convenience. Fields absent from the file
// are left untouched.
func LoadYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay struct {
		Database   DatabaseConfig    `yaml:"database"`
		Controller ControllerConfig  `yaml:"controller"`
		Plugins    PluginConfig      `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config overlay %s: %w", path, err)
	}
	mergeNonZero(cfg, overlay.Database, overlay.Controller, overlay.Plugins)
	return nil
}

func mergeNonZero(cfg *Config, db DatabaseConfig, ctl ControllerConfig, plugins PluginConfig) {
	if db.Host != "" {
		cfg.Database.Host = db.Host
	}
	if db.Port != 0 {
		cfg.Database.Port = db.Port
	}
	if db.Database != "" {
		cfg.Database.Database = db.Database
	}
	if db.User != "" {
		cfg.Database.User = db.User
	}
	if db.Password != "" {
		cfg.Database.Password = db.Password
	}
	if db.MinPoolSize != 0 {
		cfg.Database.MinPoolSize = db.MinPoolSize
	}
	if db.MaxPoolSize != 0 {
		cfg.Database.MaxPoolSize = db.MaxPoolSize
	}
	if ctl.ReconcileIntervalSeconds != 0 {
		cfg.Controller.ReconcileIntervalSeconds = ctl.ReconcileIntervalSeconds
	}
	if ctl.MaxConcurrentReconciles != 0 {
		cfg.Controller.MaxConcurrentReconciles = ctl.MaxConcurrentReconciles
	}
	if ctl.BackoffBaseDelaySeconds != 0 {
		cfg.Controller.BackoffBaseDelaySeconds = ctl.BackoffBaseDelaySeconds
	}
	if ctl.BackoffMaxDelaySeconds != 0 {
		cfg.Controller.BackoffMaxDelaySeconds = ctl.BackoffMaxDelaySeconds
	}
	if ctl.BackoffJitterFactor != 0 {
		cfg.Controller.BackoffJitterFactor = ctl.BackoffJitterFactor
	}
	if len(plugins.EnabledActionPlugins) > 0 {
		cfg.Plugins.EnabledActionPlugins = plugins.EnabledActionPlugins
	}
	if len(plugins.EnabledInputPlugins) > 0 {
		cfg.Plugins.EnabledInputPlugins = plugins.EnabledInputPlugins
	}
	for k, v := range plugins.PluginConfigs {
		cfg.Plugins.PluginConfigs[k] = v
	}
}

func intFromEnv(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	globalMu  sync.Mutex
	globalCfg *Config
)

// Load assembles and caches the process-wide Config singleton.
func Load() (Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCfg == nil {
		cfg, err := FromEnv()
		if err != nil {
			return Config{}, err
		}
		globalCfg = &cfg
	}
	return *globalCfg, nil
}

// Get returns the cached singleton, loading it first if necessary.
func Get() (Config, error) {
	globalMu.Lock()
	cached := globalCfg
	globalMu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return Load()
}

// Reset clears the singleton. Tests call this between cases that set
// different environment variables.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = nil
}
