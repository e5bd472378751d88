package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Registry RegistryConfig `mapstructure:"registry"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// ScheduleConfig binds one on-disk workflow document to a trigger the
// scheduler fires automatically. Exactly one of CronExpr, Interval, or
// MQTTTopic should be set; CronExpr wins if more than one is present.
type ScheduleConfig struct {
	WorkflowPath string        `mapstructure:"workflow_path"`
	CronExpr     string        `mapstructure:"cron"`
	Interval     time.Duration `mapstructure:"interval"`
	MQTTTopic    string        `mapstructure:"mqtt_topic"`
}

// ExecutorConfig bounds a single workflow run.
type ExecutorConfig struct {
	DefaultLoopIterations int           `mapstructure:"default_loop_iterations"`
	NodeTimeout           time.Duration `mapstructure:"node_timeout"`
	EventBufferSize       int           `mapstructure:"event_buffer_size"`
}

// RegistryConfig points the plugin registry at its on-disk tree.
type RegistryConfig struct {
	PluginRoot   string `mapstructure:"plugin_root"`
	StatePath    string `mapstructure:"state_path"`
	WatchEnabled bool   `mapstructure:"watch_enabled"`
}

// HistoryConfig selects and configures the execution history store.
type HistoryConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "postgres", "mysql", "mongo", "" (disabled)
	DSN    string `mapstructure:"dsn"`
}

// MetricsConfig configures the InfluxDB metrics sink.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// MQTTConfig configures the optional MQTT workflow trigger.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
}

// RedisConfig backs the breakpoint resume channel and the registry
// snapshot cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// FlowConfig contains flow engine settings
type FlowConfig struct {
	MaxNodes       int `mapstructure:"max_nodes"`
	ExecutionLimit int `mapstructure:"execution_limit"`
}

// LoggerConfig contains logging settings
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults
	}

	// Override with environment variables
	v.SetEnvPrefix("EDGEFLOW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/edgeflow.db")

	// Flow defaults
	v.SetDefault("flow.max_nodes", 1000)
	v.SetDefault("flow.execution_limit", 10000)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	// Executor defaults
	v.SetDefault("executor.default_loop_iterations", 10)
	v.SetDefault("executor.node_timeout", "30s")
	v.SetDefault("executor.event_buffer_size", 32)

	// Registry defaults
	v.SetDefault("registry.plugin_root", "./plugins")
	v.SetDefault("registry.state_path", "./plugins/plugins_state.json")
	v.SetDefault("registry.watch_enabled", true)

	// History defaults (disabled unless a driver is configured)
	v.SetDefault("history.driver", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bucket", "edgeflow")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "edgeflow-scheduler")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".edgeflow")
}
