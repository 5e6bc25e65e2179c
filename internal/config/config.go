// Package config loads vitalguard's configuration from environment
// variables via viper, one struct per concern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds the Postgres/Timescale connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// DSN builds a libpq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the Redis connection parameters used by the trend
// aggregator's result cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds broker connection and topic configuration.
type MQTTConfig struct {
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	RawTopic    string
	VitalsTopic string
	AlertsTopic string
	ConfigTopic string
}

// BrokerURL builds the tcp:// URL paho expects.
func (c MQTTConfig) BrokerURL() string {
	b := c.Broker
	if !strings.Contains(b, "://") {
		b = fmt.Sprintf("tcp://%s:%d", b, c.Port)
	}
	return b
}

// HTTPConfig holds the Query/Control API listen configuration.
type HTTPConfig struct {
	Port            int
	ShutdownGrace   time.Duration
	RequestTimeout  time.Duration
}

// LLMConfig holds the outbound LLM trend-analysis proxy configuration.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// Config aggregates every configuration concern.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	HTTP     HTTPConfig
	LLM      LLMConfig
	Log      LogConfig

	// WorkerCount is the size of the ingestion worker pool (§5: 4-8).
	WorkerCount int
	// QueueCapacity is the bounded work-channel capacity (§5: ~1024).
	QueueCapacity int
	// DBPoolSize mirrors Database.MaxConns; kept separate so the
	// "fixed-size (default 8)" language in spec.md §5 has one home.
	DBPoolSize int
}

// Load reads configuration from the environment, matching the
// variable names enumerated in spec.md §6.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	bind := func(key string) { _ = v.BindEnv(key) }
	for _, key := range []string{
		"MQTT_BROKER", "MQTT_PORT", "MQTT_RAW_TOPIC", "MQTT_VITALS_TOPIC",
		"MQTT_ALERTS_TOPIC", "MQTT_CONFIG_TOPIC", "MQTT_CLIENT_ID",
		"MQTT_USERNAME", "MQTT_PASSWORD",
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SSLMODE",
		"DB_MAX_CONNS", "DB_MAX_IDLE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"FLASK_PORT",
		"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TEMPERATURE",
		"LOG_LEVEL", "LOG_FORMAT",
		"WORKER_COUNT", "QUEUE_CAPACITY",
	} {
		bind(key)
	}

	v.SetDefault("MQTT_BROKER", "localhost")
	v.SetDefault("MQTT_PORT", 1883)
	v.SetDefault("MQTT_RAW_TOPIC", "health/raw_vitals")
	v.SetDefault("MQTT_VITALS_TOPIC", "health/vitals")
	v.SetDefault("MQTT_ALERTS_TOPIC", "health/alerts")
	v.SetDefault("MQTT_CONFIG_TOPIC", "health/config")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "health_monitoring")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 8)
	v.SetDefault("DB_MAX_IDLE", 8)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("FLASK_PORT", 5001)

	v.SetDefault("LLM_BASE_URL", "https://api.deepseek.com/v1")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_MODEL", "deepseek-chat")
	v.SetDefault("LLM_TEMPERATURE", 1.0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WORKER_COUNT", 6)
	v.SetDefault("QUEUE_CAPACITY", 1024)

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt("DB_MAX_CONNS"),
			MaxIdle:  v.GetInt("DB_MAX_IDLE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MQTT: MQTTConfig{
			Broker:      v.GetString("MQTT_BROKER"),
			Port:        v.GetInt("MQTT_PORT"),
			ClientID:    v.GetString("MQTT_CLIENT_ID"),
			Username:    v.GetString("MQTT_USERNAME"),
			Password:    v.GetString("MQTT_PASSWORD"),
			RawTopic:    v.GetString("MQTT_RAW_TOPIC"),
			VitalsTopic: v.GetString("MQTT_VITALS_TOPIC"),
			AlertsTopic: v.GetString("MQTT_ALERTS_TOPIC"),
			ConfigTopic: v.GetString("MQTT_CONFIG_TOPIC"),
		},
		HTTP: HTTPConfig{
			Port:           v.GetInt("FLASK_PORT"),
			ShutdownGrace:  10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:     v.GetString("LLM_BASE_URL"),
			APIKey:      v.GetString("LLM_API_KEY"),
			Model:       v.GetString("LLM_MODEL"),
			Temperature: v.GetFloat64("LLM_TEMPERATURE"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		WorkerCount:   v.GetInt("WORKER_COUNT"),
		QueueCapacity: v.GetInt("QUEUE_CAPACITY"),
		DBPoolSize:    v.GetInt("DB_MAX_CONNS"),
	}

	if cfg.WorkerCount < 4 {
		cfg.WorkerCount = 4
	}
	if cfg.WorkerCount > 8 {
		cfg.WorkerCount = 8
	}

	return cfg, nil
}
