package config

import (
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Port          string
	LogLevel      string
	MQTTBrokerURL string
	MQTTClientID  string
	TopicPrefix   string
	IngestEnabled bool
	Postgres      Postgres
}

type Postgres struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func Load() *Config {
	cfg := &Config{
		Port:          env("ROAD_DATA_PORT", "8000"),
		LogLevel:      env("LOG_LEVEL", "info"),
		MQTTBrokerURL: strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
		MQTTClientID:  env("ROAD_DATA_MQTT_CLIENT_ID", "road-data-service"),
		TopicPrefix:   env("ROAD_DATA_TOPIC_PREFIX", "road/processed/"),
		IngestEnabled: parseBool(env("ROAD_DATA_MQTT_INGEST", "false")),
		Postgres: Postgres{
			User:     env("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   env("POSTGRES_DB", "road_data"),
			Host:     env("POSTGRES_HOST", "postgres"),
			Port:     env("POSTGRES_PORT", "5432"),
			SSLMode:  env("POSTGRES_SSLMODE", "disable"),
		},
	}

	slog.Info("road-data-service config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "topic_prefix", cfg.TopicPrefix)
	return cfg
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
