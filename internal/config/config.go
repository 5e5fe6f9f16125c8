// Package config loads gateway and participant configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration shared by the binaries.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	NATS struct {
		URL           string        `yaml:"url"`
		StreamName    string        `yaml:"stream_name"`
		ConsumerName  string        `yaml:"consumer_name"`
		SubjectPrefix string        `yaml:"subject_prefix"`
		MaxDeliver    int           `yaml:"max_deliver"`
		AckWait       time.Duration `yaml:"-"`
	} `yaml:"nats"`

	Participant struct {
		GatewayURL   string `yaml:"gateway_url"`
		SessionID    string `yaml:"session_id"`
		StorymapPath string `yaml:"storymap_path"`
	} `yaml:"participant"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.StreamName = "SESSION_EVENTS"
	cfg.NATS.ConsumerName = "session-gateway"
	cfg.NATS.SubjectPrefix = "session.events"
	cfg.NATS.MaxDeliver = 5
	cfg.NATS.AckWait = 30 * time.Second
	cfg.Participant.GatewayURL = "ws://localhost:8080/ws/session"
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error; environment
// variables alone can configure the binaries.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.StreamName = getEnv("NATS_STREAM", cfg.NATS.StreamName)
	cfg.NATS.ConsumerName = getEnv("NATS_CONSUMER", cfg.NATS.ConsumerName)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	cfg.NATS.MaxDeliver = getEnvAsInt("NATS_MAX_DELIVER", cfg.NATS.MaxDeliver)
	cfg.NATS.AckWait = getEnvAsDuration("NATS_ACK_WAIT", cfg.NATS.AckWait)
	cfg.Participant.GatewayURL = getEnv("GATEWAY_URL", cfg.Participant.GatewayURL)
	cfg.Participant.SessionID = getEnv("SESSION_ID", cfg.Participant.SessionID)
	cfg.Participant.StorymapPath = getEnv("STORYMAP_PATH", cfg.Participant.StorymapPath)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
