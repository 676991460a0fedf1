package models

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr       string `yaml:"server_addr" env:"SERVER_ADDR"`
	DatabaseURL      string `yaml:"database_url" env:"DATABASE_URL"`
	KafkaBroker      string `yaml:"kafka_broker" env:"KAFKA_BROKER"`
	KafkaTopic       string `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
	KafkaResultTopic string `yaml:"kafka_result_topic" env:"KAFKA_RESULT_TOPIC"`
	KafkaGroupID     string `yaml:"kafka_group_id" env:"KAFKA_GROUP_ID"`
	AssetsPath       string `yaml:"assets_path" env:"ASSETS_PATH"`
	PublicPrefix     string `yaml:"public_prefix" env:"PUBLIC_PREFIX"`
	AutoOrient       bool   `yaml:"auto_orient" env:"AUTO_ORIENT"`
	TextMaxLength    int    `yaml:"text_max_length" env:"TEXT_MAX_LENGTH"`
	LogLevel         string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat        string `yaml:"log_format" env:"LOG_FORMAT"`
	CleanupSchedule  string `yaml:"cleanup_schedule" env:"CLEANUP_SCHEDULE"`
	BatchSchedule    string `yaml:"batch_schedule" env:"BATCH_SCHEDULE"`

	// Derivatives overrides the built-in size catalog when non-empty.
	Derivatives []DerivativeSpec `yaml:"derivatives"`
}

// DefaultConfig returns the settings used when a key is absent from both
// the config file and the environment.
func DefaultConfig() Config {
	return Config{
		ServerAddr:    ":8080",
		KafkaTopic:    "photo-uploads",
		KafkaGroupID:  "photo-derivatives-group",
		AssetsPath:    "./photography-assets",
		PublicPrefix:  "/assets",
		AutoOrient:    true,
		TextMaxLength: 100,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadConfig reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.AssetsPath == "" {
		return errors.New("assets_path is required")
	}
	if c.TextMaxLength <= 0 {
		return fmt.Errorf("text_max_length must be positive, got %d", c.TextMaxLength)
	}
	return nil
}
