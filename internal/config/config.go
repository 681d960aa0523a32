// Package config holds the gateway runtime configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath            string        `yaml:"db_path"`
	APIPort           int           `yaml:"api_port"`
	TLSCertFile       string        `yaml:"tls_cert_file"`
	TLSKeyFile        string        `yaml:"tls_key_file"`
	LedgerURL         string        `yaml:"ledger_url"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DispatchWorkers   int           `yaml:"dispatch_workers"`
	DispatchQueueSize int           `yaml:"dispatch_queue_size"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		DBPath:            "brokergate.db",
		APIPort:           8080,
		LedgerURL:         "http://localhost:1317",
		SweepInterval:     time.Minute,
		DispatchWorkers:   4,
		DispatchQueueSize: 256,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DBPath = getEnv("BROKERGATE_DB", cfg.DBPath)
	cfg.APIPort = getEnvInt("BROKERGATE_API_PORT", cfg.APIPort)
	cfg.LedgerURL = getEnv("BROKERGATE_LEDGER_URL", cfg.LedgerURL)
	cfg.TLSCertFile = getEnv("BROKERGATE_TLS_CERT", cfg.TLSCertFile)
	cfg.TLSKeyFile = getEnv("BROKERGATE_TLS_KEY", cfg.TLSKeyFile)
	cfg.LogLevel = getEnv("BROKERGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("BROKERGATE_LOG_FORMAT", cfg.LogFormat)

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep_interval must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
