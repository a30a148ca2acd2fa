package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseMaxRetries        int
	DatabaseBusyTimeout       time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	Hostname                  string
	JWTSecret                 string
	ServerHost                string
	ServerPort                int

	// Settings come from the user-editable settings file (plus
	// environment overrides) rather than the deploy environment.
	Settings *Settings
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		DatabaseBusyTimeout:       5 * time.Second,
		Hostname:                  hostname,
		ServerPort:                4040,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	settings, err := LoadSettings(settingsFilePath())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Settings = settings

	return cfg, nil
}
