// Package config содержит логику чтения конфигурации сервиса распределения лидов.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultSweepInterval = time.Minute
	sweepIntervalEnv     = "EXPIRY_SWEEP_INTERVAL"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress            string        `env:"RUN_ADDRESS"`
	DatabaseURI           string        `env:"DATABASE_URI"`
	LeadDirectoryAddress  string        `env:"LEAD_DIRECTORY_ADDRESS"`
	AttorneyDirectoryFile string        `env:"ATTORNEY_DIRECTORY_FILE"`
	SweepInterval         time.Duration `env:"EXPIRY_SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg
	_, envSweepSet := os.LookupEnv(sweepIntervalEnv)

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (postgres://... or sqlite://path)")
	flag.StringVar(&cfg.LeadDirectoryAddress, "l", "", "lead directory service address")
	flag.StringVar(&cfg.AttorneyDirectoryFile, "t", "", "attorney directory YAML file")
	flag.DurationVar(&cfg.SweepInterval, "s", defaultSweepInterval, "expiry sweep interval, 0 disables")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.LeadDirectoryAddress != "" {
		cfg.LeadDirectoryAddress = envCfg.LeadDirectoryAddress
	}
	if envCfg.AttorneyDirectoryFile != "" {
		cfg.AttorneyDirectoryFile = envCfg.AttorneyDirectoryFile
	}
	if envSweepSet {
		cfg.SweepInterval = envCfg.SweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("expiry sweep interval must not be negative: %s", cfg.SweepInterval)
	}

	return cfg, nil
}
