// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config contains the contents of the configuration file.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Dialer DialerConfig `yaml:"dialer"`
	Bank   BankConfig   `yaml:"bank"`
}

// APIConfig appears in type Config.
type APIConfig struct {
	ListenAddress      string   `yaml:"listen_address"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// DialerConfig appears in type Config.
type DialerConfig struct {
	// DefaultTTL is applied to reservations whose request does not carry an
	// explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// SweepInterval is how often the collector expires overdue reservations.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PoolMultiplier scales a cell's target into the default pool build limit.
	PoolMultiplier int `yaml:"pool_multiplier"`
	// PoolLowWater is the available-sample count below which the replenish
	// job rebuilds a cell's pool. Zero disables the job.
	PoolLowWater int `yaml:"pool_low_water"`
	// ReplenishInterval is how often the replenish job looks for drained cells.
	ReplenishInterval time.Duration `yaml:"replenish_interval"`
}

// BankConfig appears in type Config.
type BankConfig struct {
	// Schema is the name of the Postgres schema holding the external bank
	// tables. It exists as a config value because staging environments mount
	// anonymized copies under a different name.
	Schema string `yaml:"schema"`
}

// NewConfig reads and validates the given configuration file.
func NewConfig(path string) (Config, error) {
	var cfg Config
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read configuration file: %w", err)
	}
	err = yaml.UnmarshalStrict(buf, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("cannot parse configuration: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields with their default values. NewConfig does
// this automatically; tests that build a Config by hand call it themselves.
func (cfg *Config) ApplyDefaults() {
	if cfg.API.ListenAddress == "" {
		cfg.API.ListenAddress = ":8080"
	}
	if cfg.Dialer.DefaultTTL <= 0 {
		cfg.Dialer.DefaultTTL = 15 * time.Minute
	}
	if cfg.Dialer.SweepInterval <= 0 {
		cfg.Dialer.SweepInterval = 30 * time.Second
	}
	if cfg.Dialer.PoolMultiplier <= 0 {
		cfg.Dialer.PoolMultiplier = 5
	}
	if cfg.Dialer.ReplenishInterval <= 0 {
		cfg.Dialer.ReplenishInterval = 3 * time.Minute
	}
	if cfg.Bank.Schema == "" {
		cfg.Bank.Schema = "bank"
	}
}
