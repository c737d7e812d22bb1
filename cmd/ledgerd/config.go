// config.go - Configuration for the ledger daemon.
package main

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration, loaded from a YAML file.
type Config struct {
	// Store
	StorePath string `yaml:"store_path"`
	InMemory  bool   `yaml:"in_memory"`

	// Validation
	MaxElements int    `yaml:"max_elements"`
	FeeRate     string `yaml:"fee_rate"` // decimal fraction of input value, e.g. "0.001"
	CacheSize   int    `yaml:"cache_size"`

	// HTTP
	ListenAddr string `yaml:"listen_addr"`

	// Rate limiting (per remote address)
	RateLimitBurst  int `yaml:"rate_limit_burst"`
	RateLimitPerSec int `yaml:"rate_limit_per_sec"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		StorePath:       "ledger.db",
		MaxElements:     1024,
		FeeRate:         "0",
		CacheSize:       4096,
		ListenAddr:      ":8480",
		RateLimitBurst:  100,
		RateLimitPerSec: 25,
		LogLevel:        "info",
	}
}

// LoadConfig reads the YAML config at path, or returns the defaults when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// FeeRatio converts the decimal fee rate into an exact (numerator,
// denominator) pair for checked multiply-before-divide scaling.
func (c *Config) FeeRatio() (num, den uint64, err error) {
	d, err := decimal.NewFromString(c.FeeRate)
	if err != nil {
		return 0, 0, errors.Wrap(err, "fee rate")
	}
	if d.IsNegative() {
		return 0, 0, errors.New("fee rate must be non-negative")
	}
	coeff := d.Coefficient()
	if !coeff.IsUint64() {
		return 0, 0, errors.Errorf("fee rate coefficient %s out of range", coeff)
	}
	num = coeff.Uint64()
	den = 1
	for exp := d.Exponent(); exp < 0; exp++ {
		if den > math.MaxUint64/10 {
			return 0, 0, errors.New("fee rate denominator out of range")
		}
		den *= 10
	}
	for exp := d.Exponent(); exp > 0; exp-- {
		if num > math.MaxUint64/10 {
			return 0, 0, errors.New("fee rate numerator out of range")
		}
		num *= 10
	}
	return num, den, nil
}
