package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"pawnvault/crypto"
	"pawnvault/native/loan"
)

// Config carries the service-level settings for the settlement daemon.
type Config struct {
	RPCAddress          string `toml:"RPCAddress"`
	MetricsAddress      string `toml:"MetricsAddress"`
	DataDir             string `toml:"DataDir"`
	ModuleAddress       string `toml:"ModuleAddress"`
	AdminAddress        string `toml:"AdminAddress"`
	BorrowerFeePerMille uint64 `toml:"BorrowerFeePerMille"`
	LenderFeePerMille   uint64 `toml:"LenderFeePerMille"`
	Environment         string `toml:"Environment"`
	// Paused starts the daemon with every mutating loan operation rejected.
	// Read queries stay available.
	Paused bool `toml:"Paused"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and rate ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := crypto.DecodeAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	if strings.TrimSpace(c.ModuleAddress) != "" {
		if _, err := crypto.DecodeAddress(c.ModuleAddress); err != nil {
			return fmt.Errorf("config: invalid ModuleAddress: %w", err)
		}
	}
	return nil
}

// Admin returns the decoded administrator address.
func (c *Config) Admin() (crypto.Address, error) {
	return crypto.DecodeAddress(c.AdminAddress)
}

// Module returns the decoded escrow module address, generating a fresh one
// when the field is empty.
func (c *Config) Module() (crypto.Address, error) {
	if strings.TrimSpace(c.ModuleAddress) != "" {
		return crypto.DecodeAddress(c.ModuleAddress)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	return key.PubKey().Address(), nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9465"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if cfg.BorrowerFeePerMille == 0 && cfg.LenderFeePerMille == 0 {
		cfg.BorrowerFeePerMille = loan.DefaultFeePerMille
		cfg.LenderFeePerMille = loan.DefaultFeePerMille
	}
}

func createDefault(path string) (*Config, error) {
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	moduleKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		ModuleAddress: moduleKey.PubKey().Address().String(),
		AdminAddress:  adminKey.PubKey().Address().String(),
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
