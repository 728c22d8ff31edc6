// Package config loads the client configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	EnvChainUrl       = "CHAIN_URL"
	EnvTokenAddress   = "TOKEN_ADDRESS"
	EnvMarketAddress  = "MARKET_ADDRESS"
	EnvMarketOperator = "MARKET_OPERATOR"
	EnvWalletKey      = "WALLET_KEY"
	EnvLogLevel       = "LOG_LEVEL"
	EnvReadLimit      = "READ_LIMIT"
)

type Config struct {
	ChainUrl string            `yaml:"chain_url"`
	Networks map[uint64]string `yaml:"networks"`

	Contracts ContractConfig `yaml:"contracts"`
	Gas       GasConfig      `yaml:"gas"`
	Reads     ReadConfig     `yaml:"reads"`

	// WalletKey is only ever taken from the environment.
	WalletKey string `yaml:"-"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	// PollSeconds is the chain id poll interval used by watch.
	PollSeconds int `yaml:"poll_seconds"`
}

type ContractConfig struct {
	Token    string `yaml:"token"`
	Market   string `yaml:"market"`
	Operator string `yaml:"operator"`
}

// GasConfig holds the estimate multipliers per action class.
type GasConfig struct {
	Standard float64 `yaml:"standard"`
	Purchase float64 `yaml:"purchase"`
}

type ReadConfig struct {
	Rps   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

var (
	ErrMissingAddress = errors.New("missing contract address")
	ErrInvalidAddress = errors.New("invalid contract address")
	ErrGasFactor      = errors.New("gas factor must be at least 1")
)

func Default() *Config {
	return &Config{
		ChainUrl: "http://127.0.0.1:8545",
		Networks: map[uint64]string{
			1:        "mainnet",
			11155111: "sepolia",
			31337:    "localhost",
		},
		Gas: GasConfig{
			Standard: 1.1,
			Purchase: 1.4,
		},
		LogLevel:    "info",
		PollSeconds: 3,
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvChainUrl); v != "" {
		c.ChainUrl = v
	}
	if v := os.Getenv(EnvTokenAddress); v != "" {
		c.Contracts.Token = v
	}
	if v := os.Getenv(EnvMarketAddress); v != "" {
		c.Contracts.Market = v
	}
	if v := os.Getenv(EnvMarketOperator); v != "" {
		c.Contracts.Operator = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvReadLimit); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReadLimit, err)
		}
		c.Reads.Rps = rps
	}
	c.WalletKey = os.Getenv(EnvWalletKey)
	return nil
}

func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"token":  c.Contracts.Token,
		"market": c.Contracts.Market,
	} {
		if addr == "" {
			return fmt.Errorf("%s: %w", name, ErrMissingAddress)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s %q: %w", name, addr, ErrInvalidAddress)
		}
	}
	if c.Contracts.Operator != "" && !common.IsHexAddress(c.Contracts.Operator) {
		return fmt.Errorf("operator %q: %w", c.Contracts.Operator, ErrInvalidAddress)
	}
	if c.Gas.Standard < 1 || c.Gas.Purchase < 1 {
		return ErrGasFactor
	}
	return nil
}

func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Contracts.Token)
}

func (c *Config) MarketAddress() common.Address {
	return common.HexToAddress(c.Contracts.Market)
}

// OperatorAddress defaults to the market itself when unset.
func (c *Config) OperatorAddress() common.Address {
	if c.Contracts.Operator == "" {
		return c.MarketAddress()
	}
	return common.HexToAddress(c.Contracts.Operator)
}

// Save writes c to path.
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
