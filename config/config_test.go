package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sample = `
chain_url: https://rpc.example.org
networks:
  1337: devnet
contracts:
  token: "0x00000000000000000000000000000000000070aa"
  market: "0x00000000000000000000000000000000000070bb"
gas:
  purchase: 1.6
reads:
  rps: 20
  burst: 5
log_level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "https://rpc.example.org", cfg.ChainUrl)
	require.Equal(t, "devnet", cfg.Networks[1337])
	require.Equal(t, "mainnet", cfg.Networks[1])
	require.Equal(t, 1.1, cfg.Gas.Standard)
	require.Equal(t, 1.6, cfg.Gas.Purchase)
	require.Equal(t, 20.0, cfg.Reads.Rps)
	require.Equal(t, 5, cfg.Reads.Burst)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, common.HexToAddress("0x70aa"), cfg.TokenAddress())
	// operator falls back to the market
	require.Equal(t, cfg.MarketAddress(), cfg.OperatorAddress())
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().ChainUrl, cfg.ChainUrl)
	require.True(t, errors.Is(cfg.Validate(), ErrMissingAddress))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvChainUrl, "ws://node:8546")
	t.Setenv(EnvMarketOperator, "0x00000000000000000000000000000000000070cc")
	t.Setenv(EnvWalletKey, "deadbeef")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvReadLimit, "2.5")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "ws://node:8546", cfg.ChainUrl)
	require.Equal(t, common.HexToAddress("0x70cc"), cfg.OperatorAddress())
	require.Equal(t, "deadbeef", cfg.WalletKey)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 2.5, cfg.Reads.Rps)

	t.Setenv(EnvReadLimit, "fast")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	cfg.Gas.Standard = 0.9
	require.True(t, errors.Is(cfg.Validate(), ErrGasFactor))

	cfg.Gas.Standard = 1.2
	cfg.Contracts.Market = "market"
	require.True(t, errors.Is(cfg.Validate(), ErrInvalidAddress))
}

func TestSaveKeepsWalletKeyOut(t *testing.T) {
	cfg := Default()
	cfg.WalletKey = "secret"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret")
}
