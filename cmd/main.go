package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"rose-market-client/chain"
	"rose-market-client/config"
	"rose-market-client/core"
	"rose-market-client/core/model"
	"rose-market-client/core/txn"
	"rose-market-client/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rose-market",
	Short: "Token marketplace client",
	Long: `rose-market connects a local key wallet to the token and marketplace
contracts, keeps the balance and listing views current, and runs mint, list,
buy and allowance transactions one at a time.`,
	SilenceUsage: true,
}

var (
	configPath string
	fromAddr   string
	assumeYes  bool
	debug      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&fromAddr, "from", "", "act as this account instead of the first key")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "confirm transactions without prompting")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything a command needs once the session is bound.
type app struct {
	cfg      *config.Config
	eth      *ethclient.Client
	provider *chain.KeyProvider
	metrics  *metrics.Metrics
	client   *core.Client
}

func (a *app) Close() {
	a.client.Close()
	a.eth.Close()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	eth, err := chain.Dial(ctx, cfg.ChainUrl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.ChainUrl, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	a := &app{cfg: cfg, eth: eth, metrics: metrics.New()}

	// a nil *KeyProvider must not end up inside the Provider interface
	var provider chain.Provider
	if cfg.WalletKey != "" {
		a.provider, err = chain.KeyProviderFromHex(chainID, strings.Split(cfg.WalletKey, ",")...)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("%s: %w", config.EnvWalletKey, err)
		}
		provider = a.provider
	}

	var confirmer txn.Confirmer = newPrompt(os.Stdin, os.Stdout)
	if assumeYes {
		confirmer = txn.AutoConfirm
	}

	connector := chain.NewConnector(eth, provider,
		chain.WithNetworkNames(cfg.Networks),
		chain.WithReadLimit(cfg.Reads.Rps, cfg.Reads.Burst),
	)
	a.client = core.NewClient(connector, core.Options{
		Token:     cfg.TokenAddress(),
		Market:    cfg.MarketAddress(),
		Operator:  cfg.OperatorAddress(),
		GasPolicy: txn.GasPolicy{Standard: cfg.Gas.Standard, Purchase: cfg.Gas.Purchase},
		Confirmer: confirmer,
		Metrics:   a.metrics,
	})

	if err := a.client.Connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if fromAddr != "" {
		if err := a.selectAccount(ctx, fromAddr); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.client.Refresh(ctx); err != nil {
		logrus.Warnf("initial refresh err: %v", err)
	}
	return a, nil
}

func (a *app) selectAccount(ctx context.Context, hex string) error {
	if !common.IsHexAddress(hex) {
		return fmt.Errorf("--from %q is not an address", hex)
	}
	addr := common.HexToAddress(hex)
	if err := a.provider.SelectAccount(addr); err != nil {
		return err
	}
	for a.client.State().Session.Identity != addr {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

func printState(st core.State) {
	s := st.Session
	fmt.Printf("session:   %s %s on %s (epoch %d)\n", s.Status, s.Identity.Hex(), s.Network, s.Epoch)
	if s.Err != nil {
		fmt.Printf("           last error: %v\n", s.Err)
	}
	if !s.Connected() {
		return
	}

	l := st.Ledger
	fmt.Printf("token:     %s (%s), decimals %d, supply %v\n", l.Name, l.Symbol, l.Decimals, l.TotalSupply)
	fmt.Printf("balance:   %v\n", l.Balance)
	fmt.Printf("allowance: %v\n", l.Allowance)

	c := st.Catalog
	fmt.Printf("catalog:   all %d, unsold %d, owned %d, created %d, sold %d, operator approved %v\n",
		c.AllCount, c.UnsoldCount, c.OwnedCount, c.CreatedCount, c.SoldCount, c.Approved)
	for _, item := range c.Unsold {
		printListing(item)
	}
	fmt.Printf("tick:      %d\n", st.Tick)
}

func printListing(item model.Listing) {
	fmt.Printf("  #%v %q price %v seller %s owner %s sold %v published %v\n",
		item.Id, item.Description, item.Price, item.Seller.Hex(), item.Owner.Hex(), item.Sold, item.Published)
}
