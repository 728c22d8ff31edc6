package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"rose-market-client/chain"
	"rose-market-client/core"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the node and print the views whenever they change",
	Args:  cobra.NoArgs,
	RunE:  withApp(runWatch),
}

var metricsAddr string

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address (overrides config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	interval := time.Duration(a.cfg.PollSeconds) * time.Second

	addr := metricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.metrics.Handler()}
		go func() {
			logrus.Infof("serving metrics on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("metrics server err: %v", err)
			}
		}()
		defer srv.Close()
	}

	if a.provider != nil {
		go chain.WatchChainID(ctx, a.eth, a.provider, interval)
	}

	st := a.client.State()
	last := watchKeyOf(st)
	printState(st)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		// other wallets move balances and listings too, so re-read every round
		if err := a.client.Refresh(ctx); err != nil {
			logrus.Errorf("Refresh err: %v", err)
			continue
		}

		st := a.client.State()
		key := watchKeyOf(st)
		if key == last {
			continue
		}
		last = key
		printState(st)
	}
}

// watchKey is the part of the state whose change is worth printing.
type watchKey struct {
	tick, epoch uint64
	balance     string
	all, unsold int
	sold        uint64
}

func watchKeyOf(st core.State) watchKey {
	key := watchKey{
		tick:   st.Tick,
		epoch:  st.Session.Epoch,
		all:    st.Catalog.AllCount,
		unsold: st.Catalog.UnsoldCount,
		sold:   st.Catalog.SoldCount,
	}
	if st.Ledger.Balance != nil {
		key.balance = st.Ledger.Balance.String()
	}
	return key
}
