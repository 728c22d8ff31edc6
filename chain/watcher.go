package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// WatchChainID polls the node's chain id and moves the key provider to it
// when it changes, which the session observes as chainChanged. It returns
// when ctx is done.
func WatchChainID(ctx context.Context, reader ChainIDReader, provider *KeyProvider, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		chainID, err := reader.ChainID(ctx)
		if err != nil {
			logrus.Errorf("ChainID err: %v", err)
			continue
		}
		current, _ := provider.ChainID(ctx)
		if current != nil && current.Cmp(chainID) == 0 {
			continue
		}
		logrus.Infof("node chain id changed from %v to %v", current, chainID)
		provider.SwitchChain(chainID)
	}
}
