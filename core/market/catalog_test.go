package market

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"rose-market-client/chain"
	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/internal/chaintest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestCatalog(l *chaintest.Ledger) *Catalog {
	return NewCatalog(chain.NewConnector(l, nil), chaintest.MarketAddress, chaintest.OperatorAddress, nil)
}

func apply(t *testing.T, l *chaintest.Ledger, from common.Address, method string, args ...interface{}) {
	t.Helper()
	require.NoError(t, l.Apply(from, chaintest.MarketAddress, model.MarketABI, method, args...))
}

func TestReloadAggregatesListings(t *testing.T) {
	l := chaintest.New()
	l.Fund(bob, 100)
	require.NoError(t, l.Apply(bob, chaintest.TokenAddress, model.TokenABI, "increaseAllowance", chaintest.MarketAddress, big.NewInt(100)))

	first := l.Mint(alice, "Widget", 10)
	second := l.Mint(alice, "Gadget", 25)
	l.Mint(alice, "Draft", 5)
	apply(t, l, alice, "listItem", big.NewInt(first))
	apply(t, l, alice, "listItem", big.NewInt(second))
	apply(t, l, bob, "purchaseItem", big.NewInt(first))
	apply(t, l, alice, "setApprovalForAll", chaintest.OperatorAddress, true)

	c := newTestCatalog(l)
	trig := model.Trigger{Identity: alice, Epoch: 1, Tick: 4}
	require.NoError(t, c.Reload(context.Background(), trig))

	snap := c.Snapshot()
	require.Equal(t, trig, snap.Trigger)
	require.Equal(t, 2, snap.AllCount)
	require.Equal(t, 1, snap.UnsoldCount)
	require.Equal(t, 2, snap.OwnedCount)
	require.Equal(t, 3, snap.CreatedCount)
	require.Equal(t, uint64(1), snap.SoldCount)
	require.True(t, snap.Approved)
	require.Len(t, snap.All, snap.AllCount)

	sold, ok := snap.Find(big.NewInt(first))
	require.True(t, ok)
	require.True(t, sold.Sold)
	require.Equal(t, bob, sold.Owner)
	require.Equal(t, alice, sold.Author)
	require.Equal(t, "Widget", sold.Description)
	require.Equal(t, int64(10), sold.Price.Int64())

	require.NoError(t, c.Reload(context.Background(), model.Trigger{Identity: bob, Epoch: 1, Tick: 4}))
	snap = c.Snapshot()
	require.Equal(t, 1, snap.OwnedCount)
	require.Equal(t, 0, snap.CreatedCount)
	require.False(t, snap.Approved)
}

func TestCountsStayConsistent(t *testing.T) {
	l := chaintest.New()
	for i := int64(1); i <= 5; i++ {
		id := l.Mint(alice, "item", i)
		if i%2 == 1 {
			apply(t, l, alice, "listItem", big.NewInt(id))
		}
	}

	c := newTestCatalog(l)
	require.NoError(t, c.Reload(context.Background(), model.Trigger{Identity: alice}))
	snap := c.Snapshot()
	require.LessOrEqual(t, snap.UnsoldCount, snap.AllCount)
	require.Equal(t, 3, snap.AllCount)
	require.Equal(t, 5, snap.CreatedCount)
	for _, item := range snap.All {
		require.True(t, item.Published)
		if item.Sold {
			require.NotEqual(t, model.ZeroIdentity, item.Owner)
		}
	}
}

func TestUnboundTriggerPublishesEmptyCatalog(t *testing.T) {
	l := chaintest.New()
	l.Mint(alice, "Widget", 10)
	c := newTestCatalog(l)

	require.NoError(t, c.Reload(context.Background(), model.Trigger{Tick: 2}))
	snap := c.Snapshot()
	require.Zero(t, snap.AllCount)
	require.Nil(t, snap.All)
	require.Equal(t, 0, l.ReadCount())
}

func TestFailedReloadKeepsCatalog(t *testing.T) {
	l := chaintest.New()
	l.Mint(alice, "Widget", 10)
	c := newTestCatalog(l)
	require.NoError(t, c.Reload(context.Background(), model.Trigger{Identity: alice, Tick: 1}))

	boom := errors.New("timeout")
	l.ReadHook = func(ctx context.Context, from common.Address, method string) error {
		if method == "authoredItems" {
			return boom
		}
		return nil
	}
	l.Mint(alice, "Gadget", 20)

	err := c.Reload(context.Background(), model.Trigger{Identity: alice, Tick: 2})
	require.True(t, errors.Is(err, boom))
	snap := c.Snapshot()
	require.Equal(t, uint64(1), snap.Trigger.Tick)
	require.Equal(t, 1, snap.CreatedCount)

	// a new epoch does not inherit the old catalog when its reload fails
	err = c.Reload(context.Background(), model.Trigger{Identity: alice, Epoch: 1, Tick: 2})
	require.True(t, errors.Is(err, boom))
	snap = c.Snapshot()
	require.Equal(t, model.ZeroIdentity, snap.Trigger.Identity)
	require.Zero(t, snap.CreatedCount)
	require.Nil(t, snap.Created)
}

func TestSupersededCatalogReloadIsDropped(t *testing.T) {
	l := chaintest.New()
	l.Mint(alice, "Widget", 10)
	l.Mint(bob, "Gadget", 20)
	l.Mint(bob, "Gizmo", 30)
	c := newTestCatalog(l)

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	l.ReadHook = func(ctx context.Context, from common.Address, method string) error {
		if from == alice {
			entered <- struct{}{}
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Reload(context.Background(), model.Trigger{Identity: alice, Epoch: 1})
	}()
	<-entered

	require.NoError(t, c.Reload(context.Background(), model.Trigger{Identity: bob, Epoch: 2}))
	close(release)

	require.True(t, errors.Is(<-done, refresh.ErrSuperseded))
	snap := c.Snapshot()
	require.Equal(t, bob, snap.Trigger.Identity)
	require.Equal(t, 2, snap.CreatedCount)
}

func TestResetClearsCatalog(t *testing.T) {
	l := chaintest.New()
	l.Mint(alice, "Widget", 10)
	c := newTestCatalog(l)
	require.NoError(t, c.Reload(context.Background(), model.Trigger{Identity: alice}))

	c.Reset()
	require.Equal(t, model.CatalogSnapshot{}, c.Snapshot())
}

func TestItemLookup(t *testing.T) {
	l := chaintest.New()
	id := l.Mint(alice, "Widget", 10)
	c := newTestCatalog(l)
	ctx := context.Background()

	item, ok, err := c.Item(ctx, bob, big.NewInt(id))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Widget", item.Description)
	require.False(t, item.Published)

	_, ok, err = c.Item(ctx, bob, big.NewInt(42))
	require.NoError(t, err)
	require.False(t, ok)

	owner, err := c.IsOwner(ctx, alice, big.NewInt(id))
	require.NoError(t, err)
	require.True(t, owner)

	owner, err = c.IsOwner(ctx, bob, big.NewInt(id))
	require.NoError(t, err)
	require.False(t, owner)
}

func TestCheckSnapshotRejectsContradictions(t *testing.T) {
	snap := model.CatalogSnapshot{UnsoldCount: 2, AllCount: 1}
	require.Error(t, checkSnapshot(&snap))

	snap = model.CatalogSnapshot{
		All:      []model.Listing{{Id: big.NewInt(1), Sold: true}},
		AllCount: 1,
	}
	require.Error(t, checkSnapshot(&snap))
}
