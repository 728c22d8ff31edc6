package txn

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rose-market-client/chain"
	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/core/session"
	"rose-market-client/internal/chaintest"
	"rose-market-client/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger   *chaintest.Ledger
	provider *chain.KeyProvider
	session  *session.Session
	bus      *refresh.Bus
	metrics  *metrics.Metrics
	ids      []model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys := chaintest.NewKeys(2)
	f := &fixture{
		ledger:   chaintest.New(),
		provider: chain.NewKeyProvider(chaintest.DefaultChainID, keys...),
		bus:      refresh.NewBus(),
		metrics:  metrics.New(),
		ids:      []model.Identity{chaintest.Address(keys[0]), chaintest.Address(keys[1])},
	}
	f.session = session.New(chain.NewConnector(f.ledger, f.provider))
	t.Cleanup(f.session.Close)
	require.NoError(t, f.session.Connect(context.Background()))
	return f
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	c := chain.NewConnector(f.ledger, f.provider)
	return New(f.session, c, f.bus, append([]Option{WithMetrics(f.metrics)}, opts...)...)
}

func mintAction(description string, price int64) Action {
	return Action{
		Name:  "mint",
		Class: ClassStandard,
		Call: model.Call{
			To:     chaintest.MarketAddress,
			ABI:    model.MarketABI,
			Method: "mint",
			Args:   []interface{}{description, big.NewInt(price)},
		},
	}
}

func purchaseAction(id int64) Action {
	return Action{
		Name:  "buy",
		Class: ClassPurchase,
		Call: model.Call{
			To:     chaintest.MarketAddress,
			ABI:    model.MarketABI,
			Method: "purchaseItem",
			Args:   []interface{}{big.NewInt(id)},
		},
	}
}

func TestGasPolicyLimit(t *testing.T) {
	p := DefaultGasPolicy()
	require.Equal(t, uint64(110000), p.Limit(ClassStandard, 100000))
	require.Equal(t, uint64(140000), p.Limit(ClassPurchase, 100000))
	require.Equal(t, uint64(12), p.Limit(ClassStandard, 10))
	require.Equal(t, uint64(2), p.Limit(ClassStandard, 1))
	require.Equal(t, uint64(500), GasPolicy{Standard: 0.5}.Limit(ClassStandard, 500))
}

func TestSuccessAdvancesTickOnce(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	out := o.Execute(context.Background(), mintAction("Widget", 10))
	require.Equal(t, Succeeded, out.Status, "%v", out.Err)
	require.NoError(t, out.Err)
	require.Equal(t, uint64(1), out.Tick)
	require.Equal(t, uint64(1), f.bus.Current())
	require.Equal(t, uint64(141000), out.Estimate)
	require.Equal(t, uint64(155100), out.GasLimit)
	require.Equal(t, int64(1), out.Receipt.MintedId.Int64())
	require.NotEqual(t, uuid.Nil, out.ID)

	item, ok := f.ledger.Item(1)
	require.True(t, ok)
	require.Equal(t, f.ids[0], item.Author)

	series, err := testutil.GatherAndCount(f.metrics.Registry, "rose_market_actions_total")
	require.NoError(t, err)
	require.Equal(t, 1, series)
}

func TestFailureLeavesTickUnchanged(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	out := o.Execute(context.Background(), mintAction("Free", 0))
	require.Equal(t, Failed, out.Status)
	require.Equal(t, model.KindContractRevert, out.Kind())
	require.True(t, errors.Is(out.Err, model.ErrContractRevert))
	require.Zero(t, out.Tick)
	require.Zero(t, f.bus.Current())
	require.Zero(t, f.ledger.SentCount())
}

func TestValidationShortCircuits(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()

	action := mintAction("Widget", 10)
	action.Validate = func(ctx context.Context, from model.Identity) error {
		return model.ErrInvalidAmount
	}
	out := o.Execute(context.Background(), action)
	require.Equal(t, Failed, out.Status)
	require.Equal(t, model.KindValidation, out.Kind())
	require.True(t, errors.Is(out.Err, model.ErrInvalidAmount))
	require.Zero(t, f.ledger.SentCount())
	require.Zero(t, f.bus.Current())
}

func TestNotConnectedIsValidationError(t *testing.T) {
	f := newFixture(t)
	f.provider.Lock()
	require.Eventually(t, func() bool { return !f.session.Current().Connected() }, 2*time.Second, 5*time.Millisecond)

	out := f.orchestrator().Execute(context.Background(), mintAction("Widget", 10))
	require.Equal(t, Failed, out.Status)
	require.True(t, errors.Is(out.Err, model.ErrValidation))
	require.True(t, errors.Is(out.Err, model.ErrNotConnected))
}

func TestDeclinedConfirmationCancels(t *testing.T) {
	f := newFixture(t)
	asked := 0
	o := f.orchestrator(WithConfirmer(ConfirmFunc(func(ctx context.Context, from model.Identity, action Action) (bool, error) {
		asked++
		require.Equal(t, "mint", action.Name)
		return false, nil
	})))

	out := o.Execute(context.Background(), mintAction("Widget", 10))
	require.Equal(t, 1, asked)
	require.Equal(t, Cancelled, out.Status)
	require.True(t, errors.Is(out.Err, model.ErrCancelled))
	require.True(t, out.Kind().Benign())
	require.Zero(t, f.ledger.SentCount())
	require.Zero(t, f.bus.Current())
}

func TestRejectedSignatureFails(t *testing.T) {
	f := newFixture(t)
	f.provider.SetApprover(func(common.Address, *types.Transaction) bool { return false })

	out := f.orchestrator().Execute(context.Background(), mintAction("Widget", 10))
	require.Equal(t, Failed, out.Status)
	require.Equal(t, model.KindUserRejected, out.Kind())
	require.Zero(t, f.ledger.SentCount())
	require.Zero(t, f.bus.Current())
}

func TestPurchaseMarginAbsorbsDrift(t *testing.T) {
	f := newFixture(t)
	seller, buyer := f.ids[1], f.ids[0]
	id := f.ledger.Mint(seller, "Widget", 10)
	require.NoError(t, f.ledger.Apply(seller, chaintest.MarketAddress, model.MarketABI, "listItem", big.NewInt(id)))
	f.ledger.Fund(buyer, 100)
	require.NoError(t, f.ledger.Apply(buyer, chaintest.TokenAddress, model.TokenABI, "increaseAllowance", chaintest.MarketAddress, big.NewInt(100)))

	// estimate 111000; 1.1 allows 122100, 1.4 allows 155400
	f.ledger.Surcharge["purchaseItem"] = 20000

	tight := f.orchestrator(WithGasPolicy(GasPolicy{Standard: 1.1, Purchase: 1.1}))
	out := tight.Execute(context.Background(), purchaseAction(id))
	require.Equal(t, Failed, out.Status)
	require.Equal(t, model.KindContractRevert, out.Kind())
	require.NotNil(t, out.Receipt)
	require.False(t, out.Receipt.Succeeded())
	require.Equal(t, uint64(122100), out.GasLimit)
	require.Zero(t, f.bus.Current())
	require.Equal(t, int64(100), f.ledger.BalanceOf(buyer).Int64())

	out = f.orchestrator().Execute(context.Background(), purchaseAction(id))
	require.Equal(t, Succeeded, out.Status, "%v", out.Err)
	require.Equal(t, uint64(155400), out.GasLimit)
	require.Equal(t, uint64(1), f.bus.Current())
	require.Equal(t, int64(90), f.ledger.BalanceOf(buyer).Int64())
	require.Equal(t, int64(10), f.ledger.BalanceOf(seller).Int64())
}

func TestSubmissionsAreSerialized(t *testing.T) {
	f := newFixture(t)
	var active, peak int32
	o := f.orchestrator(WithConfirmer(ConfirmFunc(func(ctx context.Context, from model.Identity, action Action) (bool, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return true, nil
	})))
	f.ledger.SendHook = func(*types.Transaction) error {
		atomic.AddInt32(&active, -1)
		return nil
	}

	var wg sync.WaitGroup
	outs := make([]Outcome, 4)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = o.Execute(context.Background(), mintAction("Widget", int64(i+1)))
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&peak))
	ticks := map[uint64]bool{}
	for _, out := range outs {
		require.Equal(t, Succeeded, out.Status, "%v", out.Err)
		ticks[out.Tick] = true
	}
	require.Len(t, ticks, 4)
	require.Equal(t, uint64(4), f.bus.Current())
	require.Len(t, f.ledger.Items(), 4)
}

func TestQueuedActionHonoursContext(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	o := f.orchestrator(WithConfirmer(ConfirmFunc(func(ctx context.Context, from model.Identity, action Action) (bool, error) {
		if action.Name == "first" {
			close(entered)
			<-release
		}
		return true, nil
	})))

	first := mintAction("Widget", 10)
	first.Name = "first"
	done := make(chan Outcome, 1)
	go func() { done <- o.Execute(context.Background(), first) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := o.Execute(ctx, mintAction("Gadget", 20))
	require.Equal(t, Cancelled, out.Status)
	require.True(t, errors.Is(out.Err, model.ErrCancelled))

	close(release)
	require.Equal(t, Succeeded, (<-done).Status)
	require.Equal(t, uint64(1), f.bus.Current())
}

func TestIdentitySwapWhileQueuedFails(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	o := f.orchestrator(WithConfirmer(ConfirmFunc(func(ctx context.Context, from model.Identity, action Action) (bool, error) {
		if action.Name == "first" {
			close(entered)
			<-release
		}
		return true, nil
	})))

	first := mintAction("Widget", 10)
	first.Name = "first"
	done := make(chan Outcome, 1)
	go func() { done <- o.Execute(context.Background(), first) }()
	<-entered

	second := make(chan Outcome, 1)
	go func() { second <- o.Execute(context.Background(), mintAction("Gadget", 20)) }()
	// let the second action pass validation and queue behind the first
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, f.provider.SelectAccount(f.ids[1]))
	require.Eventually(t, func() bool { return f.session.Current().Identity == f.ids[1] }, 2*time.Second, 5*time.Millisecond)
	close(release)

	<-done
	out := <-second
	require.Equal(t, Failed, out.Status)
	require.Equal(t, model.KindDisconnected, out.Kind())
}
