package ledger

import (
	"context"
	"math/big"
	"time"

	"rose-market-client/chain"
	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const viewName = "ledger"

// View caches the token projection for the active identity: metadata,
// supply, balance and the allowance granted to the market.
type View struct {
	reader  chain.Reader
	token   common.Address
	spender common.Address
	metrics *metrics.Metrics

	cell refresh.Cell[model.TokenLedger]
}

func NewView(reader chain.Reader, token, spender common.Address, m *metrics.Metrics) *View {
	return &View{reader: reader, token: token, spender: spender, metrics: m}
}

func (v *View) Snapshot() model.TokenLedger {
	return v.cell.Load()
}

// Reset drops the cached projection and any reload still in flight.
func (v *View) Reset() {
	v.cell.Reset(model.TokenLedger{})
}

func (v *View) call(method string, args ...interface{}) model.Call {
	return model.Call{To: v.token, ABI: model.TokenABI, Method: method, Args: args}
}

// Reload reads the whole projection for trig and publishes it in one piece.
// It returns refresh.ErrSuperseded when a newer reload started meanwhile.
func (v *View) Reload(ctx context.Context, trig model.Trigger) error {
	return v.Prepare(trig)(ctx)
}

// Prepare takes the generation token for trig now and returns the batch that
// publishes under it. Batches prepared later supersede this one. A snapshot
// bound to another identity, network or epoch is dropped right away.
func (v *View) Prepare(trig model.Trigger) func(ctx context.Context) error {
	token := v.cell.Rebind(func(cur model.TokenLedger) bool {
		return cur.Trigger.SameBinding(trig)
	}, model.TokenLedger{})
	return func(ctx context.Context) error {
		return v.load(ctx, token, trig)
	}
}

func (v *View) load(ctx context.Context, token uint64, trig model.Trigger) error {
	if !trig.Bound() {
		v.cell.Publish(token, model.TokenLedger{Trigger: trig})
		return nil
	}

	start := time.Now()
	who := trig.Identity
	snap := model.TokenLedger{Trigger: trig}

	var g errgroup.Group
	g.Go(func() (err error) {
		snap.Name, err = chain.ReadOne[string](ctx, v.reader, who, v.call("name"))
		return err
	})
	g.Go(func() (err error) {
		snap.Symbol, err = chain.ReadOne[string](ctx, v.reader, who, v.call("symbol"))
		return err
	})
	g.Go(func() (err error) {
		snap.Decimals, err = chain.ReadOne[uint8](ctx, v.reader, who, v.call("decimals"))
		return err
	})
	g.Go(func() (err error) {
		snap.TotalSupply, err = chain.ReadOne[*big.Int](ctx, v.reader, who, v.call("totalSupply"))
		return err
	})
	g.Go(func() (err error) {
		snap.Balance, err = chain.ReadOne[*big.Int](ctx, v.reader, who, v.call("balanceOf", who))
		return err
	})
	g.Go(func() (err error) {
		snap.Allowance, err = chain.ReadOne[*big.Int](ctx, v.reader, who, v.call("allowance", who, v.spender))
		return err
	})

	err := g.Wait()
	v.metrics.ObserveRefresh(viewName, time.Since(start))
	if err != nil {
		v.metrics.RefreshFailed(viewName)
		logrus.Warnf("ledger reload for %s at tick %d err: %v", who.Hex(), trig.Tick, err)
		return err
	}
	if !v.cell.Publish(token, snap) {
		v.metrics.Superseded(viewName)
		logrus.Debugf("ledger reload for %s at tick %d superseded", who.Hex(), trig.Tick)
		return refresh.ErrSuperseded
	}
	return nil
}

// Balance reads the current balance of who, bypassing the cache.
func (v *View) Balance(ctx context.Context, who model.Identity) (*big.Int, error) {
	return chain.ReadOne[*big.Int](ctx, v.reader, who, v.call("balanceOf", who))
}

// Allowance reads what who has granted the market, bypassing the cache.
func (v *View) Allowance(ctx context.Context, who model.Identity) (*big.Int, error) {
	return chain.ReadOne[*big.Int](ctx, v.reader, who, v.call("allowance", who, v.spender))
}

func (v *View) Spender() common.Address {
	return v.spender
}

func (v *View) Token() common.Address {
	return v.token
}
