package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"rose-market-client/chain"
	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const viewName = "catalog"

// Catalog caches the marketplace listings seen by the active identity. The
// whole catalog is refetched on every trigger; there is no diffing.
type Catalog struct {
	reader   chain.Reader
	market   common.Address
	operator common.Address
	metrics  *metrics.Metrics

	cell refresh.Cell[model.CatalogSnapshot]
}

func NewCatalog(reader chain.Reader, market, operator common.Address, m *metrics.Metrics) *Catalog {
	return &Catalog{reader: reader, market: market, operator: operator, metrics: m}
}

func (c *Catalog) Snapshot() model.CatalogSnapshot {
	return c.cell.Load()
}

func (c *Catalog) Reset() {
	c.cell.Reset(model.CatalogSnapshot{})
}

func (c *Catalog) Market() common.Address {
	return c.market
}

func (c *Catalog) Operator() common.Address {
	return c.operator
}

func (c *Catalog) call(method string, args ...interface{}) model.Call {
	return model.Call{To: c.market, ABI: model.MarketABI, Method: method, Args: args}
}

func (c *Catalog) items(ctx context.Context, who model.Identity, method string, args ...interface{}) ([]model.Listing, error) {
	out, err := c.reader.Invoke(ctx, who, c.call(method, args...))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, model.NewError(model.KindRpc, method, fmt.Errorf("no outputs"))
	}
	return *abi.ConvertType(out[0], new([]model.Listing)).(*[]model.Listing), nil
}

// Reload fetches every listing query for trig and publishes the aggregate in
// one piece once all of them settled. It returns refresh.ErrSuperseded when a
// newer reload started meanwhile.
func (c *Catalog) Reload(ctx context.Context, trig model.Trigger) error {
	return c.Prepare(trig)(ctx)
}

func (c *Catalog) Prepare(trig model.Trigger) func(ctx context.Context) error {
	token := c.cell.Rebind(func(cur model.CatalogSnapshot) bool {
		return cur.Trigger.SameBinding(trig)
	}, model.CatalogSnapshot{})
	return func(ctx context.Context) error {
		return c.load(ctx, token, trig)
	}
}

func (c *Catalog) load(ctx context.Context, token uint64, trig model.Trigger) error {
	if !trig.Bound() {
		c.cell.Publish(token, model.CatalogSnapshot{Trigger: trig})
		return nil
	}

	start := time.Now()
	who := trig.Identity
	snap := model.CatalogSnapshot{Trigger: trig}

	var g errgroup.Group
	g.Go(func() (err error) {
		snap.All, err = c.items(ctx, who, "getAllItems")
		return err
	})
	g.Go(func() (err error) {
		snap.Unsold, err = c.items(ctx, who, "getUnsoldItems")
		return err
	})
	g.Go(func() (err error) {
		snap.Owned, err = c.items(ctx, who, "ownedItems", who)
		return err
	})
	g.Go(func() (err error) {
		snap.Created, err = c.items(ctx, who, "authoredItems", who)
		return err
	})
	g.Go(func() error {
		sold, err := chain.ReadOne[*big.Int](ctx, c.reader, who, c.call("getSoldItemCount"))
		if err != nil {
			return err
		}
		snap.SoldCount = sold.Uint64()
		return nil
	})
	g.Go(func() (err error) {
		snap.Approved, err = chain.ReadOne[bool](ctx, c.reader, who, c.call("isApprovedForAll", who, c.operator))
		return err
	})

	err := g.Wait()
	c.metrics.ObserveRefresh(viewName, time.Since(start))
	if err != nil {
		c.metrics.RefreshFailed(viewName)
		logrus.Warnf("catalog reload for %s at tick %d err: %v", who.Hex(), trig.Tick, err)
		return err
	}

	snap.AllCount = len(snap.All)
	snap.UnsoldCount = len(snap.Unsold)
	snap.OwnedCount = len(snap.Owned)
	snap.CreatedCount = len(snap.Created)
	if err := checkSnapshot(&snap); err != nil {
		// Reads from different blocks can straddle a sale; keep the old view.
		c.metrics.RefreshFailed(viewName)
		logrus.Warnf("catalog reload for %s at tick %d inconsistent: %v", who.Hex(), trig.Tick, err)
		return err
	}

	if !c.cell.Publish(token, snap) {
		c.metrics.Superseded(viewName)
		logrus.Debugf("catalog reload for %s at tick %d superseded", who.Hex(), trig.Tick)
		return refresh.ErrSuperseded
	}
	logrus.Infof("catalog for %s at tick %d: all %d, unsold %d, owned %d, created %d",
		who.Hex(), trig.Tick, snap.AllCount, snap.UnsoldCount, snap.OwnedCount, snap.CreatedCount)
	return nil
}

func checkSnapshot(snap *model.CatalogSnapshot) error {
	if snap.UnsoldCount > snap.AllCount {
		return fmt.Errorf("unsold count %d exceeds listed count %d", snap.UnsoldCount, snap.AllCount)
	}
	for _, group := range [][]model.Listing{snap.All, snap.Owned, snap.Created} {
		for _, item := range group {
			if item.Sold && item.Owner == model.ZeroIdentity {
				return fmt.Errorf("sold item %v has no owner", item.Id)
			}
		}
	}
	return nil
}

// Item looks a listing up by id, published or not. ok is false when the
// ledger never assigned the id.
func (c *Catalog) Item(ctx context.Context, who model.Identity, id *big.Int) (item model.Listing, ok bool, err error) {
	exists, err := chain.ReadOne[bool](ctx, c.reader, who, c.call("itemExists", id))
	if err != nil || !exists {
		return model.Listing{}, false, err
	}
	out, err := c.reader.Invoke(ctx, who, c.call("getItem", id))
	if err != nil {
		return model.Listing{}, false, err
	}
	if len(out) == 0 {
		return model.Listing{}, false, model.NewError(model.KindRpc, "getItem", fmt.Errorf("no outputs"))
	}
	return *abi.ConvertType(out[0], new(model.Listing)).(*model.Listing), true, nil
}

func (c *Catalog) IsOwner(ctx context.Context, who model.Identity, id *big.Int) (bool, error) {
	return chain.ReadOne[bool](ctx, c.reader, who, c.call("isOwnerOf", who, id))
}

func (c *Catalog) IsApproved(ctx context.Context, who model.Identity) (bool, error) {
	return chain.ReadOne[bool](ctx, c.reader, who, c.call("isApprovedForAll", who, c.operator))
}
