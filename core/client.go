package core

import (
	"context"
	"errors"
	"sync"

	"rose-market-client/chain"
	"rose-market-client/core/ledger"
	"rose-market-client/core/market"
	"rose-market-client/core/model"
	"rose-market-client/core/refresh"
	"rose-market-client/core/session"
	"rose-market-client/core/txn"
	"rose-market-client/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Token    common.Address
	Market   common.Address
	Operator common.Address

	GasPolicy txn.GasPolicy
	Confirmer txn.Confirmer
	Metrics   *metrics.Metrics
}

// State is what a front end renders: the session plus both caches.
type State struct {
	Session session.State
	Ledger  model.TokenLedger
	Catalog model.CatalogSnapshot
	Tick    uint64
}

// Client wires the session, the caches and the orchestrator together. Every
// session transition and every refresh tick rebuilds both caches for the
// current identity.
type Client struct {
	connector    *chain.Connector
	session      *session.Session
	bus          *refresh.Bus
	ledger       *ledger.View
	catalog      *market.Catalog
	orchestrator *txn.Orchestrator
	metrics      *metrics.Metrics

	scope  event.SubscriptionScope
	states chan session.State
	ticks  chan uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing sync.Once
}

func NewClient(connector *chain.Connector, opts Options) *Client {
	policy := opts.GasPolicy
	if policy == (txn.GasPolicy{}) {
		policy = txn.DefaultGasPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		connector: connector,
		session:   session.New(connector),
		bus:       refresh.NewBus(),
		ledger:    ledger.NewView(connector, opts.Token, opts.Market, opts.Metrics),
		catalog:   market.NewCatalog(connector, opts.Market, opts.Operator, opts.Metrics),
		metrics:   opts.Metrics,
		states:    make(chan session.State, 16),
		ticks:     make(chan uint64, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.orchestrator = txn.New(c.session, connector, c.bus,
		txn.WithGasPolicy(policy),
		txn.WithConfirmer(opts.Confirmer),
		txn.WithMetrics(opts.Metrics),
	)

	c.scope.Track(c.session.SubscribeState(c.states))
	c.scope.Track(c.bus.Subscribe(c.ticks))

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Client) Session() *session.Session {
	return c.session
}

func (c *Client) Bus() *refresh.Bus {
	return c.bus
}

// State never pairs the session with caches built for an earlier epoch;
// until the reload for the current epoch lands those caches read as empty.
func (c *Client) State() State {
	st := State{
		Session: c.session.Current(),
		Ledger:  c.ledger.Snapshot(),
		Catalog: c.catalog.Snapshot(),
		Tick:    c.bus.Current(),
	}
	if st.Ledger.Trigger.Epoch != st.Session.Epoch {
		st.Ledger = model.TokenLedger{}
	}
	if st.Catalog.Trigger.Epoch != st.Session.Epoch {
		st.Catalog = model.CatalogSnapshot{}
	}
	return st
}

// Connect binds the session. The caches fill in asynchronously once the
// Connected transition reaches the loop.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Refresh rebuilds both caches for the current session and waits for them.
func (c *Client) Refresh(ctx context.Context) error {
	batches, ok := c.prepare()
	if !ok {
		return model.NewError(model.KindValidation, "refresh", model.ErrNotConnected)
	}
	return c.run(ctx, batches)
}

func (c *Client) Close() {
	c.closing.Do(func() {
		c.cancel()
		c.scope.Close()
		c.wg.Wait()
		c.session.Close()
	})
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case st := <-c.states:
			logrus.Debugf("session %s identity %s epoch %d", st.Status, st.Identity.Hex(), st.Epoch)
			c.sync()
		case tick := <-c.ticks:
			logrus.Debugf("refresh tick %d", tick)
			c.sync()
		case <-c.ctx.Done():
			return
		}
	}
}

// sync reloads against the session as it is now rather than the event that
// woke the loop, so a late event never rebinds the caches to a stale identity.
func (c *Client) sync() {
	batches, ok := c.prepare()
	if !ok {
		c.ledger.Reset()
		c.catalog.Reset()
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.run(c.ctx, batches); err != nil {
			logrus.Warnf("refresh err: %v", err)
		}
	}()
}

func (c *Client) trigger() (model.Trigger, bool) {
	st := c.session.Current()
	if !st.Connected() {
		return model.Trigger{}, false
	}
	return model.Trigger{
		Identity: st.Identity,
		Network:  st.Network,
		Epoch:    st.Epoch,
		Tick:     c.bus.Current(),
	}, true
}

func (c *Client) prepare() ([]func(context.Context) error, bool) {
	trig, ok := c.trigger()
	if !ok {
		return nil, false
	}
	return []func(context.Context) error{
		c.ledger.Prepare(trig),
		c.catalog.Prepare(trig),
	}, true
}

func (c *Client) run(ctx context.Context, batches []func(context.Context) error) error {
	var g errgroup.Group
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := batch(ctx); err != nil && !errors.Is(err, refresh.ErrSuperseded) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
