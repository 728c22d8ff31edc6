package session

import (
	"context"
	"errors"
	"sync"

	"rose-market-client/chain"
	"rose-market-client/core/model"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// State is an immutable view of the session. Epoch increases every time the
// identity or network is replaced, so caches keyed on it notice swaps even
// when an old identity comes back.
var errConnectInProgress = errors.New("connect already in progress")

type State struct {
	Status   Status
	Identity model.Identity
	Network  model.Network
	Epoch    uint64
	Err      error
}

func (s State) Connected() bool {
	return s.Status == Connected && s.Identity != model.ZeroIdentity
}

// Session owns the active identity and network and follows the provider's
// lifecycle events between Connect and teardown.
type Session struct {
	connector *chain.Connector

	mu    sync.Mutex
	state State
	gen   uint64 // bumps on every teardown, stale pumps compare against it
	scope event.SubscriptionScope
	quit  chan struct{}

	closed  bool
	pending []State       // transitions not yet handed to the feed
	wake    chan struct{} // closed on teardown for good
	feed    event.Feed

	// reconnect runs the full reinitialisation after chainChanged.
	reconnect func()
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(connector *chain.Connector) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		connector: connector,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.reconnect = func() {
		if err := s.Connect(s.ctx); err != nil {
			logrus.Warnf("session reinitialisation failed: %v", err)
		}
	}
	go s.publish()
	return s
}

func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscribeState delivers every state transition on ch, in order. The
// channel should have ample buffer space: a subscriber that stops reading
// holds back delivery to all others, though never the session itself.
func (s *Session) SubscribeState(ch chan<- State) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Connect binds the session to the provider's active account. It is a no-op
// when already connected and fails while another Connect is in flight.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.NewError(model.KindDisconnected, "connect", nil)
	}
	switch s.state.Status {
	case Connected:
		s.mu.Unlock()
		return nil
	case Connecting:
		s.mu.Unlock()
		return model.NewError(model.KindDisconnected, "connect", errConnectInProgress)
	}
	s.transitionLocked(State{Status: Connecting, Epoch: s.state.Epoch})
	s.mu.Unlock()

	conn, err := s.connector.Connect(ctx)
	if err == nil && len(conn.Accounts) == 0 {
		err = model.NewError(model.KindDisconnected, "connect", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Status != Connecting {
		return model.NewError(model.KindDisconnected, "connect", nil)
	}
	if err != nil {
		logrus.Warnf("wallet connect err: %v", err)
		s.transitionLocked(State{Status: Disconnected, Epoch: s.state.Epoch, Err: err})
		return err
	}

	events := make(chan model.ProviderEvent, 16)
	sub := s.scope.Track(s.connector.SubscribeEvents(events))
	quit := make(chan struct{})
	s.quit = quit
	go s.pump(s.gen, events, sub, quit)

	s.transitionLocked(State{
		Status:   Connected,
		Identity: conn.Accounts[0],
		Network:  conn.Network,
		Epoch:    s.state.Epoch + 1,
	})
	logrus.Infof("session connected as %s on %s", conn.Accounts[0].Hex(), conn.Network)
	return nil
}

// Close tears the session down for good.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.teardownLocked()
	if s.state.Status != Disconnected {
		s.transitionLocked(State{Status: Disconnected, Epoch: s.state.Epoch + 1, Err: model.ErrDisconnected})
	}
	s.closed = true
	close(s.wake)
}

func (s *Session) pump(gen uint64, events <-chan model.ProviderEvent, sub event.Subscription, quit <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			s.handle(gen, ev)
		case err := <-sub.Err():
			if err != nil {
				logrus.Warnf("provider subscription ended: %v", err)
			}
			return
		case <-quit:
			return
		}
	}
}

// HandleEvent applies one provider event to the current session.
func (s *Session) HandleEvent(ev model.ProviderEvent) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.handle(gen, ev)
}

func (s *Session) handle(gen uint64, ev model.ProviderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state.Status != Connected {
		logrus.Debugf("dropping stale provider event %s", ev.Kind)
		return
	}
	logrus.Infof("provider event %s accounts=%d chain=%d", ev.Kind, len(ev.Accounts), ev.ChainID)

	switch ev.Kind {
	case model.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.teardownLocked()
			s.transitionLocked(State{Status: Disconnected, Epoch: s.state.Epoch + 1, Err: model.ErrDisconnected})
			return
		}
		if ev.Accounts[0] == s.state.Identity {
			return
		}
		next := s.state
		next.Identity = ev.Accounts[0]
		next.Epoch++
		next.Err = nil
		s.transitionLocked(next)

	case model.EventChainChanged:
		// Addresses and caches are network specific: drop everything and
		// connect again from scratch.
		s.teardownLocked()
		s.transitionLocked(State{Status: Disconnected, Epoch: s.state.Epoch + 1, Err: model.ErrNetworkChanged})
		go s.reconnect()

	case model.EventDisconnect:
		s.teardownLocked()
		s.transitionLocked(State{Status: Disconnected, Epoch: s.state.Epoch + 1, Err: model.ErrDisconnected})
	}
}

func (s *Session) teardownLocked() {
	s.gen++
	s.scope.Close()
	s.scope = event.SubscriptionScope{}
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
}

// transitionLocked stores next and queues it for subscribers.
func (s *Session) transitionLocked(next State) {
	s.state = next
	if s.closed {
		return
	}
	s.pending = append(s.pending, next)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) publish() {
	for {
		_, open := <-s.wake
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, st := range batch {
			s.feed.Send(st)
		}
		if !open {
			return
		}
	}
}
