package session

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"rose-market-client/chain"
	"rose-market-client/core/model"
	"rose-market-client/internal/chaintest"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *chain.KeyProvider, []model.Identity) {
	t.Helper()
	keys := chaintest.NewKeys(2)
	provider := chain.NewKeyProvider(chaintest.DefaultChainID, keys...)
	connector := chain.NewConnector(chaintest.New(), provider, chain.WithNetworkNames(map[uint64]string{1337: "devnet"}))
	s := New(connector)
	t.Cleanup(s.Close)
	return s, provider, []model.Identity{chaintest.Address(keys[0]), chaintest.Address(keys[1])}
}

func waitFor(t *testing.T, s *Session, cond func(State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Current()) }, 2*time.Second, 5*time.Millisecond)
}

func TestConnectWithoutProvider(t *testing.T) {
	s := New(chain.NewConnector(chaintest.New(), nil))
	defer s.Close()

	err := s.Connect(context.Background())
	require.True(t, errors.Is(err, model.ErrProviderUnavailable))

	st := s.Current()
	require.Equal(t, Disconnected, st.Status)
	require.True(t, errors.Is(st.Err, model.ErrProviderUnavailable))
}

func TestConnectBindsActiveAccount(t *testing.T) {
	s, _, ids := newTestSession(t)
	states := make(chan State, 8)
	sub := s.SubscribeState(states)
	defer sub.Unsubscribe()

	require.NoError(t, s.Connect(context.Background()))

	st := s.Current()
	require.True(t, st.Connected())
	require.Equal(t, ids[0], st.Identity)
	require.Equal(t, model.Network{ChainID: 1337, Name: "devnet"}, st.Network)
	require.Equal(t, uint64(1), st.Epoch)

	require.Equal(t, Connecting, (<-states).Status)
	require.Equal(t, Connected, (<-states).Status)

	// already connected
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, uint64(1), s.Current().Epoch)
}

func TestAccountsChangedReplacesIdentity(t *testing.T) {
	s, provider, ids := newTestSession(t)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, provider.SelectAccount(ids[1]))
	waitFor(t, s, func(st State) bool { return st.Identity == ids[1] })

	st := s.Current()
	require.Equal(t, Connected, st.Status)
	require.Equal(t, uint64(2), st.Epoch)
}

func TestEmptyAccountsDisconnects(t *testing.T) {
	s, provider, _ := newTestSession(t)
	require.NoError(t, s.Connect(context.Background()))

	provider.Lock()
	waitFor(t, s, func(st State) bool { return st.Status == Disconnected })

	st := s.Current()
	require.Equal(t, model.ZeroIdentity, st.Identity)
	require.True(t, errors.Is(st.Err, model.ErrDisconnected))
}

func TestChainChangedReinitialisesSession(t *testing.T) {
	s, provider, ids := newTestSession(t)
	states := make(chan State, 16)
	sub := s.SubscribeState(states)
	defer sub.Unsubscribe()
	require.NoError(t, s.Connect(context.Background()))

	provider.SwitchChain(big.NewInt(5))
	waitFor(t, s, func(st State) bool { return st.Connected() && st.Network.ChainID == 5 })
	require.Equal(t, ids[0], s.Current().Identity)

	require.Eventually(t, func() bool {
		for {
			select {
			case st := <-states:
				if st.Status == Disconnected && errors.Is(st.Err, model.ErrNetworkChanged) {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectIsFatal(t *testing.T) {
	s, provider, ids := newTestSession(t)
	require.NoError(t, s.Connect(context.Background()))

	provider.Disconnect()
	waitFor(t, s, func(st State) bool { return st.Status == Disconnected })
	require.True(t, errors.Is(s.Current().Err, model.ErrDisconnected))

	// the old subscription is gone, so account changes do not revive it
	require.NoError(t, provider.SelectAccount(ids[1]))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, Disconnected, s.Current().Status)

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, ids[1], s.Current().Identity)
}

func TestStaleEventsAreIgnored(t *testing.T) {
	s, _, ids := newTestSession(t)
	s.HandleEvent(model.ProviderEvent{Kind: model.EventAccountsChanged, Accounts: ids[1:]})
	require.Equal(t, Disconnected, s.Current().Status)
}

func TestCloseEndsSession(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Connect(context.Background()))
	s.Close()

	require.Equal(t, Disconnected, s.Current().Status)
	err := s.Connect(context.Background())
	require.True(t, errors.Is(err, model.ErrDisconnected))
}

func TestConnectWhileConnectingFails(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.mu.Lock()
	s.transitionLocked(State{Status: Connecting})
	s.mu.Unlock()

	err := s.Connect(context.Background())
	require.True(t, errors.Is(err, model.ErrDisconnected))
	require.True(t, errors.Is(err, errConnectInProgress))
	require.Equal(t, Connecting, s.Current().Status)
}

func TestStalledSubscriberDoesNotBlockTransitions(t *testing.T) {
	s, _, ids := newTestSession(t)
	stalled := make(chan State)
	sub := s.SubscribeState(stalled)
	defer sub.Unsubscribe()
	require.NoError(t, s.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.HandleEvent(model.ProviderEvent{Kind: model.EventAccountsChanged, Accounts: ids[i%2 : i%2+1]})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session transitions blocked on a stalled subscriber")
	}
	require.Equal(t, uint64(1+199), s.Current().Epoch)
}
