package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"rose-market-client/core/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// Provider is the wallet collaborator. It owns the keys, negotiates one
// confirmation at a time and reports lifecycle changes as events.
type Provider interface {
	// RequestAccounts returns the exposed accounts, active account first.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// ChainID returns the network the wallet currently signs for.
	ChainID(ctx context.Context) (*big.Int, error)

	// SignTx asks the wallet to sign tx for from. A declined request must
	// return an error of kind UserRejected.
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)

	// SubscribeEvents delivers accountsChanged, chainChanged and disconnect
	// notifications until the subscription is closed.
	SubscribeEvents(ch chan<- model.ProviderEvent) event.Subscription
}

// Approver decides whether a signing request is confirmed by the key holder.
type Approver func(from common.Address, tx *types.Transaction) bool

// KeyProvider is a Provider backed by in-process private keys.
type KeyProvider struct {
	mu       sync.Mutex
	keys     map[common.Address]*ecdsa.PrivateKey
	accounts []common.Address
	chainID  *big.Int
	locked   bool
	approver Approver

	feed event.Feed
}

func NewKeyProvider(chainID *big.Int, keys ...*ecdsa.PrivateKey) *KeyProvider {
	p := &KeyProvider{
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
		chainID: new(big.Int).Set(chainID),
	}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, ok := p.keys[addr]; ok {
			continue
		}
		p.keys[addr] = key
		p.accounts = append(p.accounts, addr)
	}
	return p
}

// KeyProviderFromHex parses hex encoded secp256k1 keys, with or without 0x.
func KeyProviderFromHex(chainID *big.Int, hexKeys ...string) (*KeyProvider, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for i, raw := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return NewKeyProvider(chainID, keys...), nil
}

func (p *KeyProvider) SetApprover(approver Approver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approver = approver
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.chainID), nil
}

func (p *KeyProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewError(model.KindCancelled, "sign", err)
	}
	p.mu.Lock()
	key, ok := p.keys[from]
	locked := p.locked
	approver := p.approver
	current := new(big.Int).Set(p.chainID)
	p.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown account %s", from.Hex())
	}
	if locked {
		return nil, model.NewError(model.KindDisconnected, "sign", nil)
	}
	if chainID.Cmp(current) != 0 {
		return nil, model.NewError(model.KindNetworkChanged, "sign", fmt.Errorf("wallet on chain %v, asked for %v", current, chainID))
	}
	if approver != nil && !approver(from, tx) {
		logrus.Infof("signing of %v declined for %s", tx.Hash(), from.Hex())
		return nil, model.NewError(model.KindUserRejected, "sign", nil)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

func (p *KeyProvider) SubscribeEvents(ch chan<- model.ProviderEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

// SelectAccount makes addr the active account and announces the change.
func (p *KeyProvider) SelectAccount(addr common.Address) error {
	p.mu.Lock()
	if _, ok := p.keys[addr]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown account %s", addr.Hex())
	}
	ordered := []common.Address{addr}
	for _, a := range p.accounts {
		if a != addr {
			ordered = append(ordered, a)
		}
	}
	p.accounts = ordered
	p.locked = false
	accounts := append([]common.Address(nil), ordered...)
	p.mu.Unlock()

	p.feed.Send(model.ProviderEvent{Kind: model.EventAccountsChanged, Accounts: accounts})
	return nil
}

// Lock hides all accounts, as a locked wallet does.
func (p *KeyProvider) Lock() {
	p.mu.Lock()
	p.locked = true
	p.mu.Unlock()

	p.feed.Send(model.ProviderEvent{Kind: model.EventAccountsChanged})
}

func (p *KeyProvider) SwitchChain(chainID *big.Int) {
	p.mu.Lock()
	if p.chainID.Cmp(chainID) == 0 {
		p.mu.Unlock()
		return
	}
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()

	p.feed.Send(model.ProviderEvent{Kind: model.EventChainChanged, ChainID: chainID.Uint64()})
}

func (p *KeyProvider) Disconnect() {
	p.feed.Send(model.ProviderEvent{Kind: model.EventDisconnect})
}
