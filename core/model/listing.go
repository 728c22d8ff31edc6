package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the wallet-controlled address acting in a session.
type Identity = common.Address

var ZeroIdentity Identity

type Network struct {
	ChainID uint64
	Name    string
}

func (n Network) String() string {
	if n.Name == "" {
		return fmt.Sprintf("chain-%d", n.ChainID)
	}
	return fmt.Sprintf("%s(%d)", n.Name, n.ChainID)
}

func (n Network) BigChainID() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// Trigger identifies the inputs a cache snapshot was built from. Epoch
// changes whenever the session's identity or network is replaced.
type Trigger struct {
	Identity Identity
	Network  Network
	Epoch    uint64
	Tick     uint64
}

func (t Trigger) Bound() bool {
	return t.Identity != ZeroIdentity
}

// SameBinding reports whether t and o were taken for the same identity,
// network and epoch. Ticks may differ.
func (t Trigger) SameBinding(o Trigger) bool {
	return t.Identity == o.Identity && t.Network.ChainID == o.Network.ChainID && t.Epoch == o.Epoch
}

// Listing mirrors the marketplace item tuple; field order follows the ABI.
type Listing struct {
	Id          *big.Int
	Description string
	Price       *big.Int
	Author      common.Address
	Seller      common.Address
	Owner       common.Address
	Sold        bool
	Published   bool
}

type TokenLedger struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
	Balance     *big.Int
	Allowance   *big.Int
	Trigger     Trigger
}

type CatalogSnapshot struct {
	All     []Listing
	Unsold  []Listing
	Owned   []Listing
	Created []Listing

	AllCount     int
	UnsoldCount  int
	OwnedCount   int
	CreatedCount int
	SoldCount    uint64

	Approved bool
	Trigger  Trigger
}

func (s *CatalogSnapshot) Find(id *big.Int) (Listing, bool) {
	for _, group := range [][]Listing{s.All, s.Owned, s.Created} {
		for _, item := range group {
			if item.Id != nil && item.Id.Cmp(id) == 0 {
				return item, true
			}
		}
	}
	return Listing{}, false
}
