package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

type EventKind int

const (
	EventAccountsChanged EventKind = iota + 1
	EventChainChanged
	EventDisconnect
)

func (k EventKind) String() string {
	switch k {
	case EventAccountsChanged:
		return "accountsChanged"
	case EventChainChanged:
		return "chainChanged"
	case EventDisconnect:
		return "disconnect"
	}
	return "unknown"
}

// ProviderEvent is one lifecycle notification from the wallet provider.
type ProviderEvent struct {
	Kind     EventKind
	Accounts []Identity
	ChainID  uint64
}

// Receipt is the inclusion record of a submitted transaction.
type Receipt struct {
	*types.Receipt
	GasLimit uint64
	MintedId *big.Int
}

func (r *Receipt) Succeeded() bool {
	return r != nil && r.Receipt != nil && r.Status == types.ReceiptStatusSuccessful
}

// NewReceipt wraps receipt and decodes any ItemMinted log it carries.
func NewReceipt(receipt *types.Receipt, gasLimit uint64) *Receipt {
	res := &Receipt{Receipt: receipt, GasLimit: gasLimit}
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0].Hex() != TopicItemMinted {
			continue
		}
		if ev, err := ParseItemMinted(log); err == nil {
			res.MintedId = ev.Id
		}
	}
	return res
}
