package core

import (
	"context"
	"math/big"
	"strings"

	"rose-market-client/core/model"
	"rose-market-client/core/txn"

	"github.com/ethereum/go-ethereum/common"
)

func (c *Client) tokenCall(method string, args ...interface{}) model.Call {
	return model.Call{To: c.ledger.Token(), ABI: model.TokenABI, Method: method, Args: args}
}

func (c *Client) marketCall(method string, args ...interface{}) model.Call {
	return model.Call{To: c.catalog.Market(), ABI: model.MarketABI, Method: method, Args: args}
}

func (c *Client) execute(ctx context.Context, action txn.Action) txn.Outcome {
	return c.orchestrator.Execute(ctx, action)
}

func (c *Client) checkBalance(ctx context.Context, op string, from model.Identity, amount *big.Int) error {
	balance, err := c.ledger.Balance(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return model.Validationf(op, model.ErrInsufficientBalance, "balance %v below %v", balance, amount)
	}
	return nil
}

func (c *Client) checkOwner(ctx context.Context, op string, from model.Identity, id *big.Int) error {
	owner, err := c.catalog.IsOwner(ctx, from, id)
	if err != nil {
		return err
	}
	if !owner {
		return model.Validationf(op, model.ErrNotOwner, "item %v", id)
	}
	return nil
}

func positive(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return model.Validationf(op, model.ErrInvalidAmount, "amount %v", amount)
	}
	return nil
}

// Mint creates a new unpublished item owned by the active identity. On
// success the outcome's receipt carries the minted id.
func (c *Client) Mint(ctx context.Context, description string, price *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "mint",
		Class: txn.ClassStandard,
		Call:  c.marketCall("mint", description, price),
		Validate: func(ctx context.Context, from model.Identity) error {
			if strings.TrimSpace(description) == "" {
				return model.Validationf("mint", model.ErrEmptyDescription, "")
			}
			return positive("mint", price)
		},
	})
}

// List publishes an item the active identity owns.
func (c *Client) List(ctx context.Context, id *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "list",
		Class: txn.ClassStandard,
		Call:  c.marketCall("listItem", id),
		Validate: func(ctx context.Context, from model.Identity) error {
			return c.checkOwner(ctx, "list", from, id)
		},
	})
}

func (c *Client) Unlist(ctx context.Context, id *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "unlist",
		Class: txn.ClassStandard,
		Call:  c.marketCall("unlistItem", id),
		Validate: func(ctx context.Context, from model.Identity) error {
			return c.checkOwner(ctx, "unlist", from, id)
		},
	})
}

// Buy purchases a listed item. Unknown, unlisted and sold ids are left for
// the ledger to reject; locally only the buyer's funds are checked.
func (c *Client) Buy(ctx context.Context, id *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "buy",
		Class: txn.ClassPurchase,
		Call:  c.marketCall("purchaseItem", id),
		Validate: func(ctx context.Context, from model.Identity) error {
			item, ok, err := c.catalog.Item(ctx, from, id)
			if err != nil || !ok || item.Sold || !item.Published {
				return err
			}

			// check allowance
			allowance, err := c.ledger.Allowance(ctx, from)
			if err != nil {
				return err
			}
			if allowance.Cmp(item.Price) < 0 {
				return model.Validationf("buy", model.ErrInsufficientAllowance, "allowance %v below price %v", allowance, item.Price)
			}

			// check balance
			return c.checkBalance(ctx, "buy", from, item.Price)
		},
	})
}

// GrantAllowance raises what the market may spend on behalf of the active
// identity by amount.
func (c *Client) GrantAllowance(ctx context.Context, amount *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "allow",
		Class: txn.ClassStandard,
		Call:  c.tokenCall("increaseAllowance", c.ledger.Spender(), amount),
		Validate: func(ctx context.Context, from model.Identity) error {
			if err := positive("allow", amount); err != nil {
				return err
			}
			return c.checkBalance(ctx, "allow", from, amount)
		},
	})
}

func (c *Client) RemoveAllowance(ctx context.Context, amount *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "disallow",
		Class: txn.ClassStandard,
		Call:  c.tokenCall("decreaseAllowance", c.ledger.Spender(), amount),
		Validate: func(ctx context.Context, from model.Identity) error {
			if err := positive("disallow", amount); err != nil {
				return err
			}
			allowance, err := c.ledger.Allowance(ctx, from)
			if err != nil {
				return err
			}
			if allowance.Cmp(amount) < 0 {
				return model.Validationf("disallow", model.ErrInsufficientAllowance, "allowance %v below %v", allowance, amount)
			}
			return nil
		},
	})
}

// ApproveAll lets the market operator manage every item of the active
// identity.
func (c *Client) ApproveAll(ctx context.Context) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "approve-all",
		Class: txn.ClassStandard,
		Call:  c.marketCall("setApprovalForAll", c.catalog.Operator(), true),
	})
}

func (c *Client) Transfer(ctx context.Context, to common.Address, amount *big.Int) txn.Outcome {
	return c.execute(ctx, txn.Action{
		Name:  "transfer",
		Class: txn.ClassStandard,
		Call:  c.tokenCall("transfer", to, amount),
		Validate: func(ctx context.Context, from model.Identity) error {
			if to == model.ZeroIdentity {
				return model.Validationf("transfer", model.ErrInvalidRecipient, "zero address")
			}
			if to == from {
				// send to self
				return model.Validationf("transfer", model.ErrTransferToSelf, "%s", to.Hex())
			}
			if err := positive("transfer", amount); err != nil {
				return err
			}
			return c.checkBalance(ctx, "transfer", from, amount)
		},
	})
}

// Item reads one listing by id, published or not.
func (c *Client) Item(ctx context.Context, id *big.Int) (model.Listing, bool, error) {
	return c.catalog.Item(ctx, c.session.Current().Identity, id)
}
