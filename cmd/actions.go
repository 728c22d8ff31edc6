package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"rose-market-client/core"
	"rose-market-client/core/txn"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session, token balances and marketplace listings",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		printState(a.client.State())
		return nil
	}),
}

var itemCmd = &cobra.Command{
	Use:   "item <id>",
	Short: "Look up one item, published or not",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		id, err := parseInt("id", args[0])
		if err != nil {
			return err
		}
		item, ok, err := a.client.Item(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("item %v does not exist", id)
		}
		printListing(item)
		return nil
	}),
}

var mintCmd = &cobra.Command{
	Use:   "mint <description> <price>",
	Short: "Create a new item",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		price, err := parseInt("price", args[1])
		if err != nil {
			return err
		}
		return report(a.client.Mint(ctx, args[0], price))
	}),
}

var listCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "Publish an owned item for sale",
	Args:  cobra.ExactArgs(1),
	RunE:  withID(func(ctx context.Context, c *core.Client, id *big.Int) txn.Outcome { return c.List(ctx, id) }),
}

var unlistCmd = &cobra.Command{
	Use:   "unlist <id>",
	Short: "Withdraw an unsold item from sale",
	Args:  cobra.ExactArgs(1),
	RunE:  withID(func(ctx context.Context, c *core.Client, id *big.Int) txn.Outcome { return c.Unlist(ctx, id) }),
}

var buyCmd = &cobra.Command{
	Use:   "buy <id>",
	Short: "Purchase a listed item",
	Args:  cobra.ExactArgs(1),
	RunE:  withID(func(ctx context.Context, c *core.Client, id *big.Int) txn.Outcome { return c.Buy(ctx, id) }),
}

var allowCmd = &cobra.Command{
	Use:   "allow <amount>",
	Short: "Raise the market's token allowance",
	Args:  cobra.ExactArgs(1),
	RunE:  withID(func(ctx context.Context, c *core.Client, n *big.Int) txn.Outcome { return c.GrantAllowance(ctx, n) }),
}

var disallowCmd = &cobra.Command{
	Use:   "disallow <amount>",
	Short: "Lower the market's token allowance",
	Args:  cobra.ExactArgs(1),
	RunE:  withID(func(ctx context.Context, c *core.Client, n *big.Int) txn.Outcome { return c.RemoveAllowance(ctx, n) }),
}

var approveAllCmd = &cobra.Command{
	Use:   "approve-all",
	Short: "Let the market operator manage all of your items",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		return report(a.client.ApproveAll(ctx))
	}),
}

var transferCmd = &cobra.Command{
	Use:   "transfer <to> <amount>",
	Short: "Send tokens to another account",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("%q is not an address", args[0])
		}
		amount, err := parseInt("amount", args[1])
		if err != nil {
			return err
		}
		return report(a.client.Transfer(ctx, common.HexToAddress(args[0]), amount))
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd, itemCmd, mintCmd, listCmd, unlistCmd, buyCmd,
		allowCmd, disallowCmd, approveAllCmd, transferCmd)
}

func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a, args)
	}
}

func withID(run func(ctx context.Context, c *core.Client, n *big.Int) txn.Outcome) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, a *app, args []string) error {
		n, err := parseInt("argument", args[0])
		if err != nil {
			return err
		}
		return report(run(ctx, a.client, n))
	})
}

func parseInt(name, raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s %q is not an integer", name, raw)
	}
	return n, nil
}

func report(out txn.Outcome) error {
	switch out.Status {
	case txn.Succeeded:
		fmt.Printf("%s succeeded: tx %s, gas %d of %d, tick %d\n",
			out.Action, out.Receipt.TxHash.Hex(), out.Receipt.GasUsed, out.GasLimit, out.Tick)
		if out.Receipt.MintedId != nil {
			fmt.Printf("minted item #%v\n", out.Receipt.MintedId)
		}
		return nil
	case txn.Cancelled:
		fmt.Printf("%s cancelled\n", out.Action)
		return nil
	}
	return fmt.Errorf("%s failed (%s): %w", out.Action, out.ID, out.Err)
}
