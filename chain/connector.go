package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"rose-market-client/core/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Backend is the ledger node surface the connector needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

var _ Backend = (*ethclient.Client)(nil)

type Connection struct {
	Accounts []model.Identity
	Network  model.Network
}

type Connector struct {
	backend  Backend
	provider Provider
	networks map[uint64]string
	limiter  *rate.Limiter
}

type Option func(*Connector)

// WithNetworkNames sets the display names used for known chain ids.
func WithNetworkNames(names map[uint64]string) Option {
	return func(c *Connector) {
		for id, name := range names {
			c.networks[id] = name
		}
	}
}

// WithReadLimit throttles Invoke to rps calls per second. rps <= 0 disables it.
func WithReadLimit(rps float64, burst int) Option {
	return func(c *Connector) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewConnector(backend Backend, provider Provider, opts ...Option) *Connector {
	c := &Connector{
		backend:  backend,
		provider: provider,
		networks: make(map[uint64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func Dial(ctx context.Context, ethURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, ethURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Connector) Backend() Backend {
	return c.backend
}

func (c *Connector) NetworkFor(chainID uint64) model.Network {
	return model.Network{ChainID: chainID, Name: c.networks[chainID]}
}

// Connect negotiates accounts and network with the wallet provider. A
// missing provider is reported as ProviderUnavailable and is never retried.
func (c *Connector) Connect(ctx context.Context) (*Connection, error) {
	if c.provider == nil {
		return nil, model.NewError(model.KindProviderUnavailable, "connect", nil)
	}

	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return nil, classify("request accounts", err, model.KindRpc)
	}
	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return nil, classify("chain id", err, model.KindRpc)
	}

	if backendID, err := c.backend.ChainID(ctx); err != nil {
		logrus.Warnf("backend chain id err: %v", err)
	} else if backendID.Cmp(chainID) != 0 {
		logrus.Warnf("provider chain %v differs from backend chain %v", chainID, backendID)
	}

	return &Connection{
		Accounts: accounts,
		Network:  c.NetworkFor(chainID.Uint64()),
	}, nil
}

func (c *Connector) SubscribeEvents(ch chan<- model.ProviderEvent) event.Subscription {
	if c.provider == nil {
		return event.NewSubscription(func(quit <-chan struct{}) error {
			<-quit
			return nil
		})
	}
	return c.provider.SubscribeEvents(ch)
}

// Invoke runs a read-only call and returns the unpacked outputs.
func (c *Connector) Invoke(ctx context.Context, from model.Identity, call model.Call) ([]interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewError(model.KindRpc, call.Method, err)
		}
	}
	data, err := call.Pack()
	if err != nil {
		return nil, model.NewError(model.KindValidation, call.Method, err)
	}

	to := call.To
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, classify(call.Method, err, model.KindRpc)
	}

	res, err := call.ABI.Unpack(call.Method, out)
	if err != nil {
		return nil, model.NewError(model.KindRpc, call.Method, err)
	}
	return res, nil
}

func (c *Connector) Estimate(ctx context.Context, from model.Identity, call model.Call) (uint64, error) {
	data, err := call.Pack()
	if err != nil {
		return 0, model.NewError(model.KindValidation, call.Method, err)
	}

	to := call.To
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: call.Value, Data: data})
	if err != nil {
		return 0, classify("estimate "+call.Method, err, model.KindEstimation)
	}
	return gas, nil
}

// Submit signs call through the provider, sends it and waits for exactly one
// receipt. A receipt with failed status is returned together with a
// ContractRevert error.
func (c *Connector) Submit(ctx context.Context, from model.Identity, network model.Network, call model.Call, gasLimit uint64) (*model.Receipt, error) {
	if c.provider == nil {
		return nil, model.NewError(model.KindProviderUnavailable, call.Method, nil)
	}
	data, err := call.Pack()
	if err != nil {
		return nil, model.NewError(model.KindValidation, call.Method, err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, classify("nonce", err, model.KindRpc)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("gas price", err, model.KindRpc)
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	to := call.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	})

	signed, err := c.provider.SignTx(ctx, from, tx, network.BigChainID())
	if err != nil {
		return nil, classify("sign "+call.Method, err, model.KindRpc)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		logrus.Errorf("SendTransaction %v err: %v", signed.Hash(), err)
		return nil, classify("send "+call.Method, err, model.KindRpc)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, signed)
	if err != nil {
		return nil, classify("receipt "+call.Method, err, model.KindRpc)
	}

	res := model.NewReceipt(receipt, gasLimit)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, &model.Error{Kind: model.KindContractRevert, Op: call.Method, Reason: "receipt status failed"}
	}
	return res, nil
}

func classify(op string, err error, fallback model.ErrorKind) error {
	if err == nil {
		return nil
	}
	var known *model.Error
	if errors.As(err, &known) {
		return err
	}
	if reason, ok := RevertReason(err); ok {
		return &model.Error{Kind: model.KindContractRevert, Op: op, Reason: reason, Err: err}
	}
	return model.NewError(fallback, op, err)
}

// RevertReason reports whether err carries an execution revert, decoding the
// Error(string) payload when the node returned one.
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(raw); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
			return "", true
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return "", true
	}
	return "", false
}
