// Package chaintest provides an in-memory ledger node for tests. It decodes
// calldata with the client's ABIs and applies the token and marketplace rules
// the client assumes the deployed contracts enforce.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"rose-market-client/core/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	TokenAddress    = common.HexToAddress("0x00000000000000000000000000000000000070aa")
	MarketAddress   = common.HexToAddress("0x00000000000000000000000000000000000070bb")
	OperatorAddress = common.HexToAddress("0x00000000000000000000000000000000000070cc")

	DefaultChainID = big.NewInt(1337)
)

var methodGas = map[string]uint64{
	"transfer":          52000,
	"increaseAllowance": 30000,
	"decreaseAllowance": 30000,
	"mint":              120000,
	"listItem":          50000,
	"purchaseItem":      90000,
	"unlistItem":        40000,
	"setApprovalForAll": 46000,
}

const viewGas = 25000

type revertError struct {
	reason string
	data   string
}

func newRevert(reason string) *revertError {
	stringTy, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringTy}}.Pack(reason)
	payload := append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
	return &revertError{reason: reason, data: hexutil.Encode(payload)}
}

func (e *revertError) Error() string          { return "execution reverted: " + e.reason }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

// Ledger implements chain.Backend over in-memory token and market state.
type Ledger struct {
	mu       sync.Mutex
	chainID  *big.Int
	state    *state
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	block    uint64
	sent     int
	reads    int

	// ReadHook runs before every CallContract, outside the ledger lock.
	ReadHook func(ctx context.Context, from common.Address, method string) error
	// SendHook runs before every SendTransaction; an error aborts the send.
	SendHook func(tx *types.Transaction) error
	// Surcharge is extra gas a method burns at inclusion time but not at
	// estimation time, as happens when the state moves between the two.
	Surcharge map[string]uint64
}

func New() *Ledger {
	return &Ledger{
		chainID:   new(big.Int).Set(DefaultChainID),
		state:     newState(),
		nonces:    make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
		Surcharge: make(map[string]uint64),
	}
}

// NewKeys generates n fresh secp256k1 keys.
func NewKeys(n int) []*ecdsa.PrivateKey {
	keys := make([]*ecdsa.PrivateKey, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			panic(err)
		}
		keys = append(keys, key)
	}
	return keys
}

func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// Fund credits amount tokens to addr, growing the total supply.
func (l *Ledger) Fund(addr common.Address, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := big.NewInt(amount)
	l.state.balance(addr).Add(l.state.balance(addr), v)
	l.state.supply.Add(l.state.supply, v)
}

func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.state.balance(addr))
}

func (l *Ledger) AllowanceOf(owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.state.allowance(owner, spender))
}

func (l *Ledger) Item(id int64) (model.Listing, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.state.item(big.NewInt(id))
	if !ok {
		return model.Listing{}, false
	}
	return *it, true
}

func (l *Ledger) Items() []model.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.filter(func(*model.Listing) bool { return true })
}

// Apply runs method on the contract at to as from, without a signed
// transaction. It is meant for seeding state.
func (l *Ledger) Apply(from, to common.Address, parsed *abi.ABI, method string, args ...interface{}) error {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	work := l.state.clone()
	if _, _, _, err := l.execute(work, from, to, data); err != nil {
		return err
	}
	l.state = work
	return nil
}

// Mint seeds a listing authored by from and returns its id.
func (l *Ledger) Mint(from common.Address, description string, price int64) int64 {
	if err := l.Apply(from, MarketAddress, model.MarketABI, "mint", description, big.NewInt(price)); err != nil {
		panic(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.state.items))
}

func (l *Ledger) SentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

func (l *Ledger) ReadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

func (l *Ledger) SetChainID(id *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chainID = new(big.Int).Set(id)
}

func (l *Ledger) ChainID(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.chainID), nil
}

func (l *Ledger) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[account], nil
}

func (l *Ledger) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (l *Ledger) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if account == TokenAddress || account == MarketAddress {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (l *Ledger) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if hook := l.ReadHook; hook != nil {
		if err := hook(ctx, call.From, methodName(call.To, call.Data)); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if call.To == nil {
		return nil, errors.New("missing call target")
	}
	ret, _, _, err := l.execute(l.state.clone(), call.From, *call.To, call.Data)
	return ret, err
}

func (l *Ledger) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if call.To == nil {
		return 0, errors.New("contract creation not supported")
	}
	_, _, gas, err := l.execute(l.state.clone(), call.From, *call.To, call.Data)
	if err != nil {
		return 0, err
	}
	return gas, nil
}

func (l *Ledger) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if hook := l.SendHook; hook != nil {
		if err := hook(tx); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.ChainId().Cmp(l.chainID) != 0 {
		return fmt.Errorf("invalid chain id: have %v want %v", tx.ChainId(), l.chainID)
	}
	from, err := types.Sender(types.LatestSignerForChainID(l.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.To() == nil {
		return errors.New("contract creation not supported")
	}
	if want := l.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("invalid nonce: have %d want %d", tx.Nonce(), want)
	}
	l.nonces[from]++
	l.block++
	l.sent++

	work := l.state.clone()
	_, logs, gas, execErr := l.execute(work, from, *tx.To(), tx.Data())
	gas += l.Surcharge[methodName(tx.To(), tx.Data())]

	receipt := &types.Receipt{
		Type:        tx.Type(),
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
	if execErr != nil || gas > tx.Gas() {
		receipt.Status = types.ReceiptStatusFailed
		receipt.GasUsed = tx.Gas()
	} else {
		l.state = work
		receipt.Status = types.ReceiptStatusSuccessful
		receipt.GasUsed = gas
		for i, log := range logs {
			log.TxHash = tx.Hash()
			log.BlockNumber = l.block
			log.Index = uint(i)
		}
		receipt.Logs = logs
	}
	receipt.CumulativeGasUsed = receipt.GasUsed
	l.receipts[tx.Hash()] = receipt
	return nil
}

func (l *Ledger) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, ok := l.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func methodName(to *common.Address, data []byte) string {
	if to == nil || len(data) < 4 {
		return ""
	}
	var parsed *abi.ABI
	switch *to {
	case TokenAddress:
		parsed = model.TokenABI
	case MarketAddress:
		parsed = model.MarketABI
	default:
		return ""
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return ""
	}
	return method.Name
}

func (l *Ledger) execute(st *state, from, to common.Address, data []byte) ([]byte, []*types.Log, uint64, error) {
	var parsed *abi.ABI
	switch to {
	case TokenAddress:
		parsed = model.TokenABI
	case MarketAddress:
		parsed = model.MarketABI
	default:
		return nil, nil, 21000, nil
	}
	if len(data) < 4 {
		return nil, nil, 0, newRevert("missing selector")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil, 0, newRevert("unknown selector")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, 0, newRevert("malformed arguments")
	}

	var (
		out  []interface{}
		logs []*types.Log
	)
	if to == TokenAddress {
		out, err = st.token(from, method.Name, args)
	} else {
		out, logs, err = st.market(from, method.Name, args)
	}
	if err != nil {
		return nil, nil, 0, err
	}

	ret, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("pack %s outputs: %w", method.Name, err)
	}
	gas, ok := methodGas[method.Name]
	if !ok {
		gas = viewGas
	}
	return ret, logs, 21000 + gas, nil
}
