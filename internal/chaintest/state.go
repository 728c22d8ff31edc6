package chaintest

import (
	"math/big"

	"rose-market-client/core/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type state struct {
	name       string
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	items     []*model.Listing
	approvals map[common.Address]map[common.Address]bool
}

func newState() *state {
	return &state{
		name:       "Rose Token",
		symbol:     "ROSE",
		decimals:   18,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		approvals:  make(map[common.Address]map[common.Address]bool),
	}
}

func (s *state) clone() *state {
	c := &state{
		name:       s.name,
		symbol:     s.symbol,
		decimals:   s.decimals,
		supply:     new(big.Int).Set(s.supply),
		balances:   make(map[common.Address]*big.Int, len(s.balances)),
		allowances: make(map[common.Address]map[common.Address]*big.Int, len(s.allowances)),
		items:      make([]*model.Listing, 0, len(s.items)),
		approvals:  make(map[common.Address]map[common.Address]bool, len(s.approvals)),
	}
	for addr, v := range s.balances {
		c.balances[addr] = new(big.Int).Set(v)
	}
	for owner, spenders := range s.allowances {
		m := make(map[common.Address]*big.Int, len(spenders))
		for spender, v := range spenders {
			m[spender] = new(big.Int).Set(v)
		}
		c.allowances[owner] = m
	}
	for _, it := range s.items {
		cp := *it
		cp.Id = new(big.Int).Set(it.Id)
		cp.Price = new(big.Int).Set(it.Price)
		c.items = append(c.items, &cp)
	}
	for owner, ops := range s.approvals {
		m := make(map[common.Address]bool, len(ops))
		for op, v := range ops {
			m[op] = v
		}
		c.approvals[owner] = m
	}
	return c
}

func (s *state) balance(addr common.Address) *big.Int {
	v, ok := s.balances[addr]
	if !ok {
		v = new(big.Int)
		s.balances[addr] = v
	}
	return v
}

func (s *state) allowance(owner, spender common.Address) *big.Int {
	m, ok := s.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		s.allowances[owner] = m
	}
	v, ok := m[spender]
	if !ok {
		v = new(big.Int)
		m[spender] = v
	}
	return v
}

func (s *state) token(from common.Address, method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case "name":
		return []interface{}{s.name}, nil
	case "symbol":
		return []interface{}{s.symbol}, nil
	case "decimals":
		return []interface{}{s.decimals}, nil
	case "totalSupply":
		return []interface{}{new(big.Int).Set(s.supply)}, nil
	case "balanceOf":
		return []interface{}{new(big.Int).Set(s.balance(args[0].(common.Address)))}, nil
	case "allowance":
		return []interface{}{new(big.Int).Set(s.allowance(args[0].(common.Address), args[1].(common.Address)))}, nil
	case "transfer":
		if err := s.move(from, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return []interface{}{true}, nil
	case "increaseAllowance":
		v := s.allowance(from, args[0].(common.Address))
		v.Add(v, args[1].(*big.Int))
		return []interface{}{true}, nil
	case "decreaseAllowance":
		v := s.allowance(from, args[0].(common.Address))
		sub := args[1].(*big.Int)
		if v.Cmp(sub) < 0 {
			return nil, newRevert("decreased allowance below zero")
		}
		v.Sub(v, sub)
		return []interface{}{true}, nil
	}
	return nil, newRevert("unsupported token method " + method)
}

func (s *state) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return newRevert("negative amount")
	}
	src := s.balance(from)
	if src.Cmp(amount) < 0 {
		return newRevert("transfer amount exceeds balance")
	}
	src.Sub(src, amount)
	dst := s.balance(to)
	dst.Add(dst, amount)
	return nil
}

func (s *state) item(id *big.Int) (*model.Listing, bool) {
	if id == nil || id.Sign() <= 0 || !id.IsInt64() || id.Int64() > int64(len(s.items)) {
		return nil, false
	}
	return s.items[id.Int64()-1], true
}

func (s *state) filter(keep func(*model.Listing) bool) []model.Listing {
	res := make([]model.Listing, 0)
	for _, it := range s.items {
		if keep(it) {
			res = append(res, *it)
		}
	}
	return res
}

func (s *state) market(from common.Address, method string, args []interface{}) ([]interface{}, []*types.Log, error) {
	switch method {
	case "getItem":
		it, ok := s.item(args[0].(*big.Int))
		if !ok {
			return nil, nil, newRevert("item does not exist")
		}
		return []interface{}{*it}, nil, nil
	case "itemExists":
		_, ok := s.item(args[0].(*big.Int))
		return []interface{}{ok}, nil, nil
	case "getAllItems":
		return []interface{}{s.filter(func(it *model.Listing) bool { return it.Published })}, nil, nil
	case "getUnsoldItems":
		return []interface{}{s.filter(func(it *model.Listing) bool { return it.Published && !it.Sold })}, nil, nil
	case "getSoldItemCount":
		return []interface{}{big.NewInt(int64(len(s.filter(func(it *model.Listing) bool { return it.Sold }))))}, nil, nil
	case "ownedItems":
		owner := args[0].(common.Address)
		return []interface{}{s.filter(func(it *model.Listing) bool { return it.Owner == owner })}, nil, nil
	case "authoredItems":
		author := args[0].(common.Address)
		return []interface{}{s.filter(func(it *model.Listing) bool { return it.Author == author })}, nil, nil
	case "isApprovedForAll":
		return []interface{}{s.approvals[args[0].(common.Address)][args[1].(common.Address)]}, nil, nil
	case "isOwnerOf":
		it, ok := s.item(args[1].(*big.Int))
		return []interface{}{ok && it.Owner == args[0].(common.Address)}, nil, nil
	case "mint":
		return s.mint(from, args[0].(string), args[1].(*big.Int))
	case "listItem":
		return nil, nil, s.list(from, args[0].(*big.Int))
	case "purchaseItem":
		return nil, nil, s.purchase(from, args[0].(*big.Int))
	case "unlistItem":
		return nil, nil, s.unlist(from, args[0].(*big.Int))
	case "setApprovalForAll":
		op := args[0].(common.Address)
		if s.approvals[from] == nil {
			s.approvals[from] = make(map[common.Address]bool)
		}
		s.approvals[from][op] = args[1].(bool)
		return nil, nil, nil
	}
	return nil, nil, newRevert("unsupported market method " + method)
}

func (s *state) mint(from common.Address, description string, price *big.Int) ([]interface{}, []*types.Log, error) {
	if price.Sign() <= 0 {
		return nil, nil, newRevert("price must be positive")
	}
	id := big.NewInt(int64(len(s.items) + 1))
	s.items = append(s.items, &model.Listing{
		Id:          id,
		Description: description,
		Price:       new(big.Int).Set(price),
		Author:      from,
		Seller:      from,
		Owner:       from,
	})

	event := model.MarketABI.Events[model.ItemMintedEventName]
	data, err := event.Inputs.NonIndexed().Pack(id)
	if err != nil {
		return nil, nil, err
	}
	log := &types.Log{
		Address: MarketAddress,
		Topics:  []common.Hash{model.EventTopic("ItemMinted(uint256,address)"), common.BytesToHash(from.Bytes())},
		Data:    data,
	}
	return []interface{}{new(big.Int).Set(id)}, []*types.Log{log}, nil
}

func (s *state) list(from common.Address, id *big.Int) error {
	it, ok := s.item(id)
	if !ok {
		return newRevert("item does not exist")
	}
	if it.Owner != from {
		return newRevert("caller is not owner")
	}
	if it.Published && !it.Sold {
		return newRevert("item already listed")
	}
	it.Sold = false
	it.Seller = from
	it.Published = true
	return nil
}

func (s *state) purchase(from common.Address, id *big.Int) error {
	it, ok := s.item(id)
	if !ok {
		return newRevert("item does not exist")
	}
	if !it.Published {
		return newRevert("item not listed")
	}
	if it.Sold {
		return newRevert("item already sold")
	}
	if it.Seller == from {
		return newRevert("seller cannot buy own item")
	}
	allowed := s.allowance(from, MarketAddress)
	if allowed.Cmp(it.Price) < 0 {
		return newRevert("insufficient allowance")
	}
	if err := s.move(from, it.Seller, it.Price); err != nil {
		return err
	}
	allowed.Sub(allowed, it.Price)
	it.Sold = true
	it.Owner = from
	return nil
}

func (s *state) unlist(from common.Address, id *big.Int) error {
	it, ok := s.item(id)
	if !ok {
		return newRevert("item does not exist")
	}
	if it.Seller != from || it.Owner != from {
		return newRevert("caller is not seller")
	}
	if !it.Published || it.Sold {
		return newRevert("item not listed")
	}
	it.Published = false
	return nil
}
