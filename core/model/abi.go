package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const TokenABIJson = `[
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"increaseAllowance","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"addedValue","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"decreaseAllowance","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"subtractedValue","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const itemTupleJson = `{"name":"","type":"tuple","components":[
{"name":"id","type":"uint256"},{"name":"description","type":"string"},{"name":"price","type":"uint256"},
{"name":"author","type":"address"},{"name":"seller","type":"address"},{"name":"owner","type":"address"},
{"name":"sold","type":"bool"},{"name":"published","type":"bool"}]}`

const itemListJson = `{"name":"","type":"tuple[]","components":[
{"name":"id","type":"uint256"},{"name":"description","type":"string"},{"name":"price","type":"uint256"},
{"name":"author","type":"address"},{"name":"seller","type":"address"},{"name":"owner","type":"address"},
{"name":"sold","type":"bool"},{"name":"published","type":"bool"}]}`

var MarketABIJson = `[
{"type":"function","name":"getItem","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[` + itemTupleJson + `]},
{"type":"function","name":"itemExists","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getUnsoldItems","stateMutability":"view","inputs":[],"outputs":[` + itemListJson + `]},
{"type":"function","name":"getAllItems","stateMutability":"view","inputs":[],"outputs":[` + itemListJson + `]},
{"type":"function","name":"getSoldItemCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"ownedItems","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[` + itemListJson + `]},
{"type":"function","name":"authoredItems","stateMutability":"view","inputs":[{"name":"author","type":"address"}],"outputs":[` + itemListJson + `]},
{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isOwnerOf","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"description","type":"string"},{"name":"price","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"listItem","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"purchaseItem","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"unlistItem","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[]},
{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
{"anonymous":false,"type":"event","name":"ItemMinted","inputs":[{"indexed":false,"name":"id","type":"uint256"},{"indexed":true,"name":"author","type":"address"}]}
]`

var (
	TokenABI  = mustParseABI(TokenABIJson)
	MarketABI = mustParseABI(MarketABIJson)

	ItemMintedEventName = "ItemMinted"
	TopicItemMinted     = "0x" + Keccak256("ItemMinted(uint256,address)")
)

func mustParseABI(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return &parsed
}

// Call is one contract method invocation, read or write.
type Call struct {
	To     common.Address
	ABI    *abi.ABI
	Method string
	Args   []interface{}
	Value  *big.Int
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%v)@%s", c.Method, c.Args, c.To.Hex())
}

// Pack returns the calldata for the call.
func (c Call) Pack() ([]byte, error) {
	if c.ABI == nil {
		return nil, fmt.Errorf("call %s: no abi", c.Method)
	}
	return c.ABI.Pack(c.Method, c.Args...)
}

type ItemMintedEvent struct {
	Id     *big.Int
	Author common.Address
}

func ParseEventLog(parsedAbi *abi.ABI, eventName string, logData *types.Log) (map[string]interface{}, error) {
	event, exists := parsedAbi.Events[eventName]
	if !exists {
		return nil, fmt.Errorf("event '%s' not found", eventName)
	}

	eventData := make(map[string]interface{})
	if err := parsedAbi.UnpackIntoMap(eventData, eventName, logData.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack event data: %w", err)
	}

	indexed := make([]abi.Argument, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	for i, topic := range logData.Topics[1:] {
		if i >= len(indexed) {
			break
		}
		eventData[indexed[i].Name] = topic
	}

	return eventData, nil
}

func ParseItemMinted(logData *types.Log) (*ItemMintedEvent, error) {
	eventData, err := ParseEventLog(MarketABI, ItemMintedEventName, logData)
	if err != nil {
		return nil, err
	}

	var ev ItemMintedEvent
	if id, ok := eventData["id"].(*big.Int); ok {
		ev.Id = id
	}
	if author, ok := eventData["author"].(common.Hash); ok {
		ev.Author = common.BytesToAddress(author[:])
	}
	if ev.Id == nil {
		return nil, fmt.Errorf("event '%s' without id", ItemMintedEventName)
	}
	return &ev, nil
}
