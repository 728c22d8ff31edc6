package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

func Keccak256(data string) string {
	hasher := sha3.NewLegacyKeccak256()

	hasher.Write([]byte(data))

	hash := hasher.Sum(nil)

	return fmt.Sprintf("%x", hash)
}

// EventTopic returns topic[0] of a log emitted for the given event signature.
func EventTopic(signature string) common.Hash {
	return common.HexToHash(Keccak256(signature))
}
