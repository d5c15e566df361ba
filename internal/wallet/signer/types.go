package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Service signs on behalf of custodial wallets. Decrypted seeds and derived
// keys live only for the duration of one call.
type Service interface {
	// Sign returns the RLP encoded signed transaction.
	Sign(ctx context.Context, userID string, req *Request) ([]byte, error)

	// SignAndSend signs and broadcasts. A node rejection is errs.ErrBroadcastRejected.
	// On errs.ErrBroadcastUncertain the result is returned along with the error.
	SignAndSend(ctx context.Context, userID string, req *Request) (*Result, error)

	// SignMessage returns a 65 byte EIP-191 personal_sign signature.
	SignMessage(ctx context.Context, userID string, message []byte) ([]byte, error)
}

// Request describes an EVM transaction. Setting GasPrice selects a legacy
// EIP-155 transaction; otherwise the EIP-1559 fee caps are used.
type Request struct {
	To                   common.Address
	Value                *big.Int
	Data                 []byte
	Nonce                uint64
	GasLimit             uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Result of a broadcast.
type Result struct {
	Hash     common.Hash
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	Raw      []byte
}
