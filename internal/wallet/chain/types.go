package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the subset of JSON-RPC the custody engine needs. Implementations
// bound every call by their own request timeout.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	// TokenBalance calls ERC-20 balanceOf(account) on token.
	TokenBalance(ctx context.Context, token common.Address, account common.Address) (*big.Int, error)
	// PendingNonceAt is the pending-inclusive transaction count of account.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// SendTransaction returns errs.ErrBroadcastRejected when the node refuses tx.
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	// TransactionReceipt returns ethereum.NotFound while tx is unmined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var balanceOfMethodID = common.Hex2Bytes("70a08231")

const abiWordLength = 32

// BalanceOfData encodes balanceOf(address).
func BalanceOfData(account common.Address) []byte {
	data := make([]byte, 0, len(balanceOfMethodID)+abiWordLength)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(account.Bytes(), abiWordLength)...)
	return data
}
