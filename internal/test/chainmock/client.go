// Package chainmock provides an in-memory chain.Client for tests.
package chainmock

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	MethodChainID            = "ChainID"
	MethodBlockNumber        = "BlockNumber"
	MethodBalanceAt          = "BalanceAt"
	MethodTokenBalance       = "TokenBalance"
	MethodPendingNonceAt     = "PendingNonceAt"
	MethodEstimateGas        = "EstimateGas"
	MethodSuggestGasPrice    = "SuggestGasPrice"
	MethodSendTransaction    = "SendTransaction"
	MethodTransactionReceipt = "TransactionReceipt"
)

// Client is a scriptable chain.Client. The zero values of the exported
// fields are usable defaults; set them before handing the client out.
type Client struct {
	mu sync.Mutex

	ID       int64
	Block    uint64
	Gas      uint64
	GasPrice *big.Int

	balances      map[common.Address]*big.Int
	tokenBalances map[common.Address]map[common.Address]*big.Int
	nonces        map[common.Address]uint64
	receipts      map[common.Hash]*types.Receipt
	failures      map[string]error
	calls         map[string]int
	sent          []*types.Transaction
}

func New(chainID int64) *Client {
	return &Client{
		ID:            chainID,
		Block:         100,
		Gas:           21000,
		GasPrice:      big.NewInt(1_000_000_000),
		balances:      make(map[common.Address]*big.Int),
		tokenBalances: make(map[common.Address]map[common.Address]*big.Int),
		nonces:        make(map[common.Address]uint64),
		receipts:      make(map[common.Hash]*types.Receipt),
		failures:      make(map[string]error),
		calls:         make(map[string]int),
	}
}

// Fail makes every following call of method return err; nil clears it.
func (c *Client) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

func (c *Client) SetBalance(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Set(wei)
}

func (c *Client) SetTokenBalance(token common.Address, account common.Address, units *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenBalances[token] == nil {
		c.tokenBalances[token] = make(map[common.Address]*big.Int)
	}
	c.tokenBalances[token][account] = new(big.Int).Set(units)
}

func (c *Client) SetPendingNonce(account common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[account] = nonce
}

func (c *Client) SetBlockNumber(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Block = block
}

// MineReceipt records a receipt for hash in block.
func (c *Client) MineReceipt(hash common.Hash, success bool, block uint64, gasUsed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.ReceiptStatusFailed
	if success {
		status = types.ReceiptStatusSuccessful
	}

	c.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     gasUsed,
	}
}

// Calls returns how often method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls counts every invocation of every method.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// Sent returns the broadcast transactions in order.
func (c *Client) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func (c *Client) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[method]++
	return c.failures[method]
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	if err := c.enter(MethodChainID); err != nil {
		return nil, err
	}
	return big.NewInt(c.ID), nil
}

func (c *Client) BlockNumber(context.Context) (uint64, error) {
	if err := c.enter(MethodBlockNumber); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Block, nil
}

func (c *Client) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	if err := c.enter(MethodBalanceAt); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) TokenBalance(_ context.Context, token common.Address, account common.Address) (*big.Int, error) {
	if err := c.enter(MethodTokenBalance); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.tokenBalances[token][account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	if err := c.enter(MethodPendingNonceAt); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *Client) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if err := c.enter(MethodEstimateGas); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Gas, nil
}

func (c *Client) SuggestGasPrice(context.Context) (*big.Int, error) {
	if err := c.enter(MethodSuggestGasPrice); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Client) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if err := c.enter(MethodSendTransaction); err != nil {
		return err
	}
	if tx == nil {
		return errors.New("nil transaction")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return nil
}

func (c *Client) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.enter(MethodTransactionReceipt); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	cp := *r
	return &cp, nil
}
