package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/go-custody/internal/errs"
)

// DefaultRequestTimeout bounds a single RPC call.
const DefaultRequestTimeout = 15 * time.Second

// RPCClient wraps ethclient with URL failover. Transport failures move on to
// the next URL; node-level JSON-RPC errors are returned as is.
type RPCClient struct {
	urls    []string
	clients []*ethclient.Client
	timeout time.Duration

	mu      sync.RWMutex
	current int
}

// NewRPCClient dials every URL. Unreachable nodes are redialled on use.
func NewRPCClient(urls []string, timeout time.Duration) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, errors.Wrap(errs.ErrConfiguration, "at least one RPC URL is required")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	clients := make([]*ethclient.Client, len(urls))
	connected := 0
	for i, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().Str("url", url).Err(err).Msg("Failed to connect to RPC node, will retry on use")
			continue
		}
		clients[i] = client
		connected++
	}

	if connected == 0 {
		return nil, errors.Wrap(errs.ErrNetworkUnavailable, "failed to connect to any RPC node")
	}

	return &RPCClient{
		urls:    urls,
		clients: clients,
		timeout: timeout,
	}, nil
}

// Close closes all client connections.
func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		if client != nil {
			client.Close()
		}
	}
}

func (c *RPCClient) client(idx int) *ethclient.Client {
	c.mu.RLock()
	client := c.clients[idx]
	c.mu.RUnlock()
	if client != nil {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clients[idx] == nil {
		dialed, err := ethclient.Dial(c.urls[idx])
		if err != nil {
			log.Warn().Str("url", c.urls[idx]).Err(err).Msg("Failed to redial RPC node")
			return nil
		}
		c.clients[idx] = dialed
	}
	return c.clients[idx]
}

// isNodeError reports whether the node answered with a JSON-RPC error, as
// opposed to the request never completing.
func isNodeError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) || errors.Is(err, ethereum.NotFound)
}

// call runs fn against the current node, failing over on transport errors.
func call[T any](ctx context.Context, c *RPCClient, op string, fn func(ctx context.Context, client *ethclient.Client) (T, error)) (T, error) {
	var zero T

	c.mu.RLock()
	start := c.current
	c.mu.RUnlock()

	var lastErr error
	for i := range c.urls {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrapf(errs.ErrNetworkUnavailable, "%s: %v", op, err)
		}

		idx := (start + i) % len(c.urls)
		client := c.client(idx)
		if client == nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := fn(callCtx, client)
		cancel()

		if err == nil {
			if idx != start {
				c.mu.Lock()
				c.current = idx
				c.mu.Unlock()
			}
			return result, nil
		}

		if isNodeError(err) {
			return zero, err
		}

		log.Warn().Str("url", c.urls[idx]).Str("op", op).Err(err).Msg("RPC call failed, trying next node")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no RPC node reachable")
	}
	return zero, errors.Wrapf(errs.ErrNetworkUnavailable, "%s: %v", op, lastErr)
}

func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "chain id", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "block number", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (c *RPCClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return call(ctx, c, "balance", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, account, nil)
	})
}

func (c *RPCClient) TokenBalance(ctx context.Context, token common.Address, account common.Address) (*big.Int, error) {
	return call(ctx, c, "token balance", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		resp, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: BalanceOfData(account)}, nil)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(resp), nil
	})
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, "pending nonce", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := call(ctx, c, "estimate gas", func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}
	return gas, nil
}

func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "gas price", func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

// SendTransaction submits tx to the current node exactly once. There is no
// failover: a node that timed out may still have accepted the transaction.
// Such outcomes are reported as errs.ErrBroadcastUncertain. A node that
// already knows the transaction counts as success, the hash is fixed by the
// signature.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.RLock()
	idx := c.current
	c.mu.RUnlock()

	client := c.client(idx)
	if client == nil {
		return errors.Wrapf(errs.ErrNetworkUnavailable, "send transaction: node %s unreachable", c.urls[idx])
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := client.SendTransaction(callCtx, tx)
	switch {
	case err == nil:
		return nil
	case isNodeError(err):
		return classifySendError(err)
	default:
		log.Warn().Str("url", c.urls[idx]).Str("tx_hash", tx.Hash().Hex()).Err(err).Msg("Broadcast outcome unknown")
		return errors.Wrapf(errs.ErrBroadcastUncertain, "send transaction: %v", err)
	}
}

// classifySendError maps a JSON-RPC rejection of eth_sendRawTransaction.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"), strings.Contains(msg, "already imported"):
		return nil
	case strings.Contains(msg, "nonce too low"):
		return errors.Wrap(errs.ErrNonceConflict, err.Error())
	default:
		return errors.Wrap(errs.ErrBroadcastRejected, err.Error())
	}
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return call(ctx, c, "receipt", func(ctx context.Context, client *ethclient.Client) (*types.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
}
