package chain_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/errs"
	"github/chapool/go-custody/internal/wallet/chain"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers a fixed set of JSON-RPC methods.
func fakeNode(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	zeroBloom := "0x" + strings.Repeat("0", 512)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = "0x1"
		case "eth_blockNumber":
			resp["result"] = "0x64"
		case "eth_getBalance":
			resp["result"] = "0xde0b6b3a7640000"
		case "eth_call":
			resp["result"] = "0x" + strings.Repeat("0", 56) + "00989680"
		case "eth_getTransactionCount":
			resp["result"] = "0x7"
		case "eth_estimateGas":
			resp["result"] = "0x5208"
		case "eth_gasPrice":
			resp["result"] = "0x3b9aca00"
		case "eth_sendRawTransaction":
			resp["error"] = map[string]any{"code": -32000, "message": "nonce too low"}
		case "eth_getTransactionReceipt":
			var hash string
			require.NoError(t, json.Unmarshal(req.Params[0], &hash))
			if strings.HasSuffix(hash, "01") {
				resp["result"] = map[string]any{
					"transactionHash":   hash,
					"status":            "0x1",
					"blockNumber":       "0x60",
					"blockHash":         common.Hash{}.Hex(),
					"transactionIndex":  "0x0",
					"cumulativeGasUsed": "0x5208",
					"gasUsed":           "0x5208",
					"logsBloom":         zeroBloom,
					"logs":              []any{},
				}
			} else {
				resp["result"] = nil
			}
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestRPCClientCalls(t *testing.T) {
	ctx := t.Context()
	var calls atomic.Int32
	node := fakeNode(t, &calls)

	c, err := chain.NewRPCClient([]string{node.URL}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())

	block, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)

	account := common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

	bal, err := c.BalanceAt(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())

	tok, err := c.TokenBalance(ctx, common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), account)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), tok.Int64())

	nonce, err := c.PendingNonceAt(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	gas, err := c.EstimateGas(ctx, ethereum.CallMsg{From: account, To: &account, Value: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)

	price, err := c.SuggestGasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), price.Int64())

	_, err = c.TransactionReceipt(ctx, common.HexToHash("0x02"))
	require.ErrorIs(t, err, ethereum.NotFound)

	receipt, err := c.TransactionReceipt(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, uint64(0x60), receipt.BlockNumber.Uint64())
	assert.Equal(t, uint64(21000), receipt.GasUsed)
}

// sendNode answers eth_sendRawTransaction after delay, with message as the
// JSON-RPC error when it is set.
func sendNode(t *testing.T, sends *atomic.Int32, delay time.Duration, message string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Method == "eth_sendRawTransaction" {
			sends.Add(1)
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if message != "" {
			resp["error"] = map[string]any{"code": -32000, "message": message}
		} else {
			resp["result"] = common.Hash{}.Hex()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(1)})
}

func TestRPCClientBroadcastNonceTooLow(t *testing.T) {
	var calls atomic.Int32
	node := fakeNode(t, &calls)

	c, err := chain.NewRPCClient([]string{node.URL}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	err = c.SendTransaction(t.Context(), testTx())
	require.ErrorIs(t, err, errs.ErrNonceConflict)
	assert.Contains(t, err.Error(), "nonce too low")
}

func TestRPCClientBroadcastRejected(t *testing.T) {
	var sends atomic.Int32
	node := sendNode(t, &sends, 0, "insufficient funds for gas * price + value")

	c, err := chain.NewRPCClient([]string{node.URL}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	err = c.SendTransaction(t.Context(), testTx())
	require.ErrorIs(t, err, errs.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestRPCClientBroadcastAlreadyKnownSucceeds(t *testing.T) {
	var sends atomic.Int32
	node := sendNode(t, &sends, 0, "already known")

	c, err := chain.NewRPCClient([]string{node.URL}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendTransaction(t.Context(), testTx()))
	assert.Equal(t, int32(1), sends.Load())
}

func TestRPCClientSendDoesNotFailOverAfterTimeout(t *testing.T) {
	var slowSends, spareSends atomic.Int32

	// the first node takes the transaction but answers after the timeout
	slow := sendNode(t, &slowSends, 2*time.Second, "")
	spare := sendNode(t, &spareSends, 0, "already known")

	c, err := chain.NewRPCClient([]string{slow.URL, spare.URL}, 100*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	err = c.SendTransaction(t.Context(), testTx())
	require.ErrorIs(t, err, errs.ErrBroadcastUncertain)
	assert.NotErrorIs(t, err, errs.ErrBroadcastRejected)
	assert.Equal(t, int32(1), slowSends.Load())
	assert.Zero(t, spareSends.Load())
}

func TestRPCClientFailover(t *testing.T) {
	var calls atomic.Int32
	node := fakeNode(t, &calls)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c, err := chain.NewRPCClient([]string{deadURL, node.URL}, time.Second)
	require.NoError(t, err)
	defer c.Close()

	block, err := c.BlockNumber(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), block)

	// the healthy node is now preferred
	_, err = c.BlockNumber(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRPCClientAllNodesDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	c, err := chain.NewRPCClient([]string{deadURL}, 200*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.BlockNumber(t.Context())
	require.ErrorIs(t, err, errs.ErrNetworkUnavailable)
}

func TestNewRPCClientRequiresURL(t *testing.T) {
	_, err := chain.NewRPCClient(nil, 0)
	require.ErrorIs(t, err, errs.ErrConfiguration)
}
