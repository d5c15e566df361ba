package transfers_test

import (
	"math/big"
	"net/http"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/test"
)

const recipient = "0x00000000000000000000000000000000000000aa"

type confirmationBody struct {
	TransactionID         string `json:"transaction_id"`
	Token                 string `json:"confirmation_token"`
	ToAddress             string `json:"to_address"`
	ExpiresIn             int64  `json:"expires_in"`
	AmountUSD             string `json:"amount_usd"`
	RequiresSecondaryAuth bool   `json:"requires_secondary_auth"`
}

type transactionBody struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	TxHash   *string `json:"tx_hash"`
	Metadata struct {
		Nonce         *uint64 `json:"nonce"`
		Confirmations uint64  `json:"confirmations"`
		Error         string  `json:"error"`
	} `json:"metadata"`
}

type errorBody struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
}

// fundedUser creates a wallet holding 1 ETH and 50 USDC.
func fundedUser(t *testing.T, s *api.Server, userID string) string {
	t.Helper()

	res := test.PerformRequest(t, s, "POST", "/api/v1/wallets", nil, test.UserHeader(s, userID))
	require.Equal(t, http.StatusOK, res.Result().StatusCode)

	var w struct {
		Address string `json:"address"`
	}
	test.ParseResponseAndValidate(t, res, &w)

	account := common.HexToAddress(w.Address)
	test.Chain(t, s).SetBalance(account, test.Ether)
	test.Chain(t, s).SetTokenBalance(test.USDC, account, big.NewInt(50_000_000))

	return w.Address
}

func initiate(t *testing.T, s *api.Server, userID string, amount string, currency string) confirmationBody {
	t.Helper()

	res := test.PerformRequest(t, s, "POST", "/api/v1/transfers", map[string]string{
		"recipient": recipient,
		"amount":    amount,
		"currency":  currency,
	}, test.UserHeader(s, userID))
	require.Equal(t, http.StatusCreated, res.Result().StatusCode, res.Body.String())

	var c confirmationBody
	test.ParseResponseAndValidate(t, res, &c)
	return c
}

func execute(t *testing.T, s *api.Server, userID string, token string) *httptestResponse {
	t.Helper()

	res := test.PerformRequest(t, s, "POST", "/api/v1/transfers/execute", map[string]any{
		"confirmation_token": token,
		"confirm":            true,
	}, test.UserHeader(s, userID))

	return &httptestResponse{code: res.Result().StatusCode, body: res.Body.Bytes(), header: res.Result().Header}
}

type httptestResponse struct {
	code   int
	body   []byte
	header http.Header
}

func TestTransferFlow(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		fundedUser(t, s, "user-1")

		c := initiate(t, s, "user-1", "10", "usdc")
		assert.Equal(t, int64(600), c.ExpiresIn)
		assert.Equal(t, "10", c.AmountUSD)
		assert.Equal(t, recipient, c.ToAddress)
		assert.False(t, c.RequiresSecondaryAuth)
		assert.Empty(t, test.Chain(t, s).Sent())

		res := test.PerformRequest(t, s, "GET", "/api/v1/transfers/token/"+c.Token, nil, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		var pending transactionBody
		test.ParseResponseAndValidate(t, res, &pending)
		assert.Equal(t, "pending", pending.Status)
		assert.Nil(t, pending.TxHash)

		executed := execute(t, s, "user-1", c.Token)
		require.Equal(t, http.StatusOK, executed.code, string(executed.body))

		res = test.PerformRequest(t, s, "GET", "/api/v1/transfers/"+c.TransactionID, nil, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		var broadcast transactionBody
		test.ParseResponseAndValidate(t, res, &broadcast)
		assert.Equal(t, "broadcast-pending", broadcast.Status)
		require.NotNil(t, broadcast.TxHash)
		require.NotNil(t, broadcast.Metadata.Nonce)
		assert.Equal(t, uint64(0), *broadcast.Metadata.Nonce)

		// the token is single use
		again := execute(t, s, "user-1", c.Token)
		assert.Equal(t, http.StatusConflict, again.code)
		assert.Equal(t, "broadcast-pending", again.header.Get("X-Transaction-Status"))
		assert.Len(t, test.Chain(t, s).Sent(), 1)

		test.Chain(t, s).MineReceipt(common.HexToHash(*broadcast.TxHash), true, 98, 50_000)

		res = test.PerformRequest(t, s, "POST", "/api/v1/admin/reconcile", nil, test.AdminHeader())
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		assert.JSONEq(t, `{"checked":1,"confirmed":1,"failed":0,"pending":0,"errors":0,"expired":0}`, res.Body.String())

		res = test.PerformRequest(t, s, "GET", "/api/v1/transfers/"+c.TransactionID, nil, test.UserHeader(s, "user-1"))
		var confirmed transactionBody
		test.ParseResponseAndValidate(t, res, &confirmed)
		assert.Equal(t, "confirmed", confirmed.Status)
		assert.Equal(t, uint64(3), confirmed.Metadata.Confirmations)

		res = test.PerformRequest(t, s, "GET", "/api/v1/transfers", nil, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		var list struct {
			Transactions []transactionBody `json:"transactions"`
		}
		test.ParseResponseAndValidate(t, res, &list)
		require.Len(t, list.Transactions, 1)
		assert.Equal(t, c.TransactionID, list.Transactions[0].ID)
	})
}

func TestExecuteConcurrentRequestsBroadcastOnce(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		fundedUser(t, s, "user-1")
		c := initiate(t, s, "user-1", "5", "USDC")

		const callers = 6
		codes := make([]int, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				codes[i] = execute(t, s, "user-1", c.Token).code
			}()
		}
		wg.Wait()

		ok := 0
		for _, code := range codes {
			if code == http.StatusOK {
				ok++
				continue
			}
			assert.Equal(t, http.StatusConflict, code)
		}
		assert.Equal(t, 1, ok)
		assert.Len(t, test.Chain(t, s).Sent(), 1)
	})
}

func TestExecuteRequiresConfirm(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		fundedUser(t, s, "user-1")
		c := initiate(t, s, "user-1", "5", "USDC")

		res := test.PerformRequest(t, s, "POST", "/api/v1/transfers/execute", map[string]any{
			"confirmation_token": c.Token,
		}, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusBadRequest, res.Result().StatusCode)

		var body errorBody
		test.ParseResponseAndValidate(t, res, &body)
		assert.Equal(t, "confirmation_required", body.Type)

		// other users cannot see or execute the intent
		other := execute(t, s, "user-2", c.Token)
		assert.Equal(t, http.StatusNotFound, other.code)
		res = test.PerformRequest(t, s, "GET", "/api/v1/transfers/"+c.TransactionID, nil, test.UserHeader(s, "user-2"))
		assert.Equal(t, http.StatusNotFound, res.Result().StatusCode)

		assert.Empty(t, test.Chain(t, s).Sent())
	})
}

func TestInitiateErrors(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		fundedUser(t, s, "user-1")

		tests := []struct {
			name    string
			payload map[string]string
			code    int
			kind    string
		}{
			{"bad amount", map[string]string{"recipient": recipient, "amount": "ten", "currency": "USDC"}, http.StatusBadRequest, "validation"},
			{"bad recipient", map[string]string{"recipient": "0x123", "amount": "1", "currency": "USDC"}, http.StatusBadRequest, "validation"},
			{"unsupported asset", map[string]string{"recipient": recipient, "amount": "1", "currency": "BTC"}, http.StatusBadRequest, "validation"},
			{"insufficient funds", map[string]string{"recipient": recipient, "amount": "51", "currency": "USDC"}, http.StatusUnprocessableEntity, "insufficient_funds"},
			{"native transfer", map[string]string{"recipient": recipient, "amount": "0.9", "currency": "ETH"}, http.StatusCreated, ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				res := test.PerformRequest(t, s, "POST", "/api/v1/transfers", tt.payload, test.UserHeader(s, "user-1"))
				require.Equal(t, tt.code, res.Result().StatusCode, res.Body.String())
				if tt.kind == "" {
					return
				}

				var body errorBody
				test.ParseResponseAndValidate(t, res, &body)
				assert.Equal(t, tt.kind, body.Type)
				assert.Equal(t, tt.code, body.Status)
			})
		}

		assert.Empty(t, test.Chain(t, s).Sent())
	})
}

func TestInitiateLimitExceeded(t *testing.T) {
	cfg := test.TestConfig(t)
	cfg.Transfer.DailyLimitUSD = 15

	test.WithTestServerConfigurable(t, cfg, func(s *api.Server) {
		fundedUser(t, s, "user-1")

		c := initiate(t, s, "user-1", "10", "USDC")
		require.Equal(t, http.StatusOK, execute(t, s, "user-1", c.Token).code)

		res := test.PerformRequest(t, s, "POST", "/api/v1/transfers", map[string]string{
			"recipient": recipient,
			"amount":    "10",
			"currency":  "USDC",
		}, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusForbidden, res.Result().StatusCode)

		var body errorBody
		test.ParseResponseAndValidate(t, res, &body)
		assert.Equal(t, "limit_exceeded", body.Type)
	})
}

func TestCancelTransfer(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		fundedUser(t, s, "user-1")
		c := initiate(t, s, "user-1", "5", "USDC")

		res := test.PerformRequest(t, s, "POST", "/api/v1/transfers/"+c.TransactionID+"/cancel", nil, test.UserHeader(s, "user-1"))
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		var cancelled transactionBody
		test.ParseResponseAndValidate(t, res, &cancelled)
		assert.Equal(t, "cancelled", cancelled.Status)

		assert.Equal(t, http.StatusConflict, execute(t, s, "user-1", c.Token).code)
		assert.Empty(t, test.Chain(t, s).Sent())
	})
}

func TestAdminRoutesRequireToken(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/admin/reconcile", nil, nil)
		assert.Equal(t, http.StatusForbidden, res.Result().StatusCode)

		h := test.AdminHeader()
		h.Set("X-Admin-Token", "wrong")
		res = test.PerformRequest(t, s, "POST", "/api/v1/admin/reconcile", nil, h)
		assert.Equal(t, http.StatusForbidden, res.Result().StatusCode)
	})
}

func TestAdminResetNonce(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		addr := fundedUser(t, s, "user-1")
		test.Chain(t, s).SetPendingNonce(common.HexToAddress(addr), 12)

		res := test.PerformRequest(t, s, "POST", "/api/v1/admin/nonces/user-1/reset", nil, test.AdminHeader())
		require.Equal(t, http.StatusOK, res.Result().StatusCode)
		assert.JSONEq(t, `{"user_id":"user-1","nonce":12}`, res.Body.String())

		c := initiate(t, s, "user-1", "1", "USDC")
		require.Equal(t, http.StatusOK, execute(t, s, "user-1", c.Token).code)
		assert.Equal(t, uint64(12), test.Chain(t, s).Sent()[0].Nonce())

		res = test.PerformRequest(t, s, "POST", "/api/v1/admin/nonces/nobody/reset", nil, test.AdminHeader())
		assert.Equal(t, http.StatusNotFound, res.Result().StatusCode)
	})
}
