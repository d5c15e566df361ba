package wallets

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github/chapool/go-custody/internal/api"
	"github/chapool/go-custody/internal/api/httperrors"
	"github/chapool/go-custody/internal/auth"
	"github/chapool/go-custody/internal/wallet/balance"
)

type limitsResponse struct {
	DailyUsedUSD    decimal.Decimal `json:"daily_used_usd"`
	DailyLimitUSD   decimal.Decimal `json:"daily_limit_usd"`
	MonthlyUsedUSD  decimal.Decimal `json:"monthly_used_usd"`
	MonthlyLimitUSD decimal.Decimal `json:"monthly_limit_usd"`
}

type balanceResponse struct {
	*balance.Balances
	Limits limitsResponse `json:"limits"`
}

func GetBalanceRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Wallets.GET("/balance", getBalanceHandler(s))
}

// Serves cached balances unless ?fresh=true.
func getBalanceHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user := auth.UserFromContext(ctx)
		if user == nil {
			return httperrors.ErrUnauthorized
		}

		w, err := s.Wallet.GetWallet(ctx, user.ID)
		if err != nil {
			return err
		}

		fresh, _ := strconv.ParseBool(c.QueryParam("fresh"))

		var b *balance.Balances
		if fresh {
			b, err = s.Balance.GetFreshBalances(ctx, w.Address)
		} else {
			b, err = s.Balance.GetBalances(ctx, w.Address)
		}
		if err != nil {
			return err
		}

		usage, err := s.Intents.Usage(ctx, user.ID, []string{b.NativeSymbol, b.TokenSymbol})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, balanceResponse{
			Balances: b,
			Limits: limitsResponse{
				DailyUsedUSD:    usage.DailyUSD.Round(2),
				DailyLimitUSD:   decimal.NewFromFloat(s.Config.Transfer.DailyLimitUSD),
				MonthlyUsedUSD:  usage.MonthlyUSD.Round(2),
				MonthlyLimitUSD: decimal.NewFromFloat(s.Config.Transfer.MonthlyLimitUSD),
			},
		})
	}
}
