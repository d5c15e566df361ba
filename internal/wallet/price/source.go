package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Source fetches the spot USD price of the reference asset.
type Source interface {
	FetchUSD(ctx context.Context) (float64, error)
}

// CoinGecko reads /simple/price from a CoinGecko compatible API.
type CoinGecko struct {
	baseURL string
	assetID string
	apiKey  string
	client  *http.Client
}

// NewCoinGecko builds a source for assetID (e.g. "ethereum"). Per-attempt
// timeouts come from the caller's context.
func NewCoinGecko(baseURL string, assetID string, apiKey string) *CoinGecko {
	return &CoinGecko{
		baseURL: baseURL,
		assetID: assetID,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (c *CoinGecko) FetchUSD(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(c.assetID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build price request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get price")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("failed to get price: status %d", resp.StatusCode)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(err, "failed to decode price")
	}

	usd, ok := body[c.assetID]["usd"]
	if !ok {
		return 0, errors.Errorf("price for %s missing in response", c.assetID)
	}

	return usd, nil
}
