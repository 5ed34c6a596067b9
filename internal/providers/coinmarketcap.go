package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chainpulse/chainpulse/internal/models"
)

// CoinMarketCap wraps the CMC Pro API. It serves as the market-data
// fallback tier behind CoinGecko.
type CoinMarketCap struct {
	client
	apiKey string
}

// NewCoinMarketCap creates a CMC client.
func NewCoinMarketCap(opts Options, apiKey string) *CoinMarketCap {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://pro-api.coinmarketcap.com/v1"
	}
	return &CoinMarketCap{client: newClient("coinmarketcap", opts), apiKey: apiKey}
}

type cmcQuoteEntry struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	MarketCap        float64 `json:"market_cap"`
	LastUpdated      string  `json:"last_updated"`
}

type cmcQuoteData struct {
	Name        string                   `json:"name"`
	Symbol      string                   `json:"symbol"`
	LastUpdated string                   `json:"last_updated"`
	Quote       map[string]cmcQuoteEntry `json:"quote"`
}

type cmcQuotesResponse struct {
	Data   map[string]cmcQuoteData `json:"data"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

// QuotesLatest fetches latest USD quotes for the given symbols.
func (cmc *CoinMarketCap) QuotesLatest(ctx context.Context, symbols []string) ([]models.PriceQuote, error) {
	q := url.Values{}
	q.Set("symbol", strings.Join(symbols, ","))
	q.Set("convert", "USD")

	endpoint := fmt.Sprintf("%s/cryptocurrency/quotes/latest?%s", cmc.baseURL, q.Encode())

	var resp cmcQuotesResponse
	headers := map[string]string{"X-CMC_PRO_API_KEY": cmc.apiKey}
	if err := cmc.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("coinmarketcap: API error %d: %s",
			resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	quotes := make([]models.PriceQuote, 0, len(resp.Data))
	for _, data := range resp.Data {
		if quote, ok := toQuote(data); ok {
			quotes = append(quotes, quote)
		}
	}
	return quotes, nil
}

type cmcListingsResponse struct {
	Data   []cmcQuoteData `json:"data"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

// ListingsLatest fetches the top listings by market cap.
func (cmc *CoinMarketCap) ListingsLatest(ctx context.Context, limit int) ([]models.PriceQuote, error) {
	if limit <= 0 {
		limit = 20
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("convert", "USD")
	q.Set("sort", "market_cap")

	endpoint := fmt.Sprintf("%s/cryptocurrency/listings/latest?%s", cmc.baseURL, q.Encode())

	var resp cmcListingsResponse
	headers := map[string]string{"X-CMC_PRO_API_KEY": cmc.apiKey}
	if err := cmc.getJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, fmt.Errorf("coinmarketcap: API error %d: %s",
			resp.Status.ErrorCode, resp.Status.ErrorMessage)
	}

	quotes := make([]models.PriceQuote, 0, len(resp.Data))
	for _, data := range resp.Data {
		if quote, ok := toQuote(data); ok {
			quotes = append(quotes, quote)
		}
	}
	return quotes, nil
}

func toQuote(data cmcQuoteData) (models.PriceQuote, bool) {
	usd, ok := data.Quote["USD"]
	if !ok {
		return models.PriceQuote{}, false
	}
	updated, err := time.Parse(time.RFC3339, usd.LastUpdated)
	if err != nil {
		updated = time.Now().UTC()
	}
	return models.PriceQuote{
		Symbol:      data.Symbol,
		Name:        data.Name,
		PriceUSD:    usd.Price,
		Change24h:   usd.PercentChange24h,
		Volume24h:   usd.Volume24h,
		MarketCap:   usd.MarketCap,
		LastUpdated: updated,
	}, true
}
