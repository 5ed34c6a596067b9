package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/models"
)

// CoinGecko wraps the CoinGecko v3 REST API.
type CoinGecko struct {
	client
	apiKey string
}

// NewCoinGecko creates a CoinGecko client. An empty apiKey uses the
// free tier.
func NewCoinGecko(opts Options, apiKey string) *CoinGecko {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{client: newClient("coingecko", opts), apiKey: apiKey}
}

// coinMarket mirrors one row of /coins/markets.
type coinMarket struct {
	ID               string  `json:"id"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	CurrentPrice     float64 `json:"current_price"`
	MarketCap        float64 `json:"market_cap"`
	TotalVolume      float64 `json:"total_volume"`
	PriceChange24h   float64 `json:"price_change_percentage_24h"`
	LastUpdated      string  `json:"last_updated"`
}

// Markets fetches market rows for the given coin IDs and maps them to
// quotes.
func (cg *CoinGecko) Markets(ctx context.Context, ids []string) ([]models.PriceQuote, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("order", "market_cap_desc")
	q.Set("sparkline", "false")

	endpoint := fmt.Sprintf("%s/coins/markets?%s", cg.baseURL, q.Encode())

	var rows []coinMarket
	if err := cg.getJSON(ctx, endpoint, cg.headers(), &rows); err != nil {
		log.Warn().Err(err).Str("provider", "coingecko").Msg("markets fetch failed")
		return nil, err
	}

	quotes := make([]models.PriceQuote, 0, len(rows))
	for _, row := range rows {
		updated, err := time.Parse(time.RFC3339, row.LastUpdated)
		if err != nil {
			updated = time.Now().UTC()
		}
		quotes = append(quotes, models.PriceQuote{
			Symbol:      strings.ToUpper(row.Symbol),
			Name:        row.Name,
			PriceUSD:    row.CurrentPrice,
			Change24h:   row.PriceChange24h,
			Volume24h:   row.TotalVolume,
			MarketCap:   row.MarketCap,
			LastUpdated: updated,
		})
	}
	return quotes, nil
}

// SimplePrices fetches spot prices for the given coin IDs against the
// given currencies. Shape: id -> currency -> price.
func (cg *CoinGecko) SimplePrices(ctx context.Context, ids, currencies []string) (map[string]map[string]float64, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", strings.Join(currencies, ","))

	endpoint := fmt.Sprintf("%s/simple/price?%s", cg.baseURL, q.Encode())

	prices := make(map[string]map[string]float64)
	if err := cg.getJSON(ctx, endpoint, cg.headers(), &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

type globalResponse struct {
	Data struct {
		ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
		Markets                int                `json:"markets"`
		TotalMarketCap         map[string]float64 `json:"total_market_cap"`
		TotalVolume            map[string]float64 `json:"total_volume"`
		MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
		MarketCapChange24h     float64            `json:"market_cap_change_percentage_24h_usd"`
		UpdatedAt              int64              `json:"updated_at"`
	} `json:"data"`
}

// GlobalData fetches aggregate market statistics from /global.
func (cg *CoinGecko) GlobalData(ctx context.Context) (models.GlobalMarket, error) {
	endpoint := fmt.Sprintf("%s/global", cg.baseURL)

	var resp globalResponse
	if err := cg.getJSON(ctx, endpoint, cg.headers(), &resp); err != nil {
		log.Warn().Err(err).Str("provider", "coingecko").Msg("global data fetch failed")
		return models.GlobalMarket{}, err
	}

	return models.GlobalMarket{
		TotalMarketCapUSD:      resp.Data.TotalMarketCap["usd"],
		TotalVolumeUSD:         resp.Data.TotalVolume["usd"],
		BTCDominance:           resp.Data.MarketCapPercentage["btc"],
		ETHDominance:           resp.Data.MarketCapPercentage["eth"],
		MarketCapChange24h:     resp.Data.MarketCapChange24h,
		ActiveCryptocurrencies: resp.Data.ActiveCryptocurrencies,
		Markets:                resp.Data.Markets,
		UpdatedAt:              time.Unix(resp.Data.UpdatedAt, 0).UTC(),
	}, nil
}

func (cg *CoinGecko) headers() map[string]string {
	if cg.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": cg.apiKey}
}
