package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/httpx"
)

func testOptions(baseURL string) Options {
	return Options{
		BaseURL: baseURL,
		RPS:     1000,
		Burst:   1000,
		Pool: httpx.NewPool(httpx.Config{
			MaxConcurrency: 2,
			MaxRetries:     0,
		}),
	}
}

func TestCoinGecko_Markets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":64250.5,
			 "market_cap":1260000000000,"total_volume":28000000000,
			 "price_change_percentage_24h":-1.2,"last_updated":"2025-06-01T12:00:00Z"},
			{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3150.25,
			 "market_cap":370000000000,"total_volume":12000000000,
			 "price_change_percentage_24h":2.4,"last_updated":"2025-06-01T12:00:00Z"}
		]`))
	}))
	defer server.Close()

	cg := NewCoinGecko(testOptions(server.URL), "")
	quotes, err := cg.Markets(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, 64250.5, quotes[0].PriceUSD)
	assert.Equal(t, -1.2, quotes[0].Change24h)
	assert.Equal(t, "ETH", quotes[1].Symbol)
	assert.Equal(t, 2025, quotes[1].LastUpdated.Year())
}

func TestCoinGecko_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-cg-demo-api-key")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cg := NewCoinGecko(testOptions(server.URL), "demo-key")
	_, err := cg.Markets(context.Background(), []string{"bitcoin"})
	require.NoError(t, err)
	assert.Equal(t, "demo-key", gotKey)
}

func TestCoinGecko_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	cg := NewCoinGecko(testOptions(server.URL), "")
	_, err := cg.Markets(context.Background(), []string{"bogus"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "coingecko", statusErr.Provider)
}

func TestCoinMarketCap_QuotesLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cryptocurrency/quotes/latest", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-CMC_PRO_API_KEY"))

		w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {
				"BTC": {
					"name": "Bitcoin", "symbol": "BTC",
					"quote": {"USD": {
						"price": 64100.0, "volume_24h": 27000000000,
						"percent_change_24h": -0.8, "market_cap": 1255000000000,
						"last_updated": "2025-06-01T12:05:00Z"
					}}
				}
			}
		}`))
	}))
	defer server.Close()

	cmc := NewCoinMarketCap(testOptions(server.URL), "test-key")
	quotes, err := cmc.QuotesLatest(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, 64100.0, quotes[0].PriceUSD)
}

func TestCoinMarketCap_ListingsLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cryptocurrency/listings/latest", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "market_cap", r.URL.Query().Get("sort"))

		w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": [
				{"name": "Bitcoin", "symbol": "BTC",
				 "quote": {"USD": {"price": 64100.0, "volume_24h": 27000000000,
					"percent_change_24h": -0.8, "market_cap": 1255000000000,
					"last_updated": "2025-06-01T12:05:00Z"}}},
				{"name": "Ethereum", "symbol": "ETH",
				 "quote": {"USD": {"price": 3150.0, "volume_24h": 12000000000,
					"percent_change_24h": 2.4, "market_cap": 370000000000,
					"last_updated": "2025-06-01T12:05:00Z"}}}
			]
		}`))
	}))
	defer server.Close()

	cmc := NewCoinMarketCap(testOptions(server.URL), "test-key")
	quotes, err := cmc.ListingsLatest(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "BTC", quotes[0].Symbol)
	assert.Equal(t, "ETH", quotes[1].Symbol)
	assert.Equal(t, 3150.0, quotes[1].PriceUSD)
}

func TestCoinMarketCap_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": {"error_code": 1001, "error_message": "invalid key"}, "data": {}}`))
	}))
	defer server.Close()

	cmc := NewCoinMarketCap(testOptions(server.URL), "bad-key")
	_, err := cmc.QuotesLatest(context.Background(), []string{"BTC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestCoinGecko_GlobalData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/global", r.URL.Path)
		w.Write([]byte(`{
			"data": {
				"active_cryptocurrencies": 11234,
				"markets": 912,
				"total_market_cap": {"usd": 2400000000000},
				"total_volume": {"usd": 91000000000},
				"market_cap_percentage": {"btc": 54.2, "eth": 16.1},
				"market_cap_change_percentage_24h_usd": -0.7,
				"updated_at": 1717243200
			}
		}`))
	}))
	defer server.Close()

	cg := NewCoinGecko(testOptions(server.URL), "")
	global, err := cg.GlobalData(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.4e12, global.TotalMarketCapUSD)
	assert.Equal(t, 9.1e10, global.TotalVolumeUSD)
	assert.Equal(t, 54.2, global.BTCDominance)
	assert.Equal(t, 16.1, global.ETHDominance)
	assert.Equal(t, 11234, global.ActiveCryptocurrencies)
	assert.Equal(t, int64(1717243200), global.UpdatedAt.Unix())
}

func TestDeFiLlama_Protocols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/protocols", r.URL.Path)
		w.Write([]byte(`[
			{"name":"Aave","slug":"aave","category":"Lending","chain":"Multi-Chain","tvl":12000000000,"change_1d":0.5,"change_7d":-2.1},
			{"name":"Lido","slug":"lido","category":"Liquid Staking","chain":"Ethereum","tvl":28000000000,"change_1d":1.1,"change_7d":4.0},
			{"name":"Tiny","slug":"tiny","category":"DEX","chain":"Base","tvl":1000,"change_1d":0,"change_7d":0}
		]`))
	}))
	defer server.Close()

	dl := NewDeFiLlama(testOptions(server.URL))
	entries, err := dl.Protocols(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Sorted by TVL descending, trimmed to the limit.
	assert.Equal(t, "Lido", entries[0].Name)
	assert.Equal(t, "Aave", entries[1].Name)
}

func TestDeFiLlama_ProtocolTVL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Protocol history lives under /protocol/{slug}; the
		// /v2/historicalChainTvl endpoint only accepts chain names.
		assert.Equal(t, "/protocol/aave", r.URL.Path)
		w.Write([]byte(`{
			"name": "Aave",
			"tvl": [
				{"date": 1717200000, "totalLiquidityUSD": 11500000000},
				{"date": 1717286400, "totalLiquidityUSD": 11750000000}
			]
		}`))
	}))
	defer server.Close()

	dl := NewDeFiLlama(testOptions(server.URL))
	points, err := dl.ProtocolTVL(context.Background(), "aave")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 11500000000.0, points[0].TVL)
	assert.Equal(t, int64(1717200000), points[0].Date.Unix())
}

func TestDeFiLlama_ChainTVLHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/historicalChainTvl/ethereum", r.URL.Path)
		w.Write([]byte(`[
			{"date": 1717200000, "totalLiquidityUSD": 61000000000},
			{"date": 1717286400, "totalLiquidityUSD": 62500000000}
		]`))
	}))
	defer server.Close()

	dl := NewDeFiLlama(testOptions(server.URL))
	points, err := dl.ChainTVLHistory(context.Background(), "ethereum")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 62500000000.0, points[1].TVL)
}

func TestAlchemy_TokenBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/test-key", r.URL.Path)
		w.Write([]byte(`{
			"result": {
				"address": "0xabc",
				"tokenBalances": [
					{"contractAddress": "0xC02aaa39b223FE8D0A0e5C4F27eAD9083C756Cc2", "tokenBalance": "0x1bc16d674ec80000"},
					{"contractAddress": "0xdead", "tokenBalance": "0x0"}
				]
			}
		}`))
	}))
	defer server.Close()

	a := NewAlchemy(testOptions(server.URL), "test-key")
	portfolio, err := a.TokenBalances(context.Background(), "0xAbCd000000000000000000000000000000000000")
	require.NoError(t, err)

	assert.Equal(t, "0xabcd000000000000000000000000000000000000", portfolio.Address)
	// Zero balances are dropped.
	require.Len(t, portfolio.Tokens, 1)
	// 0x1bc16d674ec80000 is 2e18 weis.
	assert.InDelta(t, 2.0, portfolio.Tokens[0].Balance, 1e-9)
}

func TestOpenAI_ChatInsight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "BTC is consolidating."}}]
		}`))
	}))
	defer server.Close()

	o := NewOpenAI(testOptions(server.URL), "sk-test")
	insight, err := o.ChatInsight(context.Background(), "How is BTC doing?")
	require.NoError(t, err)
	assert.Equal(t, "BTC is consolidating.", insight.Text)
	assert.Equal(t, "gpt-4o-mini", insight.Model)
}

func TestOpenAI_MissingKey(t *testing.T) {
	o := NewOpenAI(testOptions("http://unused"), "")
	_, err := o.ChatInsight(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestBudget_DailyLimit(t *testing.T) {
	budget := NewBudget(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, budget.Spend())
	}

	err := budget.Spend()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, int64(0), budget.Remaining())
}

func TestBudget_Unlimited(t *testing.T) {
	budget := NewBudget(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, budget.Spend())
	}
	assert.Equal(t, int64(-1), budget.Remaining())
}

func TestClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	opts := testOptions(server.URL)
	opts.RPS = 0.001
	opts.Burst = 1

	cg := NewCoinGecko(opts, "")
	_, err := cg.Markets(context.Background(), []string{"bitcoin"})
	require.NoError(t, err)

	_, err = cg.Markets(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
}
