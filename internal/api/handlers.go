package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/cache"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/gateway"
	"github.com/chainpulse/chainpulse/internal/health"
	"github.com/chainpulse/chainpulse/internal/mock"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/providers"
	"github.com/chainpulse/chainpulse/internal/store"
)

// defaultSymbols backs /market/prices when no symbols are requested.
var defaultSymbols = []string{"BTC", "ETH", "SOL", "BNB", "XRP"}

// trackedNFTContracts are the collections shown on the NFT dashboard.
var trackedNFTContracts = []string{
	"0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d", // BAYC
	"0xb47e3cd837ddf8e4c57f05d70ab865de6e193bbb", // CryptoPunks
	"0xbd3531da5cf5857e7cfaa92426877b022e612cf8", // Pudgy Penguins
	"0xed5af388653567af2f388e6224dc7c4b3241c544", // Azuki
}

// Handlers holds every dependency the endpoint handlers need.
type Handlers struct {
	Gateway   *gateway.Client
	Cache     cache.Store
	Config    *config.Config
	CoinGecko *providers.CoinGecko
	CMC       *providers.CoinMarketCap
	DeFiLlama *providers.DeFiLlama
	Alchemy   *providers.Alchemy
	OpenAI    *providers.OpenAI
	Store     *store.Store // nil when persistence is disabled
	Monitor   *health.Monitor
	Hub       *Hub
}

func writeEnvelope(w http.ResponseWriter, status int, resp models.Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeResult(w http.ResponseWriter, result gateway.Result) {
	var data interface{} = result.Data
	writeEnvelope(w, http.StatusOK, models.Response{
		Success:  true,
		Data:     data,
		Cached:   result.Cached,
		Stale:    result.Stale,
		Fallback: result.Fallback,
		Source:   result.Source,
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeEnvelope(w, status, models.Response{Success: false, Error: err.Error()})
}

// Health is the liveness endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"cache":  h.Cache.Healthy(r.Context()),
	}
	if h.Store != nil {
		status["database"] = h.Store.Ping(r.Context()) == nil
	}
	writeEnvelope(w, http.StatusOK, models.Response{Success: true, Data: status})
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusNotFound, models.Response{
		Success: false,
		Error:   "route not found: " + r.URL.Path,
	})
}

// MethodNotAllowed handles matched routes hit with the wrong verb.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusMethodNotAllowed, models.Response{
		Success: false,
		Error:   "method not allowed: " + r.Method + " " + r.URL.Path,
	})
}

func (h *Handlers) parseSymbols(r *http.Request) []string {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		return defaultSymbols
	}
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	if len(symbols) == 0 {
		return defaultSymbols
	}
	return symbols
}

// fetchQuotes runs the market tier ladder: CoinGecko primary,
// CoinMarketCap fallback, mock last.
func (h *Handlers) fetchQuotes(ctx context.Context, symbols []string) (gateway.Result, error) {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	key := "market:prices:" + strings.Join(sorted, ",")

	svc := h.Config.Service("market")
	return h.Gateway.Fetch(ctx, gateway.Request{
		Service: "market",
		Key:     key,
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "coingecko",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					quotes, err := h.CoinGecko.Markets(ctx, symbolsToGeckoIDs(symbols))
					if err != nil {
						return nil, err
					}
					return json.Marshal(quotes)
				},
			},
			{
				Name: "coinmarketcap",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					quotes, err := h.CMC.QuotesLatest(ctx, symbols)
					if err != nil {
						return nil, err
					}
					return json.Marshal(quotes)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.Quotes(symbols)) },
	})
}

// MarketPrices serves GET /market/prices?symbols=BTC,ETH.
func (h *Handlers) MarketPrices(w http.ResponseWriter, r *http.Request) {
	result, err := h.fetchQuotes(r.Context(), h.parseSymbols(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// MarketGlobal serves GET /market/global.
func (h *Handlers) MarketGlobal(w http.ResponseWriter, r *http.Request) {
	svc := h.Config.Service("market")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "market",
		Key:     "market:global",
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "coingecko",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					global, err := h.CoinGecko.GlobalData(ctx)
					if err != nil {
						return nil, err
					}
					return json.Marshal(global)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.GlobalMarket()) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// MarketListings serves GET /market/listings?limit=N, the top assets by
// market cap.
func (h *Handlers) MarketListings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	svc := h.Config.Service("market")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "market",
		Key:     "market:listings:" + strconv.Itoa(limit),
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "coinmarketcap",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					quotes, err := h.CMC.ListingsLatest(ctx, limit)
					if err != nil {
						return nil, err
					}
					return json.Marshal(quotes)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.Quotes(defaultSymbols)) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// MarketQuote serves GET /market/quote/{symbol}.
func (h *Handlers) MarketQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	result, err := h.fetchQuotes(r.Context(), []string{symbol})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	var quotes []models.PriceQuote
	if err := json.Unmarshal(result.Data, &quotes); err != nil || len(quotes) == 0 {
		writeError(w, http.StatusNotFound, errNotFound(symbol))
		return
	}
	writeEnvelope(w, http.StatusOK, models.Response{
		Success:  true,
		Data:     quotes[0],
		Cached:   result.Cached,
		Stale:    result.Stale,
		Fallback: result.Fallback,
		Source:   result.Source,
	})
}

// MarketHistory serves GET /market/history/{symbol} from the snapshot
// store.
func (h *Handlers) MarketHistory(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeEnvelope(w, http.StatusOK, models.Response{
			Success: true,
			Data:    []models.PriceQuote{},
		})
		return
	}

	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	quotes, err := h.Store.QuoteHistory(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeEnvelope(w, http.StatusOK, models.Response{Success: true, Data: quotes, Source: "store"})
}

// MarketStream upgrades to the websocket quote stream.
func (h *Handlers) MarketStream(w http.ResponseWriter, r *http.Request) {
	h.Hub.ServeWS(w, r)
}

// DefiProtocols serves GET /defi/protocols.
func (h *Handlers) DefiProtocols(w http.ResponseWriter, r *http.Request) {
	svc := h.Config.Service("defi")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "defi",
		Key:     "defi:protocols",
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "defillama",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					rows, err := h.DeFiLlama.Protocols(ctx, 50)
					if err != nil {
						return nil, err
					}
					return json.Marshal(rows)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.Protocols()) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// DefiTVL serves GET /defi/tvl/{protocol}.
func (h *Handlers) DefiTVL(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["protocol"]

	svc := h.Config.Service("defi")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "defi",
		Key:     "defi:tvl:" + slug,
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "defillama",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					points, err := h.DeFiLlama.ProtocolTVL(ctx, slug)
					if err != nil {
						return nil, err
					}
					return json.Marshal(points)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.TVLHistory(slug, 30)) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// DefiChainTVL serves GET /defi/chains/{chain}/tvl.
func (h *Handlers) DefiChainTVL(w http.ResponseWriter, r *http.Request) {
	chain := strings.ToLower(mux.Vars(r)["chain"])

	svc := h.Config.Service("defi")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "defi",
		Key:     "defi:chain-tvl:" + chain,
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "defillama",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					points, err := h.DeFiLlama.ChainTVLHistory(ctx, chain)
					if err != nil {
						return nil, err
					}
					return json.Marshal(points)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.TVLHistory(chain, 30)) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// NFTCollections serves GET /nft/collections.
func (h *Handlers) NFTCollections(w http.ResponseWriter, r *http.Request) {
	svc := h.Config.Service("nft")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "nft",
		Key:     "nft:collections",
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "alchemy",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					rows, err := h.Alchemy.NFTCollections(ctx, trackedNFTContracts)
					if err != nil {
						return nil, err
					}
					return json.Marshal(rows)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.NFTCollections()) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// GameFiProjects serves GET /gamefi/projects. Project metadata is a
// curated table; live token prices come from the market tiers.
func (h *Handlers) GameFiProjects(w http.ResponseWriter, r *http.Request) {
	svc := h.Config.Service("gamefi")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "gamefi",
		Key:     "gamefi:projects",
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "coingecko",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					return h.gamefiWithLivePrices(ctx)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.GameFiProjects()) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

func (h *Handlers) gamefiWithLivePrices(ctx context.Context) (json.RawMessage, error) {
	projects := mock.GameFiProjects()
	tokens := make([]string, 0, len(projects))
	for _, p := range projects {
		tokens = append(tokens, p.Token)
	}

	quotes, err := h.CoinGecko.Markets(ctx, symbolsToGeckoIDs(tokens))
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]models.PriceQuote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	for i := range projects {
		if q, ok := bySymbol[projects[i].Token]; ok {
			projects[i].PriceUSD = q.PriceUSD
		}
	}
	return json.Marshal(projects)
}

// DAOProjects serves GET /dao/projects.
func (h *Handlers) DAOProjects(w http.ResponseWriter, r *http.Request) {
	svc := h.Config.Service("dao")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "dao",
		Key:     "dao:projects",
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "coingecko",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					return h.daoWithLivePrices(ctx)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.DAOProjects()) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

func (h *Handlers) daoWithLivePrices(ctx context.Context) (json.RawMessage, error) {
	projects := mock.DAOProjects()
	tokens := make([]string, 0, len(projects))
	for _, p := range projects {
		tokens = append(tokens, p.Token)
	}

	// Treasury valuation tracks token market cap loosely; a live quote
	// failure fails the tier so the breaker sees it.
	quotes, err := h.CoinGecko.Markets(ctx, symbolsToGeckoIDs(tokens))
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]models.PriceQuote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	for i := range projects {
		if q, ok := bySymbol[projects[i].Token]; ok && q.MarketCap > 0 {
			projects[i].TreasuryUSD = q.MarketCap * 0.05
		}
	}
	return json.Marshal(projects)
}

// Portfolio serves GET /portfolio/{address}.
func (h *Handlers) Portfolio(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(mux.Vars(r)["address"])
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		writeError(w, http.StatusBadRequest, errInvalidAddress(address))
		return
	}

	svc := h.Config.Service("portfolio")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "portfolio",
		Key:     "portfolio:" + address,
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "alchemy",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					portfolio, err := h.Alchemy.TokenBalances(ctx, address)
					if err != nil {
						return nil, err
					}
					return json.Marshal(portfolio)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.Portfolio(address)) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

type insightRequest struct {
	Prompt string `json:"prompt"`
}

// AIInsights serves POST /ai/insights.
func (h *Handlers) AIInsights(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, errMissingPrompt)
		return
	}
	prompt := strings.TrimSpace(req.Prompt)

	sum := sha256.Sum256([]byte(prompt))
	key := "ai:insight:" + hex.EncodeToString(sum[:8])

	svc := h.Config.Service("ai")
	result, err := h.Gateway.Fetch(r.Context(), gateway.Request{
		Service: "ai",
		Key:     key,
		TTL:     svc.TTL(),
		Tiers: []gateway.Tier{
			{
				Name: "openai",
				Fetch: func(ctx context.Context) (json.RawMessage, error) {
					insight, err := h.OpenAI.ChatInsight(ctx, prompt)
					if err != nil {
						return nil, err
					}
					return json.Marshal(insight)
				},
			},
		},
		Mock: func() json.RawMessage { return mock.JSON(mock.Insight(prompt)) },
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeResult(w, result)
}

// QuoteStreamFetcher builds the hub's refresh function for a fixed
// symbol set.
func (h *Handlers) QuoteStreamFetcher(symbols []string) QuoteFetcher {
	return func(ctx context.Context) (json.RawMessage, error) {
		result, err := h.fetchQuotes(ctx, symbols)
		if err != nil {
			return nil, err
		}
		return result.Data, nil
	}
}

// InfraHealth serves GET /infrastructure/health from the monitor.
func (h *Handlers) InfraHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, models.Response{
		Success: true,
		Data:    h.Monitor.Snapshot(),
	})
}
