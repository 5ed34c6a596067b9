// Package models defines the wire shapes served by the gateway API.
package models

import "time"

// PriceQuote is a single asset quote as rendered on the market dashboard.
type PriceQuote struct {
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name,omitempty"`
	PriceUSD    float64   `json:"price_usd"`
	Change24h   float64   `json:"change_24h"`
	Volume24h   float64   `json:"volume_24h"`
	MarketCap   float64   `json:"market_cap"`
	LastUpdated time.Time `json:"last_updated"`
}

// GlobalMarket is the aggregate market overview shown above the price
// table.
type GlobalMarket struct {
	TotalMarketCapUSD      float64   `json:"total_market_cap_usd"`
	TotalVolumeUSD         float64   `json:"total_volume_usd"`
	BTCDominance           float64   `json:"btc_dominance"`
	ETHDominance           float64   `json:"eth_dominance"`
	MarketCapChange24h     float64   `json:"market_cap_change_24h"`
	ActiveCryptocurrencies int       `json:"active_cryptocurrencies"`
	Markets                int       `json:"markets"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ProtocolEntry is a DeFi protocol row (TVL leaderboard).
type ProtocolEntry struct {
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	Category string  `json:"category"`
	Chain    string  `json:"chain"`
	TVL      float64 `json:"tvl"`
	Change1d float64 `json:"change_1d"`
	Change7d float64 `json:"change_7d"`
}

// TVLPoint is one sample of a protocol's TVL history.
type TVLPoint struct {
	Date time.Time `json:"date"`
	TVL  float64   `json:"tvl"`
}

// NFTCollection is a collection row on the NFT dashboard.
type NFTCollection struct {
	Name      string  `json:"name"`
	Contract  string  `json:"contract"`
	FloorETH  float64 `json:"floor_eth"`
	Volume24h float64 `json:"volume_24h"`
	Owners    int     `json:"owners"`
	Items     int     `json:"items"`
}

// GameFiProject is a row on the GameFi dashboard.
type GameFiProject struct {
	Name       string  `json:"name"`
	Chain      string  `json:"chain"`
	Token      string  `json:"token"`
	PriceUSD   float64 `json:"price_usd"`
	Players24h int     `json:"players_24h"`
	Volume24h  float64 `json:"volume_24h"`
}

// DAOProject is a row on the DAO dashboard.
type DAOProject struct {
	Name          string  `json:"name"`
	Token         string  `json:"token"`
	TreasuryUSD   float64 `json:"treasury_usd"`
	Members       int     `json:"members"`
	Proposals     int     `json:"proposals"`
	Participation float64 `json:"participation"`
}

// TokenBalance is one token position in a portfolio lookup.
type TokenBalance struct {
	Contract string  `json:"contract"`
	Symbol   string  `json:"symbol"`
	Balance  float64 `json:"balance"`
	ValueUSD float64 `json:"value_usd"`
}

// Portfolio aggregates an address's token balances.
type Portfolio struct {
	Address  string         `json:"address"`
	TotalUSD float64        `json:"total_usd"`
	Tokens   []TokenBalance `json:"tokens"`
}

// Insight is an AI-generated market commentary blob.
type Insight struct {
	Prompt    string    `json:"prompt"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Response is the envelope every API handler returns.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Cached    bool        `json:"cached,omitempty"`
	Stale     bool        `json:"stale,omitempty"`
	Fallback  bool        `json:"fallback,omitempty"`
	Source    string      `json:"source,omitempty"`
}
