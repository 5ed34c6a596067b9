package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chainpulse/chainpulse/internal/models"
)

// DeFiLlama wraps the public DeFiLlama API. No API key required.
type DeFiLlama struct {
	client
}

// NewDeFiLlama creates a DeFiLlama client.
func NewDeFiLlama(opts Options) *DeFiLlama {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.llama.fi"
	}
	return &DeFiLlama{client: newClient("defillama", opts)}
}

type llamaProtocol struct {
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	Category string  `json:"category"`
	Chain    string  `json:"chain"`
	TVL      float64 `json:"tvl"`
	Change1d float64 `json:"change_1d"`
	Change7d float64 `json:"change_7d"`
}

// Protocols fetches the protocol TVL leaderboard, trimmed to the top
// entries by TVL.
func (dl *DeFiLlama) Protocols(ctx context.Context, limit int) ([]models.ProtocolEntry, error) {
	endpoint := fmt.Sprintf("%s/protocols", dl.baseURL)

	var rows []llamaProtocol
	if err := dl.getJSON(ctx, endpoint, nil, &rows); err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TVL > rows[j].TVL })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	entries := make([]models.ProtocolEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, models.ProtocolEntry{
			Name:     row.Name,
			Slug:     row.Slug,
			Category: row.Category,
			Chain:    row.Chain,
			TVL:      row.TVL,
			Change1d: row.Change1d,
			Change7d: row.Change7d,
		})
	}
	return entries, nil
}

type llamaTVLPoint struct {
	Date int64   `json:"date"`
	TVL  float64 `json:"totalLiquidityUSD"`
}

type llamaProtocolDetail struct {
	TVL []llamaTVLPoint `json:"tvl"`
}

// ProtocolTVL fetches a protocol's historical TVL series from
// /protocol/{slug}.
func (dl *DeFiLlama) ProtocolTVL(ctx context.Context, slug string) ([]models.TVLPoint, error) {
	endpoint := fmt.Sprintf("%s/protocol/%s", dl.baseURL, slug)

	var detail llamaProtocolDetail
	if err := dl.getJSON(ctx, endpoint, nil, &detail); err != nil {
		return nil, err
	}
	return tvlPoints(detail.TVL), nil
}

// ChainTVLHistory fetches a chain's aggregate TVL series, e.g. for
// "ethereum" or "solana".
func (dl *DeFiLlama) ChainTVLHistory(ctx context.Context, chain string) ([]models.TVLPoint, error) {
	endpoint := fmt.Sprintf("%s/v2/historicalChainTvl/%s", dl.baseURL, chain)

	var rows []llamaTVLPoint
	if err := dl.getJSON(ctx, endpoint, nil, &rows); err != nil {
		return nil, err
	}
	return tvlPoints(rows), nil
}

func tvlPoints(rows []llamaTVLPoint) []models.TVLPoint {
	points := make([]models.TVLPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, models.TVLPoint{
			Date: time.Unix(row.Date, 0).UTC(),
			TVL:  row.TVL,
		})
	}
	return points
}
