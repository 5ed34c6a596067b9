package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainpulse/chainpulse/internal/models"
)

// Alchemy wraps the Alchemy NFT and token APIs on Ethereum mainnet.
type Alchemy struct {
	client
	apiKey string
}

// NewAlchemy creates an Alchemy client.
func NewAlchemy(opts Options, apiKey string) *Alchemy {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://eth-mainnet.g.alchemy.com"
	}
	return &Alchemy{client: newClient("alchemy", opts), apiKey: apiKey}
}

type alchemyContractMetadata struct {
	Name        string `json:"name"`
	TotalSupply string `json:"totalSupply"`
	OpenSea     struct {
		FloorPrice float64 `json:"floorPrice"`
	} `json:"openSeaMetadata"`
}

// NFTCollection fetches collection metadata for one contract.
func (a *Alchemy) NFTCollection(ctx context.Context, contract string) (models.NFTCollection, error) {
	endpoint := fmt.Sprintf("%s/nft/v3/%s/getContractMetadata?contractAddress=%s",
		a.baseURL, a.apiKey, contract)

	var meta alchemyContractMetadata
	if err := a.getJSON(ctx, endpoint, nil, &meta); err != nil {
		return models.NFTCollection{}, err
	}

	items, _ := strconv.Atoi(meta.TotalSupply)
	return models.NFTCollection{
		Name:     meta.Name,
		Contract: strings.ToLower(contract),
		FloorETH: meta.OpenSea.FloorPrice,
		Items:    items,
	}, nil
}

// NFTCollections fetches metadata for a set of tracked contracts.
// Individual failures drop the row rather than failing the batch.
func (a *Alchemy) NFTCollections(ctx context.Context, contracts []string) ([]models.NFTCollection, error) {
	collections := make([]models.NFTCollection, 0, len(contracts))
	var lastErr error
	for _, contract := range contracts {
		col, err := a.NFTCollection(ctx, contract)
		if err != nil {
			lastErr = err
			continue
		}
		collections = append(collections, col)
	}
	if len(collections) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return collections, nil
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type tokenBalancesResult struct {
	Result struct {
		Address       string `json:"address"`
		TokenBalances []struct {
			ContractAddress string `json:"contractAddress"`
			TokenBalance    string `json:"tokenBalance"`
		} `json:"tokenBalances"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TokenBalances fetches ERC-20 balances for an address via JSON-RPC.
// Balances are returned raw (hex weis scaled by 1e18); USD valuation is
// the gateway's concern.
func (a *Alchemy) TokenBalances(ctx context.Context, address string) (models.Portfolio, error) {
	endpoint := fmt.Sprintf("%s/v2/%s", a.baseURL, a.apiKey)

	payload, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "alchemy_getTokenBalances",
		Params:  []interface{}{address, "erc20"},
	})
	if err != nil {
		return models.Portfolio{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.Portfolio{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp tokenBalancesResult
	if err := a.doJSON(ctx, req, &resp); err != nil {
		return models.Portfolio{}, err
	}
	if resp.Error != nil {
		return models.Portfolio{}, fmt.Errorf("alchemy: RPC error %d: %s",
			resp.Error.Code, resp.Error.Message)
	}

	portfolio := models.Portfolio{Address: strings.ToLower(address)}
	for _, tb := range resp.Result.TokenBalances {
		balance := hexToFloat(tb.TokenBalance) / math.Pow10(18)
		if balance == 0 {
			continue
		}
		portfolio.Tokens = append(portfolio.Tokens, models.TokenBalance{
			Contract: strings.ToLower(tb.ContractAddress),
			Balance:  balance,
		})
	}
	return portfolio, nil
}

// hexToFloat converts a 0x-prefixed big-endian hex balance to float64.
// Precision loss past 53 bits is acceptable for display balances.
func hexToFloat(hex string) float64 {
	hex = strings.TrimPrefix(hex, "0x")
	var value float64
	for _, c := range hex {
		var digit int
		switch {
		case c >= '0' && c <= '9':
			digit = int(c - '0')
		case c >= 'a' && c <= 'f':
			digit = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = int(c-'A') + 10
		default:
			return 0
		}
		value = value*16 + float64(digit)
	}
	return value
}
