package api

import (
	"errors"
	"fmt"
	"strings"
)

var errMissingPrompt = errors.New("request body must include a non-empty prompt")

func errNotFound(symbol string) error {
	return fmt.Errorf("no quote found for symbol %s", symbol)
}

func errInvalidAddress(address string) error {
	return fmt.Errorf("invalid ethereum address: %s", address)
}

// geckoIDs maps ticker symbols to CoinGecko coin IDs for the assets the
// dashboards track. Unknown symbols fall back to the lowercased symbol,
// which works for coins whose ID matches their ticker.
var geckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"ENS":   "ethereum-name-service",
	"AXS":   "axie-infinity",
	"SAND":  "the-sandbox",
	"GALA":  "gala",
	"ILV":   "illuvium",
}

func symbolsToGeckoIDs(symbols []string) []string {
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		if id, ok := geckoIDs[sym]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, strings.ToLower(sym))
		}
	}
	return ids
}
