package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func TestInsertQuotes(t *testing.T) {
	store, mock := newMockStore(t)
	fetchedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	quotes := []models.PriceQuote{
		{Symbol: "BTC", PriceUSD: 64000, Change24h: -1.2, Volume24h: 2.8e10, MarketCap: 1.26e12},
		{Symbol: "ETH", PriceUSD: 3100, Change24h: 2.4, Volume24h: 1.2e10, MarketCap: 3.7e11},
	}

	for _, q := range quotes {
		mock.ExpectExec(`INSERT INTO quote_history`).
			WithArgs(q.Symbol, q.PriceUSD, q.Change24h, q.Volume24h, q.MarketCap, "gateway", fetchedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	err := store.InsertQuotes(context.Background(), quotes, "gateway", fetchedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteHistory(t *testing.T) {
	store, mock := newMockStore(t)
	fetchedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"symbol", "price_usd", "change_24h", "volume_24h", "market_cap", "fetched_at",
	}).
		AddRow("BTC", 64100.0, -0.8, 2.7e10, 1.255e12, fetchedAt).
		AddRow("BTC", 64000.0, -1.2, 2.8e10, 1.26e12, fetchedAt.Add(-time.Hour))

	mock.ExpectQuery(`SELECT symbol, price_usd`).
		WithArgs("BTC", 100).
		WillReturnRows(rows)

	quotes, err := store.QuoteHistory(context.Background(), "BTC", 0)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 64100.0, quotes[0].PriceUSD)
	assert.Equal(t, fetchedAt, quotes[0].LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteHistory_LimitClamped(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "negative_uses_default", limit: -5, want: 100},
		{name: "zero_uses_default", limit: 0, want: 100},
		{name: "over_limit_clamps_to_max", limit: 5000, want: 1000},
		{name: "in_range_passes_through", limit: 250, want: 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)

			mock.ExpectQuery(`SELECT symbol, price_usd`).
				WithArgs("ETH", tt.want).
				WillReturnRows(sqlmock.NewRows([]string{
					"symbol", "price_usd", "change_24h", "volume_24h", "market_cap", "fetched_at",
				}))

			quotes, err := store.QuoteHistory(context.Background(), "ETH", tt.limit)
			require.NoError(t, err)
			assert.Empty(t, quotes)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPruneHistory(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM quote_history`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := store.PruneHistory(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
