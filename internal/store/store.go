// Package store persists response snapshots and quote history in
// Postgres. Writes are best-effort: the request path never blocks on
// the database.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/chainpulse/chainpulse/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS response_snapshots (
	id         BIGSERIAL PRIMARY KEY,
	service    TEXT        NOT NULL,
	cache_key  TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_service_key
	ON response_snapshots (service, cache_key, fetched_at DESC);

CREATE TABLE IF NOT EXISTS quote_history (
	id         BIGSERIAL PRIMARY KEY,
	symbol     TEXT             NOT NULL,
	price_usd  DOUBLE PRECISION NOT NULL,
	change_24h DOUBLE PRECISION NOT NULL,
	volume_24h DOUBLE PRECISION NOT NULL,
	market_cap DOUBLE PRECISION NOT NULL,
	source     TEXT             NOT NULL,
	fetched_at TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quote_history_symbol
	ON quote_history (symbol, fetched_at DESC);
`

// Store wraps the Postgres connection.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Test hook.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SnapshotResponse records an upstream payload asynchronously. For
// market quote payloads it also explodes the rows into quote_history.
func (s *Store) SnapshotResponse(service, key string, payload json.RawMessage, fetchedAt time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.insertSnapshot(ctx, service, key, payload, fetchedAt); err != nil {
			log.Warn().Err(err).Str("service", service).Msg("snapshot write failed")
			return
		}

		if service == "market" {
			var quotes []models.PriceQuote
			if err := json.Unmarshal(payload, &quotes); err == nil {
				if err := s.InsertQuotes(ctx, quotes, "gateway", fetchedAt); err != nil {
					log.Warn().Err(err).Msg("quote history write failed")
				}
			}
		}
	}()
}

func (s *Store) insertSnapshot(ctx context.Context, service, key string, payload json.RawMessage, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_snapshots (service, cache_key, payload, fetched_at)
		 VALUES ($1, $2, $3, $4)`,
		service, key, []byte(payload), fetchedAt)
	return err
}

// InsertQuotes appends quote rows to the history table.
func (s *Store) InsertQuotes(ctx context.Context, quotes []models.PriceQuote, source string, fetchedAt time.Time) error {
	for _, q := range quotes {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO quote_history (symbol, price_usd, change_24h, volume_24h, market_cap, source, fetched_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.Symbol, q.PriceUSD, q.Change24h, q.Volume24h, q.MarketCap, source, fetchedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

type quoteRow struct {
	Symbol    string    `db:"symbol"`
	PriceUSD  float64   `db:"price_usd"`
	Change24h float64   `db:"change_24h"`
	Volume24h float64   `db:"volume_24h"`
	MarketCap float64   `db:"market_cap"`
	FetchedAt time.Time `db:"fetched_at"`
}

// QuoteHistory returns the most recent history rows for a symbol,
// newest first.
func (s *Store) QuoteHistory(ctx context.Context, symbol string, limit int) ([]models.PriceQuote, error) {
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
	}

	var rows []quoteRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT symbol, price_usd, change_24h, volume_24h, market_cap, fetched_at
		 FROM quote_history
		 WHERE symbol = $1
		 ORDER BY fetched_at DESC
		 LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query quote history: %w", err)
	}

	quotes := make([]models.PriceQuote, 0, len(rows))
	for _, row := range rows {
		quotes = append(quotes, models.PriceQuote{
			Symbol:      row.Symbol,
			PriceUSD:    row.PriceUSD,
			Change24h:   row.Change24h,
			Volume24h:   row.Volume24h,
			MarketCap:   row.MarketCap,
			LastUpdated: row.FetchedAt,
		})
	}
	return quotes, nil
}

// PruneHistory deletes history older than the retention window.
func (s *Store) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quote_history WHERE fetched_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
