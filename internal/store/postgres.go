package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridianquant/backtester/internal/apperr"
	"github.com/meridianquant/backtester/pkg/types"
)

// PostgresConfig holds the connection settings consulted from the
// environment: DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD.
type PostgresConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// PostgresConfigFromEnv reads the DB_* environment variables. An empty
// DB_HOST means the store is unavailable.
func PostgresConfigFromEnv() PostgresConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DB_PORT", 5432)
	return PostgresConfig{
		Host:     v.GetString("DB_HOST"),
		Port:     v.GetInt("DB_PORT"),
		Name:     v.GetString("DB_NAME"),
		User:     v.GetString("DB_USER"),
		Password: v.GetString("DB_PASSWORD"),
	}
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Available reports whether enough of the environment is set to try a
// connection.
func (c PostgresConfig) Available() bool { return c.Host != "" }

// PostgresStore is the pgx-backed PriceStore. It expects a
// stock_prices(time, symbol, open, high, low, close, volume) table and a
// stocks(symbol, ipo_date, listing_date, delisting_date,
// first_trading_date, last_trading_date) metadata table.
type PostgresStore struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// NewPostgresStore connects and verifies connectivity with a ping.
func NewPostgresStore(ctx context.Context, logger *zap.Logger, cfg PostgresConfig) (*PostgresStore, error) {
	if !cfg.Available() {
		return nil, apperr.New(apperr.CodeConnectionFailed, "DB_HOST is not set")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionFailed, "parse connection config", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionFailed, "create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.CodeConnectionFailed, "ping database", err)
	}
	return &PostgresStore{logger: logger, pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) GetStockPrices(ctx context.Context, symbol, start, end string) ([]RawRow, error) {
	const query = `
		SELECT time, symbol, open, high, low, close, volume
		FROM stock_prices
		WHERE symbol = $1 AND time >= $2 AND time <= $3
		ORDER BY time ASC`

	rows, err := s.pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeQueryFailed, "query stock prices", err).
			WithDetail("symbol", symbol)
	}
	defer rows.Close()

	var out []RawRow
	for rows.Next() {
		var (
			ts                     time.Time
			sym                    string
			open, high, low, close decimal.Decimal
			volume                 int64
		)
		if err := rows.Scan(&ts, &sym, &open, &high, &low, &close, &volume); err != nil {
			return nil, apperr.Wrap(apperr.CodeQueryFailed, "scan price row", err).
				WithDetail("symbol", symbol)
		}
		out = append(out, RawRow{
			"time":   ts.Format(types.DateLayout),
			"symbol": sym,
			"open":   open,
			"high":   high,
			"low":    low,
			"close":  close,
			"volume": volume,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeQueryFailed, "iterate price rows", err).
			WithDetail("symbol", symbol)
	}
	return out, nil
}

func (s *PostgresStore) CheckSymbolExists(ctx context.Context, symbol string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM stock_prices WHERE symbol = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, symbol).Scan(&exists); err != nil {
		return false, apperr.Wrap(apperr.CodeQueryFailed, "check symbol", err).
			WithDetail("symbol", symbol)
	}
	return exists, nil
}

func (s *PostgresStore) IsStockTradeable(ctx context.Context, symbol, date string) (bool, error) {
	info, err := s.GetStockTemporalInfo(ctx, symbol)
	if err != nil {
		return false, err
	}
	return Tradeable(info, date), nil
}

func (s *PostgresStore) GetStockTemporalInfo(ctx context.Context, symbol string) (*types.TemporalInfo, error) {
	const query = `
		SELECT ipo_date, listing_date, delisting_date, first_trading_date, last_trading_date
		FROM stocks
		WHERE symbol = $1`

	var ipo, listing, delisting, first, last *time.Time
	err := s.pool.QueryRow(ctx, query, symbol).Scan(&ipo, &listing, &delisting, &first, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.TemporalInfo{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeQueryFailed, "query temporal info", err).
			WithDetail("symbol", symbol)
	}
	return &types.TemporalInfo{
		IPODate:          formatDate(ipo),
		ListingDate:      formatDate(listing),
		DelistingDate:    formatDate(delisting),
		FirstTradingDate: formatDate(first),
		LastTradingDate:  formatDate(last),
	}, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(types.DateLayout)
}
