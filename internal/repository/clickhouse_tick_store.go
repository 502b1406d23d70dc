package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	domrepo "MarketPull/internal/domain/repository"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/logger"
)

const tickChunkSize = 2000

// ClickHouseTickStore archives live trades in a MergeTree table.
type ClickHouseTickStore struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	source string
	log    *logger.Logger
}

var _ domrepo.TickStore = (*ClickHouseTickStore)(nil)

func NewClickHouseTickStore(client *pkgch.Client, table string, lgr *logger.Logger) *ClickHouseTickStore {
	if table == "" {
		table = "trade_ticks"
	}
	return &ClickHouseTickStore{
		client: client,
		db:     client.DB(),
		table:  table,
		source: "finnhub",
		log:    lgr.With(logger.String("component", "tick_store")),
	}
}

// TickSchema returns the DDL for the tick table.
func TickSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            ts         DateTime64(3, 'UTC'),
            symbol     LowCardinality(String),
            price      Float64,
            volume     Float64,
            source     LowCardinality(String),
            event_id   String
        )
        ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (symbol, ts, event_id)
        TTL toDateTime(ts) + INTERVAL 30 DAY
    `, table)}
}

func (s *ClickHouseTickStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, TickSchema(s.table))
}

// StoreBatch inserts trades in multi-row chunks. The event id makes
// replays collapse under ReplacingMergeTree.
func (s *ClickHouseTickStore) StoreBatch(ctx context.Context, trades []*models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	start := time.Now()
	stored := 0
	for lo := 0; lo < len(trades); lo += tickChunkSize {
		hi := lo + tickChunkSize
		if hi > len(trades) {
			hi = len(trades)
		}

		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*6)
		for _, t := range trades[lo:hi] {
			if t == nil || t.Symbol == "" || t.Timestamp == 0 {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args,
				time.UnixMilli(t.Timestamp).UTC(),
				t.Symbol,
				t.Price,
				t.Volume,
				s.source,
				tickEventID(t),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, source, event_id) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.log.Error("tick insert failed", logger.Int("rows", len(values)), logger.Error(err))
			return fmt.Errorf("insert ticks: %w", err)
		}
		stored += len(values)
	}
	s.log.Debug("ticks stored", logger.Int("rows", stored), logger.Duration("duration_ms", time.Since(start)))
	return nil
}

func tickEventID(t *models.Trade) string {
	return fmt.Sprintf("%s-%d-%g-%g", t.Symbol, t.Timestamp, t.Price, t.Volume)
}

func (s *ClickHouseTickStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := fmt.Sprintf("SELECT symbol, ts, price, volume FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var (
			t  models.Trade
			ts time.Time
		)
		if err := rows.Scan(&t.Symbol, &ts, &t.Price, &t.Volume); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Timestamp = ts.UnixMilli()
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *ClickHouseTickStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close is a no-op; the client owns the pool.
func (s *ClickHouseTickStore) Close() error { return nil }
