package logger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const insertQuery = `
	INSERT INTO gateway_requests
	(id, owner, provider, model, input_tokens, output_tokens, latency_ms, status, cache, created_at)`

// ClickHouseSink ships request batches to a ClickHouse table for analytics.
// Insert failures are logged and the batch dropped; request logging is not a
// durability mechanism.
type ClickHouseSink struct {
	conn driver.Conn
	log  *slog.Logger
}

// NewClickHouseSink connects to ClickHouse at dsn and verifies the
// connection with a ping.
func NewClickHouseSink(ctx context.Context, dsn string, slogger *slog.Logger) (*ClickHouseSink, error) {
	if slogger == nil {
		slogger = slog.Default()
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("logger: parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logger: ping clickhouse: %w", err)
	}

	return &ClickHouseSink{conn: conn, log: slogger}, nil
}

func (s *ClickHouseSink) WriteBatch(ctx context.Context, batch []RequestLog) {
	insert, err := s.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		s.log.WarnContext(ctx, "clickhouse_prepare_error", slog.String("error", err.Error()))
		return
	}

	for _, e := range batch {
		err := insert.Append(
			e.ID,
			e.Owner,
			e.Provider,
			e.Model,
			e.InputTokens,
			e.OutputTokens,
			e.LatencyMs,
			e.Status,
			e.Cache,
			normalizeTime(e.CreatedAt),
		)
		if err != nil {
			s.log.WarnContext(ctx, "clickhouse_append_error", slog.String("error", err.Error()))
			return
		}
	}

	if err := insert.Send(); err != nil {
		s.log.WarnContext(ctx, "clickhouse_send_error", slog.String("error", err.Error()))
	}
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
