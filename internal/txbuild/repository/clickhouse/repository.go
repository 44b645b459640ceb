// Package clickhouse stores the build and finalize audit trail in ClickHouse.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type Repository struct {
	conn    Conn
	metrics Metrics
}

func NewRepository(dsn string, metrics Metrics) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics is required")
	}

	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	return &Repository{conn: conn, metrics: metrics}, nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		r.metrics.Observe("ping", 0, err, start)
	}()
	return r.conn.Ping(ctx)
}

func (r *Repository) Close() error {
	return r.conn.Close()
}
