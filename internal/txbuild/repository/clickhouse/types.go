package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Conn is the part of clickhouse.Conn the repository uses.
	Conn interface {
		PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
		Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
		Ping(ctx context.Context) error
		Close() error
	}
	Metrics interface {
		Observe(operation string, rows int, err error, started time.Time)
	}
)
