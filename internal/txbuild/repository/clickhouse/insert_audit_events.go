package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const insertAuditEventsQuery = `
INSERT INTO txbuild_audit_events (
	request_id,
	customer_id,
	operation,
	stage,
	code,
	tx_hash,
	fee,
	inputs,
	at
) VALUES`

// InsertAuditEvents stores a batch of audit events.
func (r *Repository) InsertAuditEvents(ctx context.Context, events []model.AuditEvent) (err error) {
	start := time.Now()
	defer func() {
		r.metrics.Observe("insert_audit_events", len(events), err, start)
	}()

	if len(events) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, insertAuditEventsQuery)
	if err != nil {
		return fmt.Errorf("prepare audit events batch: %w", err)
	}

	for _, e := range events {
		if err = batch.Append(
			e.RequestID,
			e.CustomerID,
			e.Operation,
			string(e.Stage),
			string(e.Code),
			e.TxHash,
			e.Fee,
			uint32(e.Inputs),
			e.At,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append audit event: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert audit events: %w", err)
	}
	return nil
}
