package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const auditEventsByRequestQuery = `
SELECT request_id, customer_id, operation, stage, code, tx_hash, fee, inputs, at
FROM txbuild_audit_events
WHERE request_id = ?
ORDER BY at, stage`

// AuditEventsByRequest returns the recorded history of one request, oldest first.
func (r *Repository) AuditEventsByRequest(ctx context.Context, requestID string) (events []model.AuditEvent, err error) {
	start := time.Now()
	defer func() {
		r.metrics.Observe("audit_events_by_request", len(events), err, start)
	}()

	rows, err := r.conn.Query(ctx, auditEventsByRequestQuery, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e           model.AuditEvent
			stage, code string
			inputs      uint32
		)
		if err = rows.Scan(&e.RequestID, &e.CustomerID, &e.Operation, &stage, &code, &e.TxHash, &e.Fee, &inputs, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Stage = model.Stage(stage)
		e.Code = model.Code(code)
		e.Inputs = int(inputs)
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
