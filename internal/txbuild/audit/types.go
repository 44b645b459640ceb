package audit

import (
	"context"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Writer persists a batch of events.
	Writer interface {
		InsertAuditEvents(ctx context.Context, events []model.AuditEvent) error
	}
)
