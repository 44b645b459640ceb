package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

func TestRepository_InsertAuditEvents(t *testing.T) {
	ctx := context.Background()
	event := model.AuditEvent{
		RequestID:  "req-1",
		CustomerID: "cust-1",
		Operation:  "transfer",
		Stage:      model.StageBuild,
		Code:       "OK",
		TxHash:     "ab",
		Fee:        170_000,
		Inputs:     2,
		At:         time.Unix(1700000000, 0),
	}

	tests := []struct {
		name    string
		events  []model.AuditEvent
		setup   func(t *testing.T) *Repository
		wantErr bool
	}{
		{
			name:   "empty input still records metrics",
			events: nil,
			setup: func(t *testing.T) *Repository {
				ctrl := gomock.NewController(t)
				t.Cleanup(ctrl.Finish)

				mockMetrics := NewMockMetrics(ctrl)
				mockMetrics.EXPECT().
					Observe("insert_audit_events", 0, nil, gomock.AssignableToTypeOf(time.Time{}))

				return &Repository{conn: nil, metrics: mockMetrics}
			},
		},
		{
			name:   "prepare batch error",
			events: []model.AuditEvent{event},
			setup: func(t *testing.T) *Repository {
				ctrl := gomock.NewController(t)
				t.Cleanup(ctrl.Finish)

				mockConn := NewMockConn(ctrl)
				mockMetrics := NewMockMetrics(ctrl)
				prepareErr := errors.New("prepare failed")

				gomock.InOrder(
					mockConn.EXPECT().
						PrepareBatch(ctx, insertAuditEventsQuery).
						Return(nil, prepareErr),
					mockMetrics.EXPECT().
						Observe("insert_audit_events", 1, gomock.Any(), gomock.AssignableToTypeOf(time.Time{})).
						Do(func(_ string, _ int, err error, _ time.Time) {
							if !errors.Is(err, prepareErr) {
								t.Fatalf("unexpected error in metrics: %v", err)
							}
						}),
				)

				return &Repository{conn: mockConn, metrics: mockMetrics}
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.setup(t)
			err := r.InsertAuditEvents(ctx, tt.events)
			if (err != nil) != tt.wantErr {
				t.Fatalf("InsertAuditEvents() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRepository_Ping(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockConn := NewMockConn(ctrl)
	mockMetrics := NewMockMetrics(ctrl)
	pingErr := errors.New("connection refused")

	mockConn.EXPECT().Ping(gomock.Any()).Return(pingErr)
	mockMetrics.EXPECT().Observe("ping", 0, pingErr, gomock.AssignableToTypeOf(time.Time{}))

	r := &Repository{conn: mockConn, metrics: mockMetrics}
	if err := r.Ping(context.Background()); !errors.Is(err, pingErr) {
		t.Fatalf("Ping() error = %v, want %v", err, pingErr)
	}
}

func TestNewRepositoryValidatesInput(t *testing.T) {
	if _, err := NewRepository("", nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := NewRepository("clickhouse://localhost:9000/default", nil); err == nil {
		t.Fatal("expected error for missing metrics")
	}
}
