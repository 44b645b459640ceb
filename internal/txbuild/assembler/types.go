package assembler

import (
	"context"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/evaluator"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	LedgerReader interface {
		SpendableOutputs(ctx context.Context, addresses []string) ([]model.Output, error)
		CurrentSlot(ctx context.Context) (uint64, error)
		RewardBalance(ctx context.Context, stakeAddress string) (uint64, error)
	}
	Reservations interface {
		Reserve(ctx context.Context, ids []model.OutputRef, requestID string, ttl time.Duration) error
		Release(ctx context.Context, requestID string) error
	}
	ArtifactStore interface {
		Open(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
		Save(ctx context.Context, a model.Artifact, ttl time.Duration) error
		Delete(ctx context.Context, requestID string) error
	}
	ScriptEvaluator interface {
		Evaluate(ctx context.Context, tx *ledger.Tx, resolved map[model.OutputRef]model.Output) (evaluator.Result, error)
	}
	Auditor interface {
		Record(ctx context.Context, e model.AuditEvent)
	}
	Metrics interface {
		ObserveBuild(operation, code string, feeRounds, reserveAttempts int, started time.Time)
		ObserveEvaluation(err error, started time.Time)
	}
)
