// Package assembler plans, balances and fee-iterates unsigned transactions,
// reserves their inputs and persists them for a later finalize.
package assembler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Assembler builds transactions for client requests.
type Assembler struct {
	ledger       LedgerReader
	reservations Reservations
	artifacts    ArtifactStore
	evaluator    ScriptEvaluator
	metrics      Metrics
	auditor      Auditor
	clock        clock.Clock
	cfg          Config
	logger       *zap.Logger
}

// New constructs an Assembler. auditor, clk and logger may be nil.
func New(
	ledger LedgerReader,
	reservations Reservations,
	artifacts ArtifactStore,
	evaluator ScriptEvaluator,
	metrics Metrics,
	auditor Auditor,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Assembler, error) {
	if ledger == nil {
		return nil, errors.New("ledger reader is required")
	}
	if reservations == nil {
		return nil, errors.New("reservation store is required")
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if evaluator == nil {
		return nil, errors.New("script evaluator is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics is required")
	}
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		ledger:       ledger,
		reservations: reservations,
		artifacts:    artifacts,
		evaluator:    evaluator,
		metrics:      metrics,
		auditor:      auditor,
		clock:        clk,
		cfg:          cfg.withDefaults(),
		logger:       logger.Named("assembler"),
	}, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, model.AuditEvent) {}

// Build plans the request, reserves the chosen inputs and stores the unsigned
// transaction under the request id.
func (a *Assembler) Build(ctx context.Context, req model.TransactionRequest) (result model.BuildResult, err error) {
	started := time.Now()
	var (
		rounds   int
		attempts int
	)
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	defer func() {
		a.metrics.ObserveBuild(string(req.Operation), model.CodeLabel(err), rounds, attempts, started)
		a.auditor.Record(context.WithoutCancel(ctx), model.AuditEvent{
			RequestID:  req.RequestID,
			CustomerID: req.CustomerID,
			Operation:  string(req.Operation),
			Stage:      model.StageBuild,
			Code:       model.Code(model.CodeLabel(err)),
			TxHash:     result.TxHash,
			Fee:        result.Fee,
			Inputs:     len(result.Consumed),
			At:         a.clock.Now(),
		})
	}()

	if err := req.Validate(); err != nil {
		return model.BuildResult{}, err
	}
	logger := a.logger.With(zap.String("request_id", req.RequestID), zap.String("operation", string(req.Operation)))

	if err := a.open(ctx, req.RequestID); err != nil {
		return model.BuildResult{}, err
	}
	saved := false
	defer func() {
		if saved {
			return
		}
		if derr := a.discard(context.WithoutCancel(ctx), req.RequestID); derr != nil {
			logger.Error("discard request id after failed build", zap.Error(derr))
		}
	}()

	p, err := a.resolve(ctx, req)
	if err != nil {
		return model.BuildResult{}, err
	}
	slot, candidates, err := a.snapshot(ctx, req.SourceAddresses)
	if err != nil {
		return model.BuildResult{}, err
	}

	locked := make(map[model.OutputRef]bool)
	if p.script != nil {
		for _, in := range p.script.inputs {
			locked[in.Ref] = true
		}
	}
	excluded := make(map[model.OutputRef]bool)

	var b *built
	for attempts = 1; attempts <= a.cfg.MaxReserveAttempts; attempts++ {
		pool := make([]model.Output, 0, len(candidates))
		for _, c := range candidates {
			if !excluded[c.Ref] && !locked[c.Ref] {
				pool = append(pool, c)
			}
		}
		b, err = a.assemble(ctx, p, pool, slot)
		if err != nil {
			return model.BuildResult{}, err
		}
		rounds = b.rounds

		err = a.reserve(ctx, b.consumed(), req.RequestID)
		if err == nil {
			break
		}
		b = nil
		var conflict *model.ConflictError
		if !errors.As(err, &conflict) {
			return model.BuildResult{}, err
		}
		for _, ref := range conflict.Held {
			if locked[ref] {
				return model.BuildResult{}, err
			}
			excluded[ref] = true
		}
		logger.Info("inputs held by another request, reselecting",
			zap.Int("attempt", attempts),
			zap.Strings("held", model.RefStrings(conflict.Held)),
		)
	}
	if b == nil {
		attempts = a.cfg.MaxReserveAttempts
		return model.BuildResult{}, fmt.Errorf("inputs held by concurrent requests after %d attempts: %w", attempts, model.ErrInsufficientFunds)
	}

	now := a.clock.Now()
	hash := hex.EncodeToString(b.hash)
	consumed := b.consumed()
	artifact := model.Artifact{
		RequestID:        req.RequestID,
		CustomerID:       req.CustomerID,
		OperationTag:     req.Operation.Tag(),
		Body:             b.body,
		Witnesses:        b.witnesses,
		AuxData:          b.tx.AuxData,
		Consumed:         consumed,
		TxHash:           hash,
		Fee:              b.tx.Body.Fee,
		CustodialSigners: p.custodial,
		CreatedAt:        now,
	}
	if err := a.persist(ctx, artifact); err != nil {
		if rerr := a.release(context.WithoutCancel(ctx), req.RequestID); rerr != nil {
			logger.Error("release after failed persist", zap.Error(rerr))
		}
		return model.BuildResult{}, err
	}
	saved = true

	raw, err := ledger.AssembleTx(b.body, b.witnesses, b.tx.AuxData)
	if err != nil {
		return model.BuildResult{}, err
	}
	logger.Info("transaction built",
		zap.String("tx_hash", hash),
		zap.Uint64("fee", b.tx.Body.Fee),
		zap.Int("inputs", len(consumed)),
		zap.Int("fee_rounds", rounds),
	)
	return model.BuildResult{
		RequestID:  req.RequestID,
		TxHash:     hash,
		Fee:        b.tx.Body.Fee,
		UnsignedTx: hex.EncodeToString(raw),
		Consumed:   consumed,
		ExUnits:    b.units,
		ExpiresAt:  now.Add(a.cfg.ReservationTTL),
	}, nil
}

// snapshot reads the current slot and the spendable outputs, sorted by reference.
func (a *Assembler) snapshot(ctx context.Context, addresses []string) (uint64, []model.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LedgerTimeout)
	defer cancel()

	slot, err := a.ledger.CurrentSlot(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("current slot: %w", err)
	}
	outs, err := a.ledger.SpendableOutputs(ctx, addresses)
	if err != nil {
		return 0, nil, fmt.Errorf("spendable outputs: %w", err)
	}
	sortOutputs(outs)
	return slot, outs, nil
}

func (a *Assembler) reserve(ctx context.Context, refs []model.OutputRef, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	return a.reservations.Reserve(ctx, refs, requestID, a.cfg.ReservationTTL)
}

func (a *Assembler) release(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	return a.reservations.Release(ctx, requestID)
}

// open claims the request id for this build. An id that already has an
// artifact or a finalize record cannot be built again.
func (a *Assembler) open(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	ok, err := a.artifacts.Open(ctx, requestID, a.cfg.ReservationTTL)
	if err != nil {
		return fmt.Errorf("open request id: %w", err)
	}
	if !ok {
		return model.Validation("request id %s is already in use", requestID)
	}
	return nil
}

func (a *Assembler) discard(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	return a.artifacts.Delete(ctx, requestID)
}

func (a *Assembler) persist(ctx context.Context, artifact model.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.artifacts.Save(ctx, artifact, a.cfg.ReservationTTL); err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}
	return nil
}
