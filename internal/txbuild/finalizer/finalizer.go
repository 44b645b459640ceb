// Package finalizer attaches signatures to built transactions and submits them.
package finalizer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/clock"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const (
	DefaultClaimTTL      = 2 * time.Minute
	DefaultStoreTimeout  = 3 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
)

// Config tunes the finalizer.
type Config struct {
	// ClaimTTL bounds how long a crashed finalize blocks a retry.
	ClaimTTL      time.Duration
	StoreTimeout  time.Duration
	SubmitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	return c
}

// Finalizer verifies client signatures against a stored artifact, adds
// custodial signatures and submits the result exactly once per request.
type Finalizer struct {
	artifacts    ArtifactStore
	reservations Reservations
	submitter    Submitter
	custody      Custody
	metrics      Metrics
	auditor      Auditor
	clock        clock.Clock
	cfg          Config
	logger       *zap.Logger
}

// New constructs a Finalizer. custody may be nil when no policy keys are held.
func New(
	artifacts ArtifactStore,
	reservations Reservations,
	submitter Submitter,
	custody Custody,
	metrics Metrics,
	auditor Auditor,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Finalizer, error) {
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if reservations == nil {
		return nil, errors.New("reservation store is required")
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
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
	return &Finalizer{
		artifacts:    artifacts,
		reservations: reservations,
		submitter:    submitter,
		custody:      custody,
		metrics:      metrics,
		auditor:      auditor,
		clock:        clk,
		cfg:          cfg.withDefaults(),
		logger:       logger.Named("finalizer"),
	}, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, model.AuditEvent) {}

// Finalize signs and submits the artifact built for req.RequestID. family is
// the command family the request arrived on and must match the build.
func (f *Finalizer) Finalize(ctx context.Context, family model.Family, req model.FinalizeRequest) (result model.FinalizeResult, err error) {
	var art model.Artifact
	defer func() {
		f.metrics.Observe(string(family), model.CodeLabel(err))
		f.auditor.Record(context.WithoutCancel(ctx), model.AuditEvent{
			RequestID:  req.RequestID,
			CustomerID: art.CustomerID,
			Operation:  string(family),
			Stage:      model.StageFinalize,
			Code:       model.Code(model.CodeLabel(err)),
			TxHash:     result.TxHash,
			Fee:        art.Fee,
			Inputs:     len(art.Consumed),
			At:         f.clock.Now(),
		})
	}()

	if err := req.Validate(); err != nil {
		return model.FinalizeResult{}, err
	}
	logger := f.logger.With(zap.String("request_id", req.RequestID), zap.String("family", string(family)))

	if err := f.checkFinalized(ctx, req.RequestID); err != nil {
		return model.FinalizeResult{}, err
	}
	claimed, err := f.claim(ctx, req.RequestID)
	if err != nil {
		return model.FinalizeResult{}, err
	}
	if !claimed {
		if err := f.checkFinalized(ctx, req.RequestID); err != nil {
			return model.FinalizeResult{}, err
		}
		return model.FinalizeResult{}, &model.AlreadyFinalizedError{RequestID: req.RequestID}
	}

	keepClaim := false
	defer func() {
		if keepClaim {
			return
		}
		if uerr := f.unclaim(context.WithoutCancel(ctx), req.RequestID); uerr != nil {
			logger.Warn("drop finalize claim", zap.Error(uerr))
		}
	}()

	if art, err = f.load(ctx, req.RequestID); err != nil {
		return model.FinalizeResult{}, err
	}
	if got := art.OperationTag.Family(); got != family {
		return model.FinalizeResult{}, model.Validation("request %s was built as %s, not %s", req.RequestID, got, family)
	}

	raw, txHash, err := f.sign(ctx, art, req)
	if err != nil {
		return model.FinalizeResult{}, err
	}

	submitted, err := f.submit(ctx, raw)
	if err != nil {
		// the transaction may have reached the ledger; keep the claim until it expires
		keepClaim = model.CodeOf(err) == model.CodeTimeout
		return model.FinalizeResult{}, fmt.Errorf("submit: %w", err)
	}
	keepClaim = true
	if submitted != "" && submitted != txHash {
		logger.Warn("ledger reported a different hash", zap.String("tx_hash", txHash), zap.String("submitted", submitted))
	}

	detached := context.WithoutCancel(ctx)
	if err := f.markFinalized(detached, req.RequestID, txHash); err != nil {
		logger.Error("record finalized transaction", zap.String("tx_hash", txHash), zap.Error(err))
		// a retry after the claim expires must not find the artifact again
		if derr := f.discard(detached, req.RequestID); derr != nil {
			logger.Error("drop submitted artifact", zap.String("tx_hash", txHash), zap.Error(derr))
		}
	}
	if err := f.release(detached, req.RequestID); err != nil {
		logger.Warn("release reservations", zap.Error(err))
	}
	logger.Info("transaction submitted", zap.String("tx_hash", txHash))
	return model.FinalizeResult{RequestID: req.RequestID, TxHash: txHash}, nil
}

// sign verifies the supplied witnesses over the stored body hash, adds the
// custodial ones and returns the serialized transaction.
func (f *Finalizer) sign(ctx context.Context, art model.Artifact, req model.FinalizeRequest) ([]byte, string, error) {
	hash := ledger.Blake2b256(art.Body)
	txHash := hex.EncodeToString(hash)
	if req.TxHash != "" && req.TxHash != txHash {
		return nil, "", fmt.Errorf("client signed %s, body hashes to %s: %w", req.TxHash, txHash, model.ErrSignatureMismatch)
	}

	supplied, err := suppliedWitnesses(req)
	if err != nil {
		return nil, "", err
	}
	for i, w := range supplied {
		if len(w.VKey) != ed25519.PublicKeySize || len(w.Signature) != ed25519.SignatureSize ||
			!ed25519.Verify(ed25519.PublicKey(w.VKey), hash, w.Signature) {
			return nil, "", fmt.Errorf("witness %d (%x): %w", i, w.VKey, model.ErrSignatureMismatch)
		}
	}

	if len(art.CustodialSigners) > 0 {
		if f.custody == nil {
			return nil, "", model.Errorf(model.CodeInternal, "request needs custodial signatures but no custody is configured")
		}
		for _, keyID := range art.CustodialSigners {
			w, err := f.custody.SignWithCustodialKey(ctx, keyID, hash)
			if err != nil {
				return nil, "", fmt.Errorf("custodial signature %s: %w", keyID, err)
			}
			supplied = append(supplied, w)
		}
	}

	ws, err := ledger.DecodeWitnessSet(art.Witnesses)
	if err != nil {
		return nil, "", model.Wrap(model.CodeInternal, err, "stored witness set")
	}
	ws.VKeyWitnesses = mergeWitnesses(ws.VKeyWitnesses, supplied)
	encoded, err := ledger.Marshal(ws)
	if err != nil {
		return nil, "", fmt.Errorf("encode witness set: %w", err)
	}
	raw, err := ledger.AssembleTx(art.Body, encoded, art.AuxData)
	if err != nil {
		return nil, "", err
	}
	return raw, txHash, nil
}

func suppliedWitnesses(req model.FinalizeRequest) ([]ledger.VKeyWitness, error) {
	var out []ledger.VKeyWitness
	for i, w := range req.Witnesses {
		vkey, err := hex.DecodeString(w.VKey)
		if err != nil {
			return nil, model.Validation("witnesses[%d]: vkey is not hex", i)
		}
		sig, err := hex.DecodeString(w.Signature)
		if err != nil {
			return nil, model.Validation("witnesses[%d]: signature is not hex", i)
		}
		out = append(out, ledger.VKeyWitness{VKey: vkey, Signature: sig})
	}
	if req.WitnessSet != "" {
		raw, err := hex.DecodeString(req.WitnessSet)
		if err != nil {
			return nil, model.Validation("witness_set is not hex")
		}
		ws, err := ledger.DecodeWitnessSet(raw)
		if err != nil {
			return nil, model.Wrap(model.CodeValidation, err, "witness_set")
		}
		out = append(out, ws.VKeyWitnesses...)
	}
	if len(out) == 0 {
		return nil, model.Validation("no vkey witnesses supplied")
	}
	return out, nil
}

// mergeWitnesses appends extra to base, one witness per verification key.
func mergeWitnesses(base, extra []ledger.VKeyWitness) []ledger.VKeyWitness {
	out := append([]ledger.VKeyWitness(nil), base...)
	for _, w := range extra {
		dup := false
		for _, have := range out {
			if bytes.Equal(have.VKey, w.VKey) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, w)
		}
	}
	return out
}

func (f *Finalizer) checkFinalized(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	hash, found, err := f.artifacts.Finalized(ctx, requestID)
	if err != nil {
		return fmt.Errorf("finalized lookup: %w", err)
	}
	if found {
		return &model.AlreadyFinalizedError{RequestID: requestID, TxHash: hash}
	}
	return nil
}

func (f *Finalizer) claim(ctx context.Context, requestID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	ok, err := f.artifacts.Claim(ctx, requestID, f.cfg.ClaimTTL)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	return ok, nil
}

func (f *Finalizer) unclaim(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	return f.artifacts.Unclaim(ctx, requestID)
}

func (f *Finalizer) load(ctx context.Context, requestID string) (model.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	return f.artifacts.Load(ctx, requestID)
}

func (f *Finalizer) submit(ctx context.Context, raw []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.SubmitTimeout)
	defer cancel()
	return f.submitter.Submit(ctx, raw)
}

func (f *Finalizer) markFinalized(ctx context.Context, requestID, txHash string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	return f.artifacts.MarkFinalized(ctx, requestID, txHash)
}

func (f *Finalizer) discard(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	return f.artifacts.Delete(ctx, requestID)
}

func (f *Finalizer) release(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()
	return f.reservations.Release(ctx, requestID)
}
