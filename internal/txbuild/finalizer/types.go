package finalizer

import (
	"context"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	ArtifactStore interface {
		Load(ctx context.Context, requestID string) (model.Artifact, error)
		Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
		Unclaim(ctx context.Context, requestID string) error
		MarkFinalized(ctx context.Context, requestID, txHash string) error
		Delete(ctx context.Context, requestID string) error
		Finalized(ctx context.Context, requestID string) (string, bool, error)
	}
	Reservations interface {
		Release(ctx context.Context, requestID string) error
	}
	// Submitter hands a signed transaction to the ledger and returns its hash.
	Submitter interface {
		Submit(ctx context.Context, tx []byte) (string, error)
	}
	// Custody signs with keys the service holds on behalf of a policy.
	Custody interface {
		FetchSecret(ctx context.Context, name string) ([]byte, error)
		SignWithCustodialKey(ctx context.Context, keyID string, message []byte) (ledger.VKeyWitness, error)
	}
	Auditor interface {
		Record(ctx context.Context, e model.AuditEvent)
	}
	Metrics interface {
		Observe(family, code string)
	}
)
