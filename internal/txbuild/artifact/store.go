// Package artifact persists unsigned transactions between build and finalize.
package artifact

import (
	"context"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Store keeps artifacts keyed by request id.
//
// Open reserves a request id for one build: it reports false when the id
// already has a pending or saved artifact or a finalize record. Load treats an
// opened but unsaved id as not found.
//
// Claim takes the per-request finalize lock; it reports false when another
// finalize holds it. MarkFinalized records the submitted hash, deletes the
// artifact and drops the claim in one step.
type Store interface {
	Open(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, a model.Artifact, ttl time.Duration) error
	Load(ctx context.Context, requestID string) (model.Artifact, error)
	Delete(ctx context.Context, requestID string) error
	Claim(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
	Unclaim(ctx context.Context, requestID string) error
	MarkFinalized(ctx context.Context, requestID, txHash string) error
	Finalized(ctx context.Context, requestID string) (string, bool, error)
}

// DefaultFinalizedRetention is how long finalize results are remembered.
const DefaultFinalizedRetention = 72 * time.Hour
