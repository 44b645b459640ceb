// Package reservation tracks which unspent outputs are held by in-flight build
// requests so that no output is handed to two unsigned transactions.
package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Store reserves outputs for a request.
//
// Reserve is all-or-nothing: when any id is live-held by a different request
// nothing is written and a *model.ConflictError lists the held ids. Ids already
// held by the same request are refreshed. Release drops every id the request
// holds and is idempotent.
type Store interface {
	Reserve(ctx context.Context, ids []model.OutputRef, requestID string, ttl time.Duration) error
	Release(ctx context.Context, requestID string) error
	Owner(ctx context.Context, id model.OutputRef) (string, bool, error)
}

var (
	errEmptyRequest = errors.New("request id is required")
	errBadTTL       = errors.New("reservation ttl must be positive")
	errBadRequestID = errors.New("request id must not contain NUL")
)

func validate(ids []model.OutputRef, requestID string, ttl time.Duration) error {
	if requestID == "" {
		return model.Wrap(model.CodeValidation, errEmptyRequest, "reserve")
	}
	// NUL separates the request id from the output ref in index keys
	if strings.IndexByte(requestID, 0) >= 0 {
		return model.Wrap(model.CodeValidation, errBadRequestID, "reserve")
	}
	if ttl <= 0 {
		return model.Wrap(model.CodeValidation, errBadTTL, "reserve")
	}
	return nil
}

// dedupe returns ids without repeats, keeping first occurrence order.
func dedupe(ids []model.OutputRef) []model.OutputRef {
	seen := make(map[model.OutputRef]struct{}, len(ids))
	out := make([]model.OutputRef, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
