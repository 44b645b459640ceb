package dispatcher

import (
	"context"
	"time"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Builder interface {
		Build(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error)
	}
	Finalizer interface {
		Finalize(ctx context.Context, family model.Family, req model.FinalizeRequest) (model.FinalizeResult, error)
	}
	// Identity checks a customer's bearer token with the external identity provider.
	Identity interface {
		VerifyUser(ctx context.Context, customerID, token string) (bool, error)
	}
	Metrics interface {
		ObserveCommand(command, code string, started time.Time)
	}
)
