package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Service routes typed commands to the assembler, finalizer and identity provider.
type Service struct {
	builder   Builder
	finalizer Finalizer
	identity  Identity
}

var _ Handler = (*Service)(nil)

// NewService constructs a Service from its collaborators.
func NewService(builder Builder, finalizer Finalizer, identity Identity) (*Service, error) {
	if builder == nil {
		return nil, errors.New("builder is required")
	}
	if finalizer == nil {
		return nil, errors.New("finalizer is required")
	}
	if identity == nil {
		return nil, errors.New("identity is required")
	}
	return &Service{builder: builder, finalizer: finalizer, identity: identity}, nil
}

func (s *Service) BuildStdTx(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error) {
	return s.builder.Build(ctx, req)
}

func (s *Service) BuildMultiSig(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error) {
	return s.builder.Build(ctx, req)
}

func (s *Service) BuildContract(ctx context.Context, req model.TransactionRequest) (model.BuildResult, error) {
	return s.builder.Build(ctx, req)
}

func (s *Service) FinalizeStdTx(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error) {
	return s.finalizer.Finalize(ctx, model.FamilyStd, req)
}

func (s *Service) FinalizeMultiSig(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error) {
	return s.finalizer.Finalize(ctx, model.FamilyMultiSig, req)
}

func (s *Service) FinalizeContract(ctx context.Context, req model.FinalizeRequest) (model.FinalizeResult, error) {
	return s.finalizer.Finalize(ctx, model.FamilyContract, req)
}

// VerifyUser returns nil when the token is valid and ErrUnauthorized when the
// provider rejects it.
func (s *Service) VerifyUser(ctx context.Context, req model.VerifyUserRequest) error {
	ok, err := s.identity.VerifyUser(ctx, req.CustomerID, req.Token)
	if err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if !ok {
		return fmt.Errorf("customer %s: %w", req.CustomerID, model.ErrUnauthorized)
	}
	return nil
}
