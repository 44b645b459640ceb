package server

import (
	"context"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/protocol"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Handler answers one command frame.
	Handler interface {
		Handle(ctx context.Context, f protocol.Frame) protocol.Frame
	}
	Metrics interface {
		ConnectionOpened()
		ConnectionClosed(reason string)
	}
)
