package node

import (
	"encoding/json"
	"time"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// RawRequester issues one JSON-RPC call to the ledger gateway.
	RawRequester interface {
		RawRequest(method string, params []json.RawMessage) (json.RawMessage, error)
	}
	// RPCMetrics records metrics for RPC calls.
	RPCMetrics interface {
		Observe(operation string, err error, started time.Time)
	}
)
