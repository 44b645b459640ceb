// Package node talks to the ledger gateway over JSON-RPC: spendable outputs,
// the current slot, reward balances and transaction submission.
package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"go.uber.org/ratelimit"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Gateway method names.
const (
	methodSpendableOutputs = "getspendableoutputs"
	methodCurrentSlot      = "getcurrentslot"
	methodRewardBalance    = "getrewardbalance"
	methodSubmit           = "submittransaction"
)

// Client is an instrumented, rate limited ledger gateway client.
type Client struct {
	client     RawRequester
	rpcMetrics RPCMetrics
	limiter    ratelimit.Limiter
}

// NewClient constructs a Client. rps <= 0 disables rate limiting.
func NewClient(client RawRequester, rpcMetrics RPCMetrics, rps int) (*Client, error) {
	if client == nil {
		return nil, errors.New("rpc client is required")
	}
	if rpcMetrics == nil {
		return nil, errors.New("rpc metrics is required")
	}
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	return &Client{client: client, rpcMetrics: rpcMetrics, limiter: limiter}, nil
}

// SpendableOutputs returns the unspent outputs locked by any of addresses.
func (c *Client) SpendableOutputs(ctx context.Context, addresses []string) (outs []model.Output, err error) {
	started := time.Now()
	defer func() {
		c.rpcMetrics.Observe("spendable_outputs", err, started)
	}()
	if err := c.call(ctx, methodSpendableOutputs, &outs, addresses); err != nil {
		return nil, err
	}
	for i, out := range outs {
		if err := out.Value.Validate(); err != nil {
			return nil, fmt.Errorf("output %s: %w", out.Ref, err)
		}
		if out.Address == "" {
			return nil, fmt.Errorf("output %d has no address", i)
		}
	}
	return outs, nil
}

// CurrentSlot returns the ledger tip slot.
func (c *Client) CurrentSlot(ctx context.Context) (slot uint64, err error) {
	started := time.Now()
	defer func() {
		c.rpcMetrics.Observe("current_slot", err, started)
	}()
	err = c.call(ctx, methodCurrentSlot, &slot)
	return slot, err
}

// RewardBalance returns the withdrawable rewards of a stake address in lovelace.
func (c *Client) RewardBalance(ctx context.Context, stakeAddress string) (balance uint64, err error) {
	started := time.Now()
	defer func() {
		c.rpcMetrics.Observe("reward_balance", err, started)
	}()
	err = c.call(ctx, methodRewardBalance, &balance, stakeAddress)
	return balance, err
}

// Submit sends a signed transaction and returns the hash the ledger assigned.
// A gateway rejection is reported as a validation error.
func (c *Client) Submit(ctx context.Context, tx []byte) (txHash string, err error) {
	started := time.Now()
	defer func() {
		c.rpcMetrics.Observe("submit", err, started)
	}()
	err = c.call(ctx, methodSubmit, &txHash, hex.EncodeToString(tx))
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return "", model.Wrap(model.CodeValidation, err, "ledger rejected transaction")
	}
	return txHash, err
}

// call runs one request. rpcclient has no context support, so an expired
// context abandons the call rather than interrupting it.
func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	raw := make([]json.RawMessage, len(params))
	for i, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s param %d: %w", method, i, err)
		}
		raw[i] = b
	}

	type response struct {
		body json.RawMessage
		err  error
	}
	done := make(chan response, 1)
	go func() {
		c.limiter.Take()
		if ctx.Err() != nil {
			done <- response{err: ctx.Err()}
			return
		}
		body, err := c.client.RawRequest(method, raw)
		done <- response{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%s: %w", method, r.err)
		}
		if err := json.Unmarshal(r.body, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}
