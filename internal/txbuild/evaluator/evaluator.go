package evaluator

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"runtime"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/pkg/workerpool"
)

// Evaluator prices the redeemers of a transaction. It holds no mutable state
// and is safe for concurrent use.
type Evaluator struct {
	costs   CostModel
	limit   model.ExUnits
	workers int
}

// New returns an evaluator charging costs against limit per transaction.
func New(costs CostModel, limit model.ExUnits) *Evaluator {
	return &Evaluator{costs: costs, limit: limit, workers: runtime.GOMAXPROCS(0)}
}

// RedeemerCost is the measured budget of one redeemer.
type RedeemerCost struct {
	Tag     ledger.RedeemerTag
	Index   uint32
	ExUnits model.ExUnits
	Traces  []string
}

// Result is the per-redeemer and total cost of a transaction.
type Result struct {
	Redeemers []RedeemerCost
	Total     model.ExUnits
}

type job struct {
	redeemer ledger.Redeemer
	script   []byte
	datum    []byte
	ctx      Data
}

type outcome struct {
	cost RedeemerCost
	err  error
}

// Evaluate runs every redeemer of tx. resolved must contain the outputs spent
// by spend redeemers. Only spend redeemers are supported.
func (e *Evaluator) Evaluate(ctx context.Context, tx *ledger.Tx, resolved map[model.OutputRef]model.Output) (Result, error) {
	redeemers := tx.Witnesses.Redeemers
	for i, r := range redeemers {
		if r.Tag != ledger.RedeemerSpend {
			return Result{}, fmt.Errorf("redeemer %d (%s:%d): %w", i, r.Tag, r.Index, model.ErrUnsupportedRedeemerPurpose)
		}
	}
	if len(redeemers) == 0 {
		return Result{}, nil
	}

	txHash, err := tx.Hash()
	if err != nil {
		return Result{}, fmt.Errorf("hash transaction: %w", err)
	}
	inputs := sortedInputs(tx.Body.Inputs)
	scripts := make(map[string][]byte, len(tx.Witnesses.PlutusV2Scripts))
	for _, s := range tx.Witnesses.PlutusV2Scripts {
		scripts[hex.EncodeToString(ledger.PlutusScriptHash(s))] = s
	}
	datums := make(map[string][]byte, len(tx.Witnesses.PlutusData))
	for _, d := range tx.Witnesses.PlutusData {
		datums[hex.EncodeToString(ledger.Blake2b256(d))] = d
	}
	info := txInfo(tx, inputs, txHash)

	jobs := make([]job, len(redeemers))
	for i, r := range redeemers {
		if int(r.Index) >= len(inputs) {
			return Result{}, model.Validation("spend redeemer %d points past %d inputs", r.Index, len(inputs))
		}
		in := inputs[r.Index]
		ref, err := refOf(in)
		if err != nil {
			return Result{}, err
		}
		out, ok := resolved[ref]
		if !ok {
			return Result{}, model.Validation("spend redeemer %d: input %s not resolved", r.Index, ref)
		}
		addr, err := ledger.ParseAddress(out.Address)
		if err != nil {
			return Result{}, err
		}
		if !addr.PaymentIsScript() {
			return Result{}, model.Validation("spend redeemer %d: input %s is not locked by a script", r.Index, ref)
		}
		script, ok := scripts[hex.EncodeToString(addr.Payment)]
		if !ok {
			return Result{}, model.Validation("spend redeemer %d: script %x not in witness set", r.Index, addr.Payment)
		}
		datum, ok := datums[out.DatumHash]
		if out.DatumHash == "" || !ok {
			return Result{}, model.Validation("spend redeemer %d: datum %q not in witness set", r.Index, out.DatumHash)
		}
		jobs[i] = job{
			redeemer: r,
			script:   script,
			datum:    datum,
			ctx:      Constr{Index: 0, Fields: []Data{info, Constr{Index: 1, Fields: []Data{outRefData(in)}}}},
		}
	}

	outcomes, err := workerpool.Map(ctx, e.workers, jobs, func(_ context.Context, j job) (outcome, error) {
		cost, err := e.run(j)
		return outcome{cost: cost, err: err}, nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Redeemers: make([]RedeemerCost, len(outcomes))}
	for i, o := range outcomes {
		if o.err != nil {
			return Result{}, o.err
		}
		res.Redeemers[i] = o.cost
		res.Total = res.Total.Add(o.cost.ExUnits)
	}
	if res.Total.Mem > e.limit.Mem || res.Total.Steps > e.limit.Steps {
		return Result{}, model.Errorf(model.CodeScriptFailure, "transaction needs %d mem / %d steps, limit is %d / %d",
			res.Total.Mem, res.Total.Steps, e.limit.Mem, e.limit.Steps)
	}
	return res, nil
}

func (e *Evaluator) run(j job) (RedeemerCost, error) {
	cost := RedeemerCost{Tag: j.redeemer.Tag, Index: j.redeemer.Index}
	label := fmt.Sprintf("redeemer %s:%d", j.redeemer.Tag, j.redeemer.Index)

	prog, err := DecodeProgram(j.script)
	if err != nil {
		return cost, model.Wrap(model.CodeValidation, err, label)
	}
	datum, err := DecodeData(j.datum)
	if err != nil {
		return cost, model.Wrap(model.CodeValidation, err, label+" datum")
	}
	redeemer, err := DecodeData(j.redeemer.Data)
	if err != nil {
		return cost, model.Wrap(model.CodeValidation, err, label+" data")
	}

	applied := Apply{
		Fun: Apply{
			Fun: Apply{Fun: prog.Term, Arg: Const{Value: DataConst(datum)}},
			Arg: Const{Value: DataConst(redeemer)},
		},
		Arg: Const{Value: DataConst(j.ctx)},
	}
	m := newMachine(&e.costs, e.limit)
	_, err = m.run(applied)
	cost.ExUnits = m.spent
	cost.Traces = m.traces
	if err != nil {
		return cost, model.Wrap(model.CodeScriptFailure, err, label)
	}
	return cost, nil
}

// sortedInputs orders inputs the way spend redeemer indices refer to them.
func sortedInputs(in []ledger.Input) []ledger.Input {
	out := append([]ledger.Input(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].TxHash, out[j].TxHash); c != 0 {
			return c < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func refOf(in ledger.Input) (model.OutputRef, error) {
	var ref model.OutputRef
	if len(in.TxHash) != len(ref.TxHash) {
		return ref, model.Validation("input hash has %d bytes", len(in.TxHash))
	}
	copy(ref.TxHash[:], in.TxHash)
	ref.Index = in.Index
	return ref, nil
}

func outRefData(in ledger.Input) Data {
	return Constr{Fields: []Data{
		Constr{Fields: []Data{DataBytes(in.TxHash)}},
		DataInt{Value: new(big.Int).SetUint64(uint64(in.Index))},
	}}
}

// txInfo is the script view of the transaction: inputs, fee, validity upper
// bound, required signers and id.
func txInfo(tx *ledger.Tx, inputs []ledger.Input, txHash []byte) Data {
	ins := make(DataList, len(inputs))
	for i, in := range inputs {
		ins[i] = outRefData(in)
	}
	signers := make(DataList, len(tx.Body.RequiredSigners))
	for i, s := range tx.Body.RequiredSigners {
		signers[i] = DataBytes(s)
	}
	return Constr{Fields: []Data{
		ins,
		DataInt{Value: new(big.Int).SetUint64(tx.Body.Fee)},
		DataInt{Value: new(big.Int).SetUint64(tx.Body.TTL)},
		signers,
		Constr{Fields: []Data{DataBytes(txHash)}},
	}}
}

// CanonicalData decodes a hex encoded datum and re-encodes it canonically.
func CanonicalData(hexData string) (cbor.RawMessage, error) {
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return nil, model.Validation("malformed data hex: %v", err)
	}
	d, err := DecodeData(raw)
	if err != nil {
		return nil, model.Wrap(model.CodeValidation, err, "malformed data")
	}
	b, err := EncodeData(d)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(b), nil
}
