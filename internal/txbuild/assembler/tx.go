package assembler

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/pkg/safe"
)

// built is a balanced, fee-converged transaction.
type built struct {
	tx         *ledger.Tx
	body       []byte
	witnesses  []byte
	hash       []byte
	inputs     []model.Output
	collateral []model.Output
	units      model.ExUnits
	rounds     int
}

func (b *built) consumed() []model.OutputRef {
	refs := make([]model.OutputRef, len(b.inputs))
	for i, in := range b.inputs {
		refs[i] = in.Ref
	}
	return refs
}

// assemble selects inputs from pool and iterates the fee until it covers the
// size and execution cost of the transaction it pays for.
func (a *Assembler) assemble(ctx context.Context, p *plan, pool []model.Output, slot uint64) (*built, error) {
	ttl := slot + a.cfg.ValidityWindow
	if p.ttlLimit != 0 {
		if p.ttlLimit <= slot {
			return nil, model.Validation("policy locked at slot %d, current slot is %d", p.ttlLimit, slot)
		}
		ttl = min(ttl, p.ttlLimit)
	}
	aux, err := p.metadata.Bytes()
	if err != nil {
		return nil, model.Wrap(model.CodeValidation, err, "metadata")
	}

	have, err := p.available()
	if err != nil {
		return nil, err
	}
	spent, err := p.spent()
	if err != nil {
		return nil, err
	}

	minInputs := 1
	if p.script != nil && len(p.script.inputs) > 0 {
		minInputs = 0
	}

	var (
		units    model.ExUnits
		measured = make(map[model.OutputRef]model.ExUnits)
	)
	fee := a.cfg.Params.MinFee(0, units)
	for round := 1; round <= a.cfg.MaxFeeRounds; round++ {
		target, err := spent.Add(model.Lovelace(fee))
		if err != nil {
			return nil, err
		}
		cov, err := a.cover(pool, have, target, minInputs, p.change.Raw)
		if err != nil {
			return nil, err
		}
		b, err := a.draft(p, cov, pool, fee, ttl, aux, measured)
		if err != nil {
			return nil, err
		}
		if p.script != nil {
			if units, err = a.evaluate(ctx, b, measured); err != nil {
				return nil, err
			}
		}

		signers, err := signerCount(p, b.inputs, b.collateral)
		if err != nil {
			return nil, err
		}
		size, err := b.tx.SizeWithSigners(signers)
		if err != nil {
			return nil, err
		}
		if size > a.cfg.Params.MaxTxSize {
			return nil, model.Validation("transaction size %d exceeds maximum %d", size, a.cfg.Params.MaxTxSize)
		}
		required := a.cfg.Params.MinFee(size, units)
		if required <= b.tx.Body.Fee && fee <= required+a.cfg.FeeTolerance {
			if err := checkBalance(p, b.inputs, b.tx.Body); err != nil {
				return nil, err
			}
			return a.seal(b, units, round)
		}
		fee = required
	}
	return nil, fmt.Errorf("after %d rounds at fee %d: %w", a.cfg.MaxFeeRounds, fee, model.ErrFeeConvergence)
}

// draft builds the transaction for one fee round.
func (a *Assembler) draft(p *plan, cov coverage, pool []model.Output, fee, ttl uint64, aux []byte, measured map[model.OutputRef]model.ExUnits) (*built, error) {
	inputs := append([]model.Output(nil), cov.selected...)
	if p.script != nil {
		inputs = append(inputs, p.script.inputs...)
	}
	sortOutputs(inputs)

	outputs := append([]ledger.Output(nil), p.outputs...)
	if !cov.change.IsZero() {
		amount, err := ledger.AmountFromValue(cov.change)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, ledger.Output{Address: p.change.Raw, Amount: amount})
	}

	tx := &ledger.Tx{
		Body: ledger.Body{
			Inputs:       inputRefs(inputs),
			Outputs:      outputs,
			Fee:          fee + cov.dust,
			TTL:          ttl,
			Certificates: p.certificates,
			Withdrawals:  p.withdrawals,
			Mint:         p.mint,
		},
		Witnesses: ledger.WitnessSet{NativeScripts: p.nativeScripts},
		AuxData:   aux,
	}
	if len(aux) > 0 {
		tx.Body.AuxDataHash = ledger.Blake2b256(aux)
	}
	b := &built{tx: tx, inputs: inputs}

	if p.script == nil {
		return b, nil
	}
	collateral, err := a.collateral(pool, a.cfg.Params.Collateral(tx.Body.Fee))
	if err != nil {
		return nil, err
	}
	b.collateral = collateral
	tx.Body.Collateral = inputRefs(collateral)
	tx.Witnesses.PlutusV2Scripts = [][]byte{p.script.script}
	tx.Witnesses.PlutusData = []cbor.RawMessage{p.script.datum}

	locked := make(map[model.OutputRef]bool, len(p.script.inputs))
	for _, in := range p.script.inputs {
		locked[in.Ref] = true
	}
	for i, in := range inputs {
		if !locked[in.Ref] {
			continue
		}
		index, err := safe.Uint32(i)
		if err != nil {
			return nil, model.Wrap(model.CodeInternal, err, "redeemer index")
		}
		u := measured[in.Ref]
		tx.Witnesses.Redeemers = append(tx.Witnesses.Redeemers, ledger.Redeemer{
			Tag:     ledger.RedeemerSpend,
			Index:   index,
			Data:    p.script.redeemer,
			ExUnits: ledger.ExUnits{Mem: u.Mem, Steps: u.Steps},
		})
	}
	if err := a.commitScriptData(tx); err != nil {
		return nil, err
	}
	return b, nil
}

func (a *Assembler) commitScriptData(tx *ledger.Tx) error {
	h, err := ledger.ScriptDataHash(tx.Witnesses.Redeemers, tx.Witnesses.PlutusData, a.cfg.Params.LanguageViews)
	if err != nil {
		return err
	}
	tx.Body.ScriptDataHash = h
	return nil
}

// evaluate runs the redeemers, writes the measured budgets back into the
// witness set and returns their total.
func (a *Assembler) evaluate(ctx context.Context, b *built, measured map[model.OutputRef]model.ExUnits) (total model.ExUnits, err error) {
	started := time.Now()
	defer func() {
		a.metrics.ObserveEvaluation(err, started)
	}()

	resolved := make(map[model.OutputRef]model.Output, len(b.inputs))
	for _, in := range b.inputs {
		resolved[in.Ref] = in
	}
	res, err := a.evaluator.Evaluate(ctx, b.tx, resolved)
	if err != nil {
		return model.ExUnits{}, err
	}
	if res.Total.Mem > a.cfg.Params.MaxTxExUnits.Mem || res.Total.Steps > a.cfg.Params.MaxTxExUnits.Steps {
		return model.ExUnits{}, model.Errorf(model.CodeScriptFailure, "execution units %+v exceed the transaction limit", res.Total)
	}
	byIndex := make(map[uint32]model.ExUnits, len(res.Redeemers))
	for _, c := range res.Redeemers {
		byIndex[c.Index] = c.ExUnits
		if int(c.Index) < len(b.inputs) {
			measured[b.inputs[c.Index].Ref] = c.ExUnits
		}
	}
	for i, r := range b.tx.Witnesses.Redeemers {
		u := byIndex[r.Index]
		b.tx.Witnesses.Redeemers[i].ExUnits = ledger.ExUnits{Mem: u.Mem, Steps: u.Steps}
	}
	if err := a.commitScriptData(b.tx); err != nil {
		return model.ExUnits{}, err
	}
	return res.Total, nil
}

// seal encodes the converged transaction.
func (a *Assembler) seal(b *built, units model.ExUnits, rounds int) (*built, error) {
	body, err := b.tx.BodyBytes()
	if err != nil {
		return nil, err
	}
	witnesses, err := ledger.Marshal(b.tx.Witnesses)
	if err != nil {
		return nil, fmt.Errorf("encode witnesses: %w", err)
	}
	b.body = body
	b.witnesses = witnesses
	b.hash = ledger.Blake2b256(body)
	b.units = units
	b.rounds = rounds
	return b, nil
}

func inputRefs(outs []model.Output) []ledger.Input {
	refs := make([]ledger.Input, len(outs))
	for i, out := range outs {
		refs[i] = ledger.InputFromRef(out.Ref)
	}
	return refs
}

// signerCount is the number of distinct vkey witnesses the transaction will carry.
func signerCount(p *plan, inputs, collateral []model.Output) (int, error) {
	seen := make(map[string]bool)
	for _, list := range [][]model.Output{inputs, collateral} {
		for _, in := range list {
			addr, err := ledger.ParseAddress(in.Address)
			if err != nil {
				return 0, fmt.Errorf("input %s: %w", in.Ref, err)
			}
			if addr.PaymentIsScript() || addr.IsReward() {
				continue
			}
			seen[string(addr.Payment)] = true
		}
	}
	for _, h := range p.signers {
		seen[string(h)] = true
	}
	return len(seen), nil
}

// checkBalance verifies, per asset, that what the body consumes equals what it produces.
func checkBalance(p *plan, inputs []model.Output, body ledger.Body) error {
	consumed := model.Lovelace(p.refund)
	spent, err := safe.Sum(body.Fee, p.deposit)
	if err != nil {
		return model.Wrap(model.CodeBalanceInvariant, err, "fee and deposits")
	}
	produced := model.Lovelace(spent)

	for _, in := range inputs {
		if consumed, err = consumed.Add(in.Value); err != nil {
			return err
		}
	}
	for _, amount := range body.Withdrawals {
		if consumed, err = consumed.Add(model.Lovelace(amount)); err != nil {
			return err
		}
	}
	for policy, names := range body.Mint {
		for name, qty := range names {
			id := model.AssetID{Policy: hex.EncodeToString([]byte(policy)), Name: hex.EncodeToString([]byte(name))}
			if qty > 0 {
				n, _ := safe.Uint64(qty)
				consumed, err = consumed.Add(model.Value{}.WithAsset(id, n))
			} else {
				var n uint64
				if n, err = safe.Uint64(-qty); err == nil {
					produced, err = produced.Add(model.Value{}.WithAsset(id, n))
				}
			}
			if err != nil {
				return err
			}
		}
	}
	for _, out := range body.Outputs {
		if produced, err = produced.Add(out.Amount.Value()); err != nil {
			return err
		}
	}
	if !consumed.Equal(produced) {
		return fmt.Errorf("consumed %+v, produced %+v: %w", consumed, produced, model.ErrBalanceInvariant)
	}
	return nil
}
