package assembler

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/evaluator"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
	"github.com/goodnatureofminers/txbuild7000-backend/pkg/safe"
)

// plan is everything an operation contributes to the transaction before input
// selection: what must be paid, minted, certified and witnessed.
type plan struct {
	outputs []ledger.Output
	paid    model.Value
	change  ledger.Address

	certificates []ledger.Certificate
	withdrawals  map[cbor.ByteString]uint64
	withdrawn    uint64
	deposit      uint64
	refund       uint64

	mint   ledger.Mint
	minted model.Value
	burned model.Value

	nativeScripts []cbor.RawMessage
	metadata      ledger.Metadata
	// signers are key hashes that must sign besides the owners of spent inputs.
	signers   [][]byte
	ttlLimit  uint64
	custodial []string

	script *scriptSpend
}

// scriptSpend is a plutus unlock: inputs locked at a script address, spent
// with one datum and redeemer.
type scriptSpend struct {
	inputs   []model.Output
	script   []byte
	datum    cbor.RawMessage
	redeemer cbor.RawMessage
}

// available is what the plan brings into the transaction besides selected inputs.
func (p *plan) available() (model.Value, error) {
	extra, err := safe.Add(p.withdrawn, p.refund)
	if err != nil {
		return model.Value{}, fmt.Errorf("withdrawals and refund: %w", err)
	}
	total, err := model.Lovelace(extra).Add(p.minted)
	if err != nil {
		return model.Value{}, err
	}
	if p.script != nil {
		for _, in := range p.script.inputs {
			if total, err = total.Add(in.Value); err != nil {
				return model.Value{}, err
			}
		}
	}
	return total, nil
}

// spent is what leaves through explicit outputs, burns and deposits, excluding fee and change.
func (p *plan) spent() (model.Value, error) {
	total, err := p.paid.Add(p.burned)
	if err != nil {
		return model.Value{}, err
	}
	return total.Add(model.Lovelace(p.deposit))
}

func (p *plan) addSigner(keyHash []byte) {
	for _, s := range p.signers {
		if bytes.Equal(s, keyHash) {
			return
		}
	}
	p.signers = append(p.signers, keyHash)
}

func (p *plan) limitTTL(slot uint64) {
	if p.ttlLimit == 0 || slot < p.ttlLimit {
		p.ttlLimit = slot
	}
}

// parseAddress decodes s and checks it belongs to the configured network.
func (a *Assembler) parseAddress(field, s string) (ledger.Address, error) {
	addr, err := ledger.ParseAddress(s)
	if err != nil {
		return ledger.Address{}, model.Wrap(model.CodeValidation, err, field)
	}
	if addr.NetworkID != a.cfg.NetworkID {
		return ledger.Address{}, model.Validation("%s: address %s is on network %d, want %d", field, s, addr.NetworkID, a.cfg.NetworkID)
	}
	if !addr.IsReward() && addr.HRP != a.cfg.AddressHRP {
		return ledger.Address{}, model.Validation("%s: address prefix %q, want %q", field, addr.HRP, a.cfg.AddressHRP)
	}
	return addr, nil
}

// payment appends an output paying value to addr after checking min-ADA.
func (a *Assembler) payment(p *plan, addr ledger.Address, value model.Value, datumHash []byte) error {
	amount, err := ledger.AmountFromValue(value)
	if err != nil {
		return err
	}
	out := ledger.Output{Address: addr.Raw, Amount: amount, DatumHash: datumHash}
	minCoin, err := a.cfg.Params.MinCoin(out)
	if err != nil {
		return err
	}
	if value.Coin < minCoin {
		return model.Validation("output to %s carries %d lovelace, minimum is %d", addr.String(), value.Coin, minCoin)
	}
	if p.paid, err = p.paid.Add(value); err != nil {
		return err
	}
	p.outputs = append(p.outputs, out)
	return nil
}

// resolve turns a validated request into a plan.
func (a *Assembler) resolve(ctx context.Context, req model.TransactionRequest) (*plan, error) {
	p := &plan{}

	changeAddr := req.ChangeAddress
	if changeAddr == "" {
		changeAddr = req.SourceAddresses[0]
	}
	change, err := a.parseAddress("change_address", changeAddr)
	if err != nil {
		return nil, err
	}
	p.change = change
	for i, s := range req.SourceAddresses {
		if _, err := a.parseAddress(fmt.Sprintf("source_addresses[%d]", i), s); err != nil {
			return nil, err
		}
	}

	for i, out := range req.Outputs {
		addr, err := a.parseAddress(fmt.Sprintf("outputs[%d]", i), out.Address)
		if err != nil {
			return nil, err
		}
		var datumHash []byte
		if out.DatumHash != "" {
			if datumHash, err = hex.DecodeString(out.DatumHash); err != nil || len(datumHash) != 32 {
				return nil, model.Validation("outputs[%d]: malformed datum_hash", i)
			}
		}
		if err := a.payment(p, addr, out.Value, datumHash); err != nil {
			return nil, err
		}
	}
	if len(req.Message) > 0 {
		p.metadata = ledger.Metadata{ledger.MetadataLabelMessage: ledger.MessageMetadata(req.Message)}
	}

	switch req.Operation {
	case model.OpDelegation:
		err = a.delegationPlan(p, req)
	case model.OpDeregistration:
		err = a.deregistrationPlan(ctx, p, req)
	case model.OpWithdrawal:
		err = a.withdrawalPlan(ctx, p, req)
	case model.OpMint, model.OpCollectionMint, model.OpOneShotMint:
		err = a.mintPlan(p, req)
	case model.OpContract:
		err = a.contractPlan(ctx, p, req)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a *Assembler) stakeCredential(p *plan, stakeAddress string) (ledger.Credential, ledger.Address, error) {
	addr, err := a.parseAddress("stake_address", stakeAddress)
	if err != nil {
		return ledger.Credential{}, ledger.Address{}, err
	}
	cred, err := ledger.StakeCredential(addr)
	if err != nil {
		return ledger.Credential{}, ledger.Address{}, model.Wrap(model.CodeValidation, err, "stake_address")
	}
	if cred.Script == 0 {
		p.addSigner(cred.Hash)
	}
	kind := ledger.AddressRewardKey
	if cred.Script == 1 {
		kind = ledger.AddressRewardScript
	}
	reward := ledger.NewAddress(ledger.RewardAddressHRP(a.cfg.AddressHRP), kind, a.cfg.NetworkID, nil, cred.Hash)
	return cred, reward, nil
}

func (a *Assembler) delegationPlan(p *plan, req model.TransactionRequest) error {
	cred, _, err := a.stakeCredential(p, req.StakeAddress)
	if err != nil {
		return err
	}
	pool, _ := hex.DecodeString(req.PoolID)
	if req.RegisterStake {
		p.certificates = append(p.certificates, ledger.Certificate{Kind: ledger.CertStakeRegistration, Credential: cred})
		p.deposit += a.cfg.Params.KeyDeposit
	}
	p.certificates = append(p.certificates, ledger.Certificate{Kind: ledger.CertStakeDelegation, Credential: cred, PoolID: pool})
	return nil
}

func (a *Assembler) deregistrationPlan(ctx context.Context, p *plan, req model.TransactionRequest) error {
	cred, reward, err := a.stakeCredential(p, req.StakeAddress)
	if err != nil {
		return err
	}
	balance, err := a.rewardBalance(ctx, reward)
	if err != nil {
		return err
	}
	if balance > 0 {
		p.withdrawals = map[cbor.ByteString]uint64{cbor.ByteString(reward.Raw): balance}
		p.withdrawn = balance
	}
	p.certificates = append(p.certificates, ledger.Certificate{Kind: ledger.CertStakeDeregistration, Credential: cred})
	p.refund = a.cfg.Params.KeyDeposit
	return nil
}

func (a *Assembler) withdrawalPlan(ctx context.Context, p *plan, req model.TransactionRequest) error {
	_, reward, err := a.stakeCredential(p, req.StakeAddress)
	if err != nil {
		return err
	}
	balance, err := a.rewardBalance(ctx, reward)
	if err != nil {
		return err
	}
	if balance == 0 {
		return model.Validation("no rewards to withdraw for %s", reward.String())
	}
	p.withdrawals = map[cbor.ByteString]uint64{cbor.ByteString(reward.Raw): balance}
	p.withdrawn = balance
	return nil
}

func (a *Assembler) rewardBalance(ctx context.Context, reward ledger.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LedgerTimeout)
	defer cancel()
	balance, err := a.ledger.RewardBalance(ctx, reward.String())
	if err != nil {
		return 0, fmt.Errorf("reward balance: %w", err)
	}
	return balance, nil
}

func policyScript(ref *model.PolicyRef) (ledger.NativeScript, []byte, error) {
	if ref.ScriptCBOR != "" {
		script, raw, err := ledger.ParseNativeScript(ref.ScriptCBOR)
		if err != nil {
			return ledger.NativeScript{}, nil, model.Wrap(model.CodeValidation, err, "policy script_cbor")
		}
		return script, raw, nil
	}
	hashes := make([][]byte, 0, len(ref.KeyHashes))
	for _, h := range ref.KeyHashes {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != ledger.HashSize {
			return ledger.NativeScript{}, nil, model.Validation("malformed policy key hash %q", h)
		}
		hashes = append(hashes, raw)
	}
	script := ledger.PolicyFromKeys(hashes, ref.LockSlot)
	raw, err := script.Bytes()
	if err != nil {
		return ledger.NativeScript{}, nil, fmt.Errorf("encode policy: %w", err)
	}
	return script, raw, nil
}

func (a *Assembler) mintPlan(p *plan, req model.TransactionRequest) error {
	spec := req.Mint
	receiver, err := a.parseAddress("mint.receiver", spec.Receiver)
	if err != nil {
		return err
	}
	script, raw, err := policyScript(spec.Policy)
	if err != nil {
		return err
	}
	policyID := ledger.NativeScriptHash(raw)
	policyHex := hex.EncodeToString(policyID)

	names := make(map[cbor.ByteString]int64, len(spec.TokenNames))
	for i, name := range spec.TokenNames {
		key := cbor.ByteString(name)
		if _, dup := names[key]; dup {
			return model.Validation("token %q listed twice", name)
		}
		amount := spec.Amounts[i]
		names[key] = amount
		id := model.AssetID{Policy: policyHex, Name: hex.EncodeToString([]byte(name))}
		if amount > 0 {
			qty, _ := safe.Uint64(amount)
			p.minted = p.minted.WithAsset(id, qty)
			continue
		}
		qty, err := safe.Uint64(-amount)
		if err != nil {
			return model.Wrap(model.CodeValidation, err, "mint.amounts")
		}
		p.burned = p.burned.WithAsset(id, qty)
	}
	p.mint = ledger.Mint{cbor.ByteString(policyID): names}

	if p.minted.HasAssets() {
		value := p.minted.Clone()
		amount, err := ledger.AmountFromValue(value)
		if err != nil {
			return err
		}
		minCoin, err := a.cfg.Params.MinCoin(ledger.Output{Address: receiver.Raw, Amount: amount})
		if err != nil {
			return err
		}
		value.Coin = minCoin
		if err := a.payment(p, receiver, value, nil); err != nil {
			return err
		}
	}

	if len(spec.Metadata) > 0 {
		for name := range spec.Metadata {
			if _, ok := names[cbor.ByteString(name)]; !ok {
				return model.Validation("metadata for unknown token %q", name)
			}
		}
		nft, err := ledger.NFTMetadata(policyHex, spec.Metadata)
		if err != nil {
			return model.Wrap(model.CodeValidation, err, "mint metadata")
		}
		if p.metadata == nil {
			p.metadata = ledger.Metadata{}
		}
		p.metadata[ledger.MetadataLabelNFT] = nft
	}

	p.nativeScripts = append(p.nativeScripts, cbor.RawMessage(raw))
	for _, h := range script.KeyHashes() {
		p.addSigner(h)
	}
	if slot, ok := script.InvalidHereafter(); ok {
		p.limitTTL(slot)
	}
	if spec.Policy.CustodialKeyID != "" {
		p.custodial = append(p.custodial, spec.Policy.CustodialKeyID)
	}
	return nil
}

func (a *Assembler) contractPlan(ctx context.Context, p *plan, req model.TransactionRequest) error {
	spec := req.Contract
	scriptAddr, err := a.parseAddress("contract.script_address", spec.ScriptAddress)
	if err != nil {
		return err
	}
	if !scriptAddr.PaymentIsScript() {
		return model.Validation("contract.script_address %s is not a script address", spec.ScriptAddress)
	}
	datum, err := evaluator.CanonicalData(spec.Datum)
	if err != nil {
		return model.Wrap(model.CodeValidation, err, "contract.datum")
	}
	datumHash := ledger.Blake2b256(datum)

	if spec.Action == model.ContractActionLock {
		return a.payment(p, scriptAddr, spec.LockValue, datumHash)
	}

	script, err := hex.DecodeString(spec.ScriptCBOR)
	if err != nil {
		return model.Validation("contract.script_cbor is not hex")
	}
	if !bytes.Equal(ledger.PlutusScriptHash(script), scriptAddr.Payment) {
		return model.Validation("contract.script_cbor does not hash to %s", spec.ScriptAddress)
	}
	redeemer, err := evaluator.CanonicalData(spec.Redeemer)
	if err != nil {
		return model.Wrap(model.CodeValidation, err, "contract.redeemer")
	}

	lctx, cancel := context.WithTimeout(ctx, a.cfg.LedgerTimeout)
	defer cancel()
	locked, err := a.ledger.SpendableOutputs(lctx, []string{spec.ScriptAddress})
	if err != nil {
		return fmt.Errorf("script outputs: %w", err)
	}
	byRef := make(map[model.OutputRef]model.Output, len(locked))
	for _, out := range locked {
		byRef[out.Ref] = out
	}

	spend := &scriptSpend{script: script, datum: datum, redeemer: redeemer}
	want := hex.EncodeToString(datumHash)
	seen := make(map[model.OutputRef]bool, len(spec.ScriptInputs))
	for _, s := range spec.ScriptInputs {
		ref, _ := model.ParseOutputRef(s)
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out, ok := byRef[ref]
		if !ok {
			return model.Validation("script input %s is not spendable at %s", s, spec.ScriptAddress)
		}
		if out.DatumHash != want {
			return model.Validation("script input %s is locked with datum %q, not the supplied datum", s, out.DatumHash)
		}
		spend.inputs = append(spend.inputs, out)
	}
	p.script = spend
	return nil
}
