package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	// Plutus data keeps the indefinite-length lists it was built with.
	opts.IndefLength = cbor.IndefLengthAllowed
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Errorf("ledger: cbor enc mode: %w", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
		MaxNestedLevels:  64,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("ledger: cbor dec mode: %w", err))
	}
}

// Marshal encodes v with core deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Input is a transaction input.
type Input struct {
	_      struct{} `cbor:",toarray"`
	TxHash []byte
	Index  uint32
}

// InputFromRef converts a domain output reference.
func InputFromRef(ref model.OutputRef) Input {
	return Input{TxHash: append([]byte(nil), ref.TxHash[:]...), Index: ref.Index}
}

// MultiAsset is the CBOR form of native assets: policy id -> asset name -> quantity.
type MultiAsset map[cbor.ByteString]map[cbor.ByteString]uint64

// Mint is the CBOR form of minted (positive) and burned (negative) quantities.
type Mint map[cbor.ByteString]map[cbor.ByteString]int64

// Amount is an output value; it encodes as a bare coin when no assets are present.
type Amount struct {
	Coin   uint64
	Assets MultiAsset
}

func (a Amount) MarshalCBOR() ([]byte, error) {
	if len(a.Assets) == 0 {
		return encMode.Marshal(a.Coin)
	}
	return encMode.Marshal([]any{a.Coin, a.Assets})
}

func (a *Amount) UnmarshalCBOR(data []byte) error {
	var coin uint64
	if err := decMode.Unmarshal(data, &coin); err == nil {
		*a = Amount{Coin: coin}
		return nil
	}
	var pair struct {
		_      struct{} `cbor:",toarray"`
		Coin   uint64
		Assets MultiAsset
	}
	if err := decMode.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	*a = Amount{Coin: pair.Coin, Assets: pair.Assets}
	return nil
}

// AmountFromValue converts a domain value, validating hex identifiers.
func AmountFromValue(v model.Value) (Amount, error) {
	if err := v.Validate(); err != nil {
		return Amount{}, err
	}
	out := Amount{Coin: v.Coin}
	for _, id := range v.AssetIDs() {
		policy, _ := hex.DecodeString(id.Policy)
		name, _ := hex.DecodeString(id.Name)
		if out.Assets == nil {
			out.Assets = make(MultiAsset)
		}
		p := cbor.ByteString(policy)
		if out.Assets[p] == nil {
			out.Assets[p] = make(map[cbor.ByteString]uint64)
		}
		out.Assets[p][cbor.ByteString(name)] = v.Quantity(id)
	}
	return out, nil
}

// Value converts the amount back to a domain value.
func (a Amount) Value() model.Value {
	v := model.Lovelace(a.Coin)
	for policy, names := range a.Assets {
		for name, qty := range names {
			v = v.WithAsset(model.AssetID{
				Policy: hex.EncodeToString([]byte(policy)),
				Name:   hex.EncodeToString([]byte(name)),
			}, qty)
		}
	}
	return v
}

// Output is a transaction output in the legacy array form.
type Output struct {
	Address   []byte
	Amount    Amount
	DatumHash []byte
}

func (o Output) MarshalCBOR() ([]byte, error) {
	if len(o.DatumHash) == 0 {
		return encMode.Marshal([]any{o.Address, o.Amount})
	}
	return encMode.Marshal([]any{o.Address, o.Amount, o.DatumHash})
}

func (o *Output) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("decode output: %d fields", len(parts))
	}
	var out Output
	if err := decMode.Unmarshal(parts[0], &out.Address); err != nil {
		return fmt.Errorf("decode output address: %w", err)
	}
	if err := out.Amount.UnmarshalCBOR(parts[1]); err != nil {
		return err
	}
	if len(parts) == 3 {
		if err := decMode.Unmarshal(parts[2], &out.DatumHash); err != nil {
			return fmt.Errorf("decode output datum hash: %w", err)
		}
	}
	*o = out
	return nil
}

// Body is the signed part of a transaction.
type Body struct {
	Inputs          []Input                    `cbor:"0,keyasint"`
	Outputs         []Output                   `cbor:"1,keyasint"`
	Fee             uint64                     `cbor:"2,keyasint"`
	TTL             uint64                     `cbor:"3,keyasint,omitempty"`
	Certificates    []Certificate              `cbor:"4,keyasint,omitempty"`
	Withdrawals     map[cbor.ByteString]uint64 `cbor:"5,keyasint,omitempty"`
	AuxDataHash     []byte                     `cbor:"7,keyasint,omitempty"`
	Mint            Mint                       `cbor:"9,keyasint,omitempty"`
	ScriptDataHash  []byte                     `cbor:"11,keyasint,omitempty"`
	Collateral      []Input                    `cbor:"13,keyasint,omitempty"`
	RequiredSigners [][]byte                   `cbor:"14,keyasint,omitempty"`
}

// VKeyWitness is an ed25519 verification key with its signature over the body hash.
type VKeyWitness struct {
	_         struct{} `cbor:",toarray"`
	VKey      []byte
	Signature []byte
}

// RedeemerTag is the purpose a redeemer is supplied for.
type RedeemerTag uint8

const (
	RedeemerSpend  RedeemerTag = 0
	RedeemerMint   RedeemerTag = 1
	RedeemerCert   RedeemerTag = 2
	RedeemerReward RedeemerTag = 3
)

func (t RedeemerTag) String() string {
	switch t {
	case RedeemerSpend:
		return "spend"
	case RedeemerMint:
		return "mint"
	case RedeemerCert:
		return "cert"
	case RedeemerReward:
		return "reward"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// ExUnits is the CBOR form of an execution budget.
type ExUnits struct {
	_     struct{} `cbor:",toarray"`
	Mem   uint64
	Steps uint64
}

// Redeemer supplies data and a budget to one script execution.
type Redeemer struct {
	_       struct{} `cbor:",toarray"`
	Tag     RedeemerTag
	Index   uint32
	Data    cbor.RawMessage
	ExUnits ExUnits
}

// WitnessSet holds signatures, scripts, datums and redeemers.
type WitnessSet struct {
	VKeyWitnesses   []VKeyWitness     `cbor:"0,keyasint,omitempty"`
	NativeScripts   []cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	PlutusData      []cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Redeemers       []Redeemer        `cbor:"5,keyasint,omitempty"`
	PlutusV2Scripts [][]byte          `cbor:"6,keyasint,omitempty"`
}

// DecodeWitnessSet parses a CBOR witness set.
func DecodeWitnessSet(data []byte) (WitnessSet, error) {
	var ws WitnessSet
	if len(data) == 0 {
		return ws, nil
	}
	if err := decMode.Unmarshal(data, &ws); err != nil {
		return WitnessSet{}, fmt.Errorf("decode witness set: %w", err)
	}
	return ws, nil
}

// Tx is a full transaction under construction.
type Tx struct {
	Body      Body
	Witnesses WitnessSet
	AuxData   []byte
}

// BodyBytes encodes the body.
func (t *Tx) BodyBytes() ([]byte, error) {
	b, err := encMode.Marshal(t.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return b, nil
}

// Hash returns blake2b-256 of the encoded body.
func (t *Tx) Hash() ([]byte, error) {
	b, err := t.BodyBytes()
	if err != nil {
		return nil, err
	}
	return Blake2b256(b), nil
}

// Bytes serializes the transaction.
func (t *Tx) Bytes() ([]byte, error) {
	body, err := t.BodyBytes()
	if err != nil {
		return nil, err
	}
	ws, err := encMode.Marshal(t.Witnesses)
	if err != nil {
		return nil, fmt.Errorf("encode witnesses: %w", err)
	}
	return AssembleTx(body, ws, t.AuxData)
}

// AssembleTx joins pre-encoded body, witness set and auxiliary data without
// re-encoding the body, keeping its hash stable.
func AssembleTx(body, witnesses, aux []byte) ([]byte, error) {
	var auxField any
	if len(aux) > 0 {
		auxField = cbor.RawMessage(aux)
	}
	b, err := encMode.Marshal([]any{cbor.RawMessage(body), cbor.RawMessage(witnesses), true, auxField})
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return b, nil
}

// dummyWitness has the encoded size of a real vkey witness.
var dummyWitness = VKeyWitness{VKey: make([]byte, 32), Signature: make([]byte, 64)}

// SizeWithSigners returns the serialized size once signers vkey witnesses are attached.
func (t *Tx) SizeWithSigners(signers int) (int, error) {
	sized := *t
	sized.Witnesses.VKeyWitnesses = append(append([]VKeyWitness(nil), t.Witnesses.VKeyWitnesses...), repeatWitness(signers)...)
	b, err := sized.Bytes()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func repeatWitness(n int) []VKeyWitness {
	out := make([]VKeyWitness, n)
	for i := range out {
		out[i] = dummyWitness
	}
	return out
}

// ScriptDataHash hashes redeemers, datums and the cost model language views.
func ScriptDataHash(redeemers []Redeemer, datums []cbor.RawMessage, languageViews []byte) ([]byte, error) {
	r, err := encMode.Marshal(redeemers)
	if err != nil {
		return nil, fmt.Errorf("encode redeemers: %w", err)
	}
	var d []byte
	if len(datums) > 0 {
		if d, err = encMode.Marshal(datums); err != nil {
			return nil, fmt.Errorf("encode datums: %w", err)
		}
	}
	buf := make([]byte, 0, len(r)+len(d)+len(languageViews))
	buf = append(buf, r...)
	buf = append(buf, d...)
	buf = append(buf, languageViews...)
	return Blake2b256(buf), nil
}
