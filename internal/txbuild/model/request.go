package model

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Operation is the kind of transaction a request asks for.
type Operation string

const (
	OpDelegation     Operation = "delegation"
	OpDeregistration Operation = "deregistration"
	OpWithdrawal     Operation = "withdrawal"
	OpTransfer       Operation = "transfer"
	OpMint           Operation = "mint"
	OpCollectionMint Operation = "collection_mint"
	OpOneShotMint    Operation = "one_shot_mint"
	OpRewardClaim    Operation = "reward_claim"
	OpContract       Operation = "contract"
)

// Family groups operations by the build/finalize command pair serving them.
type Family string

const (
	FamilyStd      Family = "std"
	FamilyMultiSig Family = "multisig"
	FamilyContract Family = "contract"
)

// OperationTag is the numeric tag stored with an artifact to route finalize-time validation.
type OperationTag uint8

var operationTags = map[Operation]OperationTag{
	OpDelegation:     1,
	OpDeregistration: 2,
	OpWithdrawal:     3,
	OpTransfer:       4,
	OpMint:           10,
	OpCollectionMint: 11,
	OpOneShotMint:    12,
	OpRewardClaim:    13,
	OpContract:       20,
}

// Tag returns the numeric operation tag, zero for unknown operations.
func (o Operation) Tag() OperationTag {
	return operationTags[o]
}

// Family returns the command family of the operation.
func (o Operation) Family() Family {
	return o.Tag().Family()
}

// Family returns the command family of the tag.
func (t OperationTag) Family() Family {
	switch {
	case t == 0:
		return ""
	case t < 10:
		return FamilyStd
	case t < 20:
		return FamilyMultiSig
	default:
		return FamilyContract
	}
}

// DesiredOutput is a payment the transaction must make.
type DesiredOutput struct {
	Address   string `json:"address"`
	Value     Value  `json:"value"`
	DatumHash string `json:"datum_hash,omitempty"`
}

// PolicyRef describes a native-script minting policy.
type PolicyRef struct {
	// ScriptCBOR is a hex encoded native script; when empty the policy is
	// derived from KeyHashes and LockSlot.
	ScriptCBOR     string   `json:"script_cbor,omitempty"`
	KeyHashes      []string `json:"key_hashes,omitempty"`
	LockSlot       uint64   `json:"lock_slot,omitempty"`
	CustodialKeyID string   `json:"custodial_key_id,omitempty"`
}

// MintSpec describes tokens to mint or burn.
type MintSpec struct {
	Policy     *PolicyRef                 `json:"policy,omitempty"`
	TokenNames []string                   `json:"token_names"`
	Amounts    []int64                    `json:"amounts"`
	Receiver   string                     `json:"receiver"`
	Metadata   map[string]json.RawMessage `json:"metadata,omitempty"`
}

// ContractSpec describes a script interaction.
type ContractSpec struct {
	ContractType  string   `json:"contract_type"`
	Action        string   `json:"action"`
	ScriptCBOR    string   `json:"script_cbor,omitempty"`
	ScriptAddress string   `json:"script_address"`
	ScriptInputs  []string `json:"script_inputs,omitempty"`
	Redeemer      string   `json:"redeemer,omitempty"`
	Datum         string   `json:"datum,omitempty"`
	LockValue     Value    `json:"lock_value"`
}

const (
	ContractActionLock   = "lock"
	ContractActionUnlock = "unlock"
)

// TransactionRequest is a client build request.
type TransactionRequest struct {
	RequestID       string          `json:"request_id,omitempty"`
	CustomerID      string          `json:"customer_id"`
	Operation       Operation       `json:"operation"`
	SourceAddresses []string        `json:"source_addresses"`
	ChangeAddress   string          `json:"change_address,omitempty"`
	Outputs         []DesiredOutput `json:"outputs,omitempty"`
	StakeAddress    string          `json:"stake_address,omitempty"`
	PoolID          string          `json:"pool_id,omitempty"`
	RegisterStake   bool            `json:"register_stake,omitempty"`
	Mint            *MintSpec       `json:"mint,omitempty"`
	Contract        *ContractSpec   `json:"contract,omitempty"`
	Message         []string        `json:"message,omitempty"`
}

// Validate checks that the operation-specific data is present and consistent.
// Address syntax is checked by the ledger encoder.
func (r TransactionRequest) Validate() error {
	if err := checkRequestID(r.RequestID); err != nil {
		return err
	}
	if r.CustomerID == "" {
		return Validation("customer_id is required")
	}
	if r.Operation.Tag() == 0 {
		return Validation("unknown operation %q", r.Operation)
	}
	if len(r.SourceAddresses) == 0 {
		return Validation("at least one source address is required")
	}
	for i, out := range r.Outputs {
		if out.Address == "" {
			return Validation("outputs[%d]: address is required", i)
		}
		if err := out.Value.Validate(); err != nil {
			return err
		}
	}

	switch r.Operation {
	case OpDelegation:
		if r.StakeAddress == "" || r.PoolID == "" {
			return Validation("delegation requires stake_address and pool_id")
		}
		if raw, err := hex.DecodeString(r.PoolID); err != nil || len(raw) != PolicyIDSize {
			return Validation("malformed pool_id %q", r.PoolID)
		}
	case OpDeregistration, OpWithdrawal:
		if r.StakeAddress == "" {
			return Validation("%s requires stake_address", r.Operation)
		}
	case OpTransfer, OpRewardClaim:
		if len(r.Outputs) == 0 {
			return Validation("%s requires at least one output", r.Operation)
		}
	case OpMint, OpCollectionMint, OpOneShotMint:
		return r.validateMint()
	case OpContract:
		return r.validateContract()
	}
	return nil
}

func (r TransactionRequest) validateMint() error {
	m := r.Mint
	if m == nil {
		return Validation("%s requires mint data", r.Operation)
	}
	if len(m.TokenNames) == 0 {
		return Validation("mint requires at least one token name")
	}
	if len(m.TokenNames) != len(m.Amounts) {
		return Validation("token_names and amounts length mismatch: %d != %d", len(m.TokenNames), len(m.Amounts))
	}
	for i, name := range m.TokenNames {
		if len(name) > MaxAssetNameSize {
			return Validation("token name %q longer than %d bytes", name, MaxAssetNameSize)
		}
		if m.Amounts[i] == 0 {
			return Validation("token %q has zero amount", name)
		}
		if r.Operation == OpCollectionMint && m.Amounts[i] != 1 {
			return Validation("collection token %q must have amount 1", name)
		}
	}
	if m.Receiver == "" {
		return Validation("mint requires a receiver address")
	}
	if m.Policy == nil {
		return Validation("mint requires a policy")
	}
	if m.Policy.ScriptCBOR == "" && len(m.Policy.KeyHashes) == 0 {
		return Validation("policy requires script_cbor or key_hashes")
	}
	if r.Operation == OpOneShotMint && m.Policy.ScriptCBOR == "" && m.Policy.LockSlot == 0 {
		return Validation("one-shot mint requires a lock_slot")
	}
	return nil
}

func (r TransactionRequest) validateContract() error {
	c := r.Contract
	if c == nil {
		return Validation("contract requires contract data")
	}
	if c.ContractType == "" || c.ScriptAddress == "" {
		return Validation("contract requires contract_type and script_address")
	}
	switch c.Action {
	case ContractActionLock:
		if c.Datum == "" || c.LockValue.IsZero() {
			return Validation("lock requires datum and lock_value")
		}
		return c.LockValue.Validate()
	case ContractActionUnlock:
		if c.ScriptCBOR == "" || c.Redeemer == "" || c.Datum == "" || len(c.ScriptInputs) == 0 {
			return Validation("unlock requires script_cbor, redeemer, datum and script_inputs")
		}
		for _, ref := range c.ScriptInputs {
			if _, err := ParseOutputRef(ref); err != nil {
				return err
			}
		}
		return nil
	default:
		return Validation("unknown contract action %q", c.Action)
	}
}

// ExUnits is a script execution budget.
type ExUnits struct {
	Mem   uint64 `json:"mem"`
	Steps uint64 `json:"steps"`
}

// Add sums two budgets.
func (e ExUnits) Add(o ExUnits) ExUnits {
	return ExUnits{Mem: e.Mem + o.Mem, Steps: e.Steps + o.Steps}
}

// Artifact is a persisted unsigned transaction awaiting signatures.
type Artifact struct {
	RequestID        string       `json:"request_id"`
	CustomerID       string       `json:"customer_id"`
	OperationTag     OperationTag `json:"operation_tag"`
	Body             []byte       `json:"body"`
	Witnesses        []byte       `json:"witnesses"`
	AuxData          []byte       `json:"aux_data,omitempty"`
	Consumed         []OutputRef  `json:"consumed"`
	TxHash           string       `json:"tx_hash"`
	Fee              uint64       `json:"fee"`
	CustodialSigners []string     `json:"custodial_signers,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// BuildResult is returned to the client after a successful build.
type BuildResult struct {
	RequestID  string      `json:"request_id"`
	TxHash     string      `json:"tx_hash"`
	Fee        uint64      `json:"fee"`
	UnsignedTx string      `json:"unsigned_tx"`
	Consumed   []OutputRef `json:"consumed"`
	ExUnits    ExUnits     `json:"ex_units"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// VKeyWitness is an ed25519 verification key and signature.
type VKeyWitness struct {
	VKey      string `json:"vkey"`
	Signature string `json:"signature"`
}

func checkRequestID(id string) error {
	if strings.IndexByte(id, 0) >= 0 {
		return Validation("request_id must not contain NUL")
	}
	return nil
}

// FinalizeRequest carries externally produced signatures for a built artifact.
type FinalizeRequest struct {
	RequestID  string        `json:"request_id"`
	TxHash     string        `json:"tx_hash,omitempty"`
	Witnesses  []VKeyWitness `json:"witnesses,omitempty"`
	WitnessSet string        `json:"witness_set,omitempty"`
}

// Validate checks the finalize request shape.
func (r FinalizeRequest) Validate() error {
	if r.RequestID == "" {
		return Validation("request_id is required")
	}
	if err := checkRequestID(r.RequestID); err != nil {
		return err
	}
	if len(r.Witnesses) == 0 && r.WitnessSet == "" {
		return Validation("witnesses or witness_set is required")
	}
	return nil
}

// FinalizeResult reports a submitted transaction.
type FinalizeResult struct {
	RequestID string `json:"request_id"`
	TxHash    string `json:"tx_hash"`
}

// VerifyUserRequest asks whether token authenticates customer.
type VerifyUserRequest struct {
	CustomerID string `json:"customer_id"`
	Token      string `json:"token"`
}

// Validate checks both fields are present.
func (r VerifyUserRequest) Validate() error {
	if r.CustomerID == "" || r.Token == "" {
		return Validation("customer_id and token are required")
	}
	return nil
}
