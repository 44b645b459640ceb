// Package model defines the domain types of the transaction-build service.
package model

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// TxHashSize is the byte length of a transaction hash.
const TxHashSize = 32

// OutputRef identifies a transaction output by hash and index.
type OutputRef struct {
	TxHash [TxHashSize]byte
	Index  uint32
}

// String returns the "hex#index" form used as reservation key.
func (r OutputRef) String() string {
	return hex.EncodeToString(r.TxHash[:]) + "#" + strconv.FormatUint(uint64(r.Index), 10)
}

// Less orders refs by hash bytes then index.
func (r OutputRef) Less(o OutputRef) bool {
	for i := range r.TxHash {
		if r.TxHash[i] != o.TxHash[i] {
			return r.TxHash[i] < o.TxHash[i]
		}
	}
	return r.Index < o.Index
}

// ParseOutputRef parses the "hex#index" form.
func ParseOutputRef(s string) (OutputRef, error) {
	hash, idx, ok := strings.Cut(s, "#")
	if !ok {
		return OutputRef{}, Validation("output ref %q: missing '#'", s)
	}
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != TxHashSize {
		return OutputRef{}, Validation("output ref %q: malformed tx hash", s)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return OutputRef{}, Validation("output ref %q: malformed index", s)
	}
	var ref OutputRef
	copy(ref.TxHash[:], raw)
	ref.Index = uint32(index)
	return ref, nil
}

func (r OutputRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *OutputRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ref, err := ParseOutputRef(s)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// Output is a spendable unit observed on the ledger.
type Output struct {
	Ref       OutputRef `json:"ref"`
	Address   string    `json:"address"`
	Value     Value     `json:"value"`
	DatumHash string    `json:"datum_hash,omitempty"`
}

// RefStrings renders refs in their key form.
func RefStrings(refs []OutputRef) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}
