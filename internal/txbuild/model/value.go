package model

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/goodnatureofminers/txbuild7000-backend/pkg/safe"
)

const (
	// PolicyIDSize is the byte length of a minting policy hash.
	PolicyIDSize = 28
	// MaxAssetNameSize is the maximum byte length of an asset name.
	MaxAssetNameSize = 32
)

// MultiAsset maps hex policy id to hex asset name to quantity.
type MultiAsset map[string]map[string]uint64

// Value is a multi-asset amount: lovelace plus native assets.
type Value struct {
	Coin   uint64     `json:"coin"`
	Assets MultiAsset `json:"assets,omitempty"`
}

// AssetID names one native asset.
type AssetID struct {
	Policy string
	Name   string
}

// Lovelace returns a pure-ADA value.
func Lovelace(coin uint64) Value {
	return Value{Coin: coin}
}

// Validate checks hex encodings and sizes of asset identifiers.
func (v Value) Validate() error {
	for policy, names := range v.Assets {
		raw, err := hex.DecodeString(policy)
		if err != nil || len(raw) != PolicyIDSize {
			return Validation("malformed policy id %q", policy)
		}
		for name := range names {
			raw, err := hex.DecodeString(name)
			if err != nil || len(raw) > MaxAssetNameSize {
				return Validation("malformed asset name %q under policy %s", name, policy)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	out := Value{Coin: v.Coin}
	for policy, names := range v.Assets {
		for name, qty := range names {
			out.setAsset(policy, name, qty)
		}
	}
	return out
}

// Quantity returns the amount held of an asset.
func (v Value) Quantity(id AssetID) uint64 {
	return v.Assets[id.Policy][id.Name]
}

// AssetIDs returns the asset ids present with a non-zero quantity, sorted.
func (v Value) AssetIDs() []AssetID {
	var ids []AssetID
	for policy, names := range v.Assets {
		for name, qty := range names {
			if qty > 0 {
				ids = append(ids, AssetID{Policy: policy, Name: name})
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Policy != ids[j].Policy {
			return ids[i].Policy < ids[j].Policy
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}

// HasAssets reports whether any native asset quantity is non-zero.
func (v Value) HasAssets() bool {
	return len(v.AssetIDs()) > 0
}

// IsZero reports whether the value holds nothing.
func (v Value) IsZero() bool {
	return v.Coin == 0 && !v.HasAssets()
}

// Add returns v+o.
func (v Value) Add(o Value) (Value, error) {
	out := v.Clone()
	coin, err := safe.Add(out.Coin, o.Coin)
	if err != nil {
		return Value{}, fmt.Errorf("add coin: %w", err)
	}
	out.Coin = coin
	for _, id := range o.AssetIDs() {
		qty, err := safe.Add(out.Quantity(id), o.Quantity(id))
		if err != nil {
			return Value{}, fmt.Errorf("add asset %s.%s: %w", id.Policy, id.Name, err)
		}
		out.setAsset(id.Policy, id.Name, qty)
	}
	return out, nil
}

// Sub returns v-o; it fails if o is not covered by v.
func (v Value) Sub(o Value) (Value, error) {
	out := v.Clone()
	coin, err := safe.Sub(out.Coin, o.Coin)
	if err != nil {
		return Value{}, fmt.Errorf("sub coin: %w", err)
	}
	out.Coin = coin
	for _, id := range o.AssetIDs() {
		qty, err := safe.Sub(out.Quantity(id), o.Quantity(id))
		if err != nil {
			return Value{}, fmt.Errorf("sub asset %s.%s: %w", id.Policy, id.Name, err)
		}
		out.setAsset(id.Policy, id.Name, qty)
	}
	return out, nil
}

// Covers reports whether v holds at least o in every asset.
func (v Value) Covers(o Value) bool {
	if v.Coin < o.Coin {
		return false
	}
	for _, id := range o.AssetIDs() {
		if v.Quantity(id) < o.Quantity(id) {
			return false
		}
	}
	return true
}

// Equal compares two values ignoring zero-quantity entries.
func (v Value) Equal(o Value) bool {
	return v.Covers(o) && o.Covers(v)
}

func (v *Value) setAsset(policy, name string, qty uint64) {
	if qty == 0 {
		if names, ok := v.Assets[policy]; ok {
			delete(names, name)
			if len(names) == 0 {
				delete(v.Assets, policy)
			}
		}
		return
	}
	if v.Assets == nil {
		v.Assets = make(MultiAsset)
	}
	if v.Assets[policy] == nil {
		v.Assets[policy] = make(map[string]uint64)
	}
	v.Assets[policy][name] = qty
}

// WithAsset returns a copy of v holding qty of the asset.
func (v Value) WithAsset(id AssetID, qty uint64) Value {
	out := v.Clone()
	out.setAsset(id.Policy, id.Name, qty)
	return out
}

// SumValues adds all values.
func SumValues(values ...Value) (Value, error) {
	var total Value
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Value{}, err
		}
	}
	return total, nil
}
