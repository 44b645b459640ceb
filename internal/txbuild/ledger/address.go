// Package ledger encodes Cardano-style transactions: addresses, CBOR bodies,
// witness sets, hashing and protocol fee rules.
package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// AddressKind is the header type nibble of a Shelley address.
type AddressKind uint8

const (
	AddressBaseKeyKey       AddressKind = 0
	AddressBaseScriptKey    AddressKind = 1
	AddressBaseKeyScript    AddressKind = 2
	AddressBaseScriptScript AddressKind = 3
	AddressEnterpriseKey    AddressKind = 6
	AddressEnterpriseScript AddressKind = 7
	AddressRewardKey        AddressKind = 14
	AddressRewardScript     AddressKind = 15
)

// HashSize is the byte length of key and script hashes.
const HashSize = 28

// Address is a decoded Shelley address.
type Address struct {
	HRP       string
	Kind      AddressKind
	NetworkID uint8
	Payment   []byte
	Stake     []byte
	Raw       []byte
}

// ParseAddress decodes a bech32 address.
func ParseAddress(s string) (Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return Address{}, model.Validation("malformed address %q: %v", s, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, model.Validation("malformed address %q: %v", s, err)
	}
	addr, err := AddressFromBytes(raw)
	if err != nil {
		return Address{}, model.Validation("malformed address %q: %v", s, err)
	}
	addr.HRP = hrp
	return addr, nil
}

// AddressFromBytes decodes the binary address form.
func AddressFromBytes(raw []byte) (Address, error) {
	if len(raw) == 0 {
		return Address{}, fmt.Errorf("empty address")
	}
	addr := Address{
		Kind:      AddressKind(raw[0] >> 4),
		NetworkID: raw[0] & 0x0f,
		Raw:       append([]byte(nil), raw...),
	}
	switch addr.Kind {
	case AddressBaseKeyKey, AddressBaseScriptKey, AddressBaseKeyScript, AddressBaseScriptScript:
		if len(raw) != 1+2*HashSize {
			return Address{}, fmt.Errorf("base address length %d", len(raw))
		}
		addr.Payment = raw[1 : 1+HashSize]
		addr.Stake = raw[1+HashSize:]
	case AddressEnterpriseKey, AddressEnterpriseScript:
		if len(raw) != 1+HashSize {
			return Address{}, fmt.Errorf("enterprise address length %d", len(raw))
		}
		addr.Payment = raw[1:]
	case AddressRewardKey, AddressRewardScript:
		if len(raw) != 1+HashSize {
			return Address{}, fmt.Errorf("reward address length %d", len(raw))
		}
		addr.Stake = raw[1:]
	default:
		return Address{}, fmt.Errorf("unsupported address type %d", addr.Kind)
	}
	return addr, nil
}

// String re-encodes the address with its HRP.
func (a Address) String() string {
	data, err := bech32.ConvertBits(a.Raw, 8, 5, true)
	if err != nil {
		return ""
	}
	s, err := bech32.Encode(a.HRP, data)
	if err != nil {
		return ""
	}
	return s
}

// IsReward reports whether the address is a stake (reward) address.
func (a Address) IsReward() bool {
	return a.Kind == AddressRewardKey || a.Kind == AddressRewardScript
}

// PaymentIsScript reports whether the payment credential is a script hash.
func (a Address) PaymentIsScript() bool {
	switch a.Kind {
	case AddressBaseScriptKey, AddressBaseScriptScript, AddressEnterpriseScript:
		return true
	default:
		return false
	}
}

// NewAddress builds an address from its parts.
func NewAddress(hrp string, kind AddressKind, network uint8, payment, stake []byte) Address {
	raw := []byte{byte(kind)<<4 | network&0x0f}
	raw = append(raw, payment...)
	raw = append(raw, stake...)
	addr, _ := AddressFromBytes(raw)
	addr.HRP = hrp
	return addr
}

// ScriptAddress returns the enterprise address locking funds with a script hash.
func ScriptAddress(hrp string, network uint8, scriptHash []byte) Address {
	return NewAddress(hrp, AddressEnterpriseScript, network, scriptHash, nil)
}

// RewardAddressHRP maps a payment HRP to its stake HRP.
func RewardAddressHRP(paymentHRP string) string {
	if paymentHRP == "addr_test" {
		return "stake_test"
	}
	return "stake"
}
