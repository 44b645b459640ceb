package ledger

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CertificateKind is the certificate type index.
type CertificateKind uint8

const (
	CertStakeRegistration   CertificateKind = 0
	CertStakeDeregistration CertificateKind = 1
	CertStakeDelegation     CertificateKind = 2
)

// Credential is a key-hash (0) or script-hash (1) stake credential.
type Credential struct {
	_      struct{} `cbor:",toarray"`
	Script uint8
	Hash   []byte
}

// Certificate is a stake registration, deregistration or delegation.
type Certificate struct {
	Kind       CertificateKind
	Credential Credential
	PoolID     []byte
}

func (c Certificate) MarshalCBOR() ([]byte, error) {
	switch c.Kind {
	case CertStakeRegistration, CertStakeDeregistration:
		return encMode.Marshal([]any{uint8(c.Kind), c.Credential})
	case CertStakeDelegation:
		if len(c.PoolID) != HashSize {
			return nil, fmt.Errorf("delegation certificate: pool id length %d", len(c.PoolID))
		}
		return encMode.Marshal([]any{uint8(c.Kind), c.Credential, c.PoolID})
	default:
		return nil, fmt.Errorf("unsupported certificate kind %d", c.Kind)
	}
}

func (c *Certificate) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("certificate: %d fields", len(parts))
	}
	var kind uint8
	if err := decMode.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("certificate kind: %w", err)
	}
	var cert Certificate
	cert.Kind = CertificateKind(kind)
	if err := decMode.Unmarshal(parts[1], &cert.Credential); err != nil {
		return fmt.Errorf("certificate credential: %w", err)
	}
	switch cert.Kind {
	case CertStakeRegistration, CertStakeDeregistration:
		if len(parts) != 2 {
			return fmt.Errorf("certificate kind %d: %d fields", kind, len(parts))
		}
	case CertStakeDelegation:
		if len(parts) != 3 {
			return fmt.Errorf("delegation certificate: %d fields", len(parts))
		}
		if err := decMode.Unmarshal(parts[2], &cert.PoolID); err != nil {
			return fmt.Errorf("delegation certificate pool: %w", err)
		}
	default:
		return fmt.Errorf("unsupported certificate kind %d", kind)
	}
	*c = cert
	return nil
}

// StakeCredential returns the credential of a reward address.
func StakeCredential(addr Address) (Credential, error) {
	if addr.IsReward() {
		var script uint8
		if addr.Kind == AddressRewardScript {
			script = 1
		}
		return Credential{Script: script, Hash: addr.Stake}, nil
	}
	if len(addr.Stake) == HashSize {
		var script uint8
		if addr.Kind == AddressBaseKeyScript || addr.Kind == AddressBaseScriptScript {
			script = 1
		}
		return Credential{Script: script, Hash: addr.Stake}, nil
	}
	return Credential{}, fmt.Errorf("address has no stake credential")
}
