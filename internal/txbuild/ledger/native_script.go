package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NativeScriptKind is the constructor index of a native script.
type NativeScriptKind uint8

const (
	ScriptPubKey NativeScriptKind = iota
	ScriptAll
	ScriptAny
	ScriptAtLeast
	ScriptInvalidBefore
	ScriptInvalidHereafter
)

// NativeScript is a multi-signature / time-lock policy.
type NativeScript struct {
	Kind    NativeScriptKind
	KeyHash []byte
	Scripts []NativeScript
	N       uint64
	Slot    uint64
}

func (s NativeScript) MarshalCBOR() ([]byte, error) {
	switch s.Kind {
	case ScriptPubKey:
		if len(s.KeyHash) != HashSize {
			return nil, fmt.Errorf("native script: key hash length %d", len(s.KeyHash))
		}
		return encMode.Marshal([]any{uint8(s.Kind), s.KeyHash})
	case ScriptAll, ScriptAny:
		return encMode.Marshal([]any{uint8(s.Kind), s.nested()})
	case ScriptAtLeast:
		return encMode.Marshal([]any{uint8(s.Kind), s.N, s.nested()})
	case ScriptInvalidBefore, ScriptInvalidHereafter:
		return encMode.Marshal([]any{uint8(s.Kind), s.Slot})
	default:
		return nil, fmt.Errorf("native script: unknown kind %d", s.Kind)
	}
}

func (s NativeScript) nested() []NativeScript {
	if s.Scripts == nil {
		return []NativeScript{}
	}
	return s.Scripts
}

func (s *NativeScript) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode native script: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("decode native script: empty")
	}
	var kind uint8
	if err := decMode.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("decode native script kind: %w", err)
	}
	out := NativeScript{Kind: NativeScriptKind(kind)}
	want := 2
	if out.Kind == ScriptAtLeast {
		want = 3
	}
	if len(parts) != want {
		return fmt.Errorf("decode native script kind %d: %d fields", kind, len(parts))
	}
	var err error
	switch out.Kind {
	case ScriptPubKey:
		err = decMode.Unmarshal(parts[1], &out.KeyHash)
	case ScriptAll, ScriptAny:
		err = decMode.Unmarshal(parts[1], &out.Scripts)
	case ScriptAtLeast:
		if err = decMode.Unmarshal(parts[1], &out.N); err == nil {
			err = decMode.Unmarshal(parts[2], &out.Scripts)
		}
	case ScriptInvalidBefore, ScriptInvalidHereafter:
		err = decMode.Unmarshal(parts[1], &out.Slot)
	default:
		return fmt.Errorf("decode native script: unknown kind %d", kind)
	}
	if err != nil {
		return fmt.Errorf("decode native script kind %d: %w", kind, err)
	}
	*s = out
	return nil
}

// ParseNativeScript decodes a hex CBOR native script.
func ParseNativeScript(hexCBOR string) (NativeScript, []byte, error) {
	raw, err := hex.DecodeString(hexCBOR)
	if err != nil {
		return NativeScript{}, nil, fmt.Errorf("decode native script hex: %w", err)
	}
	var s NativeScript
	if err := decMode.Unmarshal(raw, &s); err != nil {
		return NativeScript{}, nil, err
	}
	return s, raw, nil
}

// Bytes encodes the script.
func (s NativeScript) Bytes() ([]byte, error) {
	return encMode.Marshal(s)
}

// Hash returns the script hash, which is the policy id for minting scripts.
func (s NativeScript) Hash() ([]byte, error) {
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	return NativeScriptHash(b), nil
}

// KeyHashes returns every key hash mentioned by the script, in order of appearance.
func (s NativeScript) KeyHashes() [][]byte {
	var out [][]byte
	seen := make(map[string]bool)
	var walk func(NativeScript)
	walk = func(n NativeScript) {
		if n.Kind == ScriptPubKey && !seen[string(n.KeyHash)] {
			seen[string(n.KeyHash)] = true
			out = append(out, n.KeyHash)
		}
		for _, c := range n.Scripts {
			walk(c)
		}
	}
	walk(s)
	return out
}

// InvalidHereafter returns the smallest hereafter lock of the script, if any.
func (s NativeScript) InvalidHereafter() (uint64, bool) {
	var (
		slot  uint64
		found bool
	)
	var walk func(NativeScript)
	walk = func(n NativeScript) {
		if n.Kind == ScriptInvalidHereafter && (!found || n.Slot < slot) {
			slot, found = n.Slot, true
		}
		for _, c := range n.Scripts {
			walk(c)
		}
	}
	walk(s)
	return slot, found
}

// PolicyFromKeys builds an all-of policy over keyHashes, optionally time locked.
func PolicyFromKeys(keyHashes [][]byte, lockSlot uint64) NativeScript {
	scripts := make([]NativeScript, 0, len(keyHashes)+1)
	for _, h := range keyHashes {
		scripts = append(scripts, NativeScript{Kind: ScriptPubKey, KeyHash: h})
	}
	if lockSlot > 0 {
		scripts = append(scripts, NativeScript{Kind: ScriptInvalidHereafter, Slot: lockSlot})
	}
	if len(scripts) == 1 {
		return scripts[0]
	}
	return NativeScript{Kind: ScriptAll, Scripts: scripts}
}
