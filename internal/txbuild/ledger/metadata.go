package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// MetadataLabelNFT is the CIP-25 token metadata label.
	MetadataLabelNFT uint64 = 721
	// MetadataLabelMessage is the CIP-20 transaction message label.
	MetadataLabelMessage uint64 = 674

	maxMetadataString = 64
)

// Metadata is transaction metadata keyed by label.
type Metadata map[uint64]any

// Empty reports whether no label is set.
func (m Metadata) Empty() bool {
	return len(m) == 0
}

// Bytes encodes the auxiliary data; nil when empty.
func (m Metadata) Bytes() ([]byte, error) {
	if m.Empty() {
		return nil, nil
	}
	b, err := encMode.Marshal(map[uint64]any(m))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// MetadatumFromJSON converts a JSON document into metadata primitives: maps,
// lists, integers and text chunked to the 64 byte limit.
func MetadatumFromJSON(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode metadata json: %w", err)
	}
	return metadatum(v)
}

func metadatum(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case bool:
		return fmt.Sprint(t), nil
	case string:
		return text(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return text(t.String()), nil
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			m, err := metadatum(e)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if len(k) > maxMetadataString {
				return nil, fmt.Errorf("metadata key %q longer than %d bytes", k, maxMetadataString)
			}
			m, err := metadatum(e)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported metadata value %T", v)
	}
}

// text returns s, or a list of chunks when it exceeds the string limit.
func text(s string) any {
	if len(s) <= maxMetadataString {
		return s
	}
	chunks := ChunkString(s)
	out := make([]any, len(chunks))
	for i, c := range chunks {
		out[i] = c
	}
	return out
}

// ChunkString splits s into pieces of at most 64 bytes without breaking runes.
func ChunkString(s string) []string {
	var out []string
	for len(s) > maxMetadataString {
		cut := maxMetadataString
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxMetadataString
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	return append(out, s)
}

func isRuneStart(b byte) bool {
	return b&0xc0 != 0x80
}

// NFTMetadata builds the CIP-25 entry for tokens under one policy.
func NFTMetadata(policyHex string, tokens map[string]json.RawMessage) (map[string]any, error) {
	names := make([]string, 0, len(tokens))
	for name := range tokens {
		names = append(names, name)
	}
	sort.Strings(names)
	assets := make(map[string]any, len(tokens))
	for _, name := range names {
		m, err := MetadatumFromJSON(tokens[name])
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", name, err)
		}
		assets[name] = m
	}
	return map[string]any{policyHex: assets}, nil
}

// MessageMetadata builds the CIP-20 message entry.
func MessageMetadata(lines []string) map[string]any {
	var msg []any
	for _, l := range lines {
		for _, c := range ChunkString(l) {
			msg = append(msg, c)
		}
	}
	return map[string]any{"msg": msg}
}
