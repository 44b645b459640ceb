package ledger

import (
	"golang.org/x/crypto/blake2b"
)

const (
	nativeScriptTag   = 0x00
	plutusV2ScriptTag = 0x02
)

// Blake2b256 hashes transaction bodies, auxiliary data and script data.
func Blake2b256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

// Blake2b224 hashes keys and scripts into credentials.
func Blake2b224(data []byte) []byte {
	h, err := blake2b.New(HashSize, nil)
	if err != nil {
		// only reachable with an invalid size constant
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// KeyHash returns the credential hash of an ed25519 verification key.
func KeyHash(vkey []byte) []byte {
	return Blake2b224(vkey)
}

// NativeScriptHash returns the policy id / script hash of a native script encoding.
func NativeScriptHash(scriptCBOR []byte) []byte {
	return Blake2b224(append([]byte{nativeScriptTag}, scriptCBOR...))
}

// PlutusScriptHash returns the hash of a Plutus V2 script.
func PlutusScriptHash(script []byte) []byte {
	return Blake2b224(append([]byte{plutusV2ScriptTag}, script...))
}
