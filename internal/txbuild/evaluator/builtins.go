package evaluator

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Builtin identifies a primitive function. Numbering follows the on-chain
// builtin table.
type Builtin uint8

const (
	AddInteger             Builtin = 0
	SubtractInteger        Builtin = 1
	MultiplyInteger        Builtin = 2
	DivideInteger          Builtin = 3
	EqualsInteger          Builtin = 7
	LessThanInteger        Builtin = 8
	LessThanEqualsInteger  Builtin = 9
	AppendByteString       Builtin = 10
	LengthOfByteString     Builtin = 13
	EqualsByteString       Builtin = 15
	Sha2_256               Builtin = 18
	Sha3_256               Builtin = 19
	Blake2b_256            Builtin = 20
	VerifyEd25519Signature Builtin = 21
	AppendString           Builtin = 22
	EqualsString           Builtin = 23
	IfThenElse             Builtin = 26
	ChooseUnit             Builtin = 27
	Trace                  Builtin = 28
	IData                  Builtin = 40
	BData                  Builtin = 41
	UnIData                Builtin = 45
	UnBData                Builtin = 46
	EqualsData             Builtin = 47
	SerialiseData          Builtin = 51
)

type builtinSpec struct {
	name   string
	arity  int
	forces int
	run    func(m *machine, args []value) (value, error)
}

var builtins map[Builtin]builtinSpec

func init() {
	builtins = map[Builtin]builtinSpec{
		AddInteger:      intOp("addInteger", func(a, b *big.Int) (*big.Int, error) { return new(big.Int).Add(a, b), nil }),
		SubtractInteger: intOp("subtractInteger", func(a, b *big.Int) (*big.Int, error) { return new(big.Int).Sub(a, b), nil }),
		MultiplyInteger: intOp("multiplyInteger", func(a, b *big.Int) (*big.Int, error) { return new(big.Int).Mul(a, b), nil }),
		DivideInteger:   intOp("divideInteger", floorDiv),

		EqualsInteger:         intCmp("equalsInteger", func(c int) bool { return c == 0 }),
		LessThanInteger:       intCmp("lessThanInteger", func(c int) bool { return c < 0 }),
		LessThanEqualsInteger: intCmp("lessThanEqualsInteger", func(c int) bool { return c <= 0 }),

		AppendByteString: {name: "appendByteString", arity: 2, run: func(_ *machine, args []value) (value, error) {
			a, b, err := twoBytes(args)
			if err != nil {
				return nil, err
			}
			return con(BytesConst(append(append([]byte(nil), a...), b...))), nil
		}},
		LengthOfByteString: {name: "lengthOfByteString", arity: 1, run: func(_ *machine, args []value) (value, error) {
			a, err := asBytes(args[0])
			if err != nil {
				return nil, err
			}
			return con(IntConst(int64(len(a)))), nil
		}},
		EqualsByteString: {name: "equalsByteString", arity: 2, run: func(_ *machine, args []value) (value, error) {
			a, b, err := twoBytes(args)
			if err != nil {
				return nil, err
			}
			return con(BoolConst(bytes.Equal(a, b))), nil
		}},
		Sha2_256: hashOp("sha2_256", func(b []byte) []byte {
			h := sha256.Sum256(b)
			return h[:]
		}),
		Sha3_256: hashOp("sha3_256", func(b []byte) []byte {
			h := sha3.Sum256(b)
			return h[:]
		}),
		Blake2b_256: hashOp("blake2b_256", func(b []byte) []byte {
			h := blake2b.Sum256(b)
			return h[:]
		}),
		VerifyEd25519Signature: {name: "verifyEd25519Signature", arity: 3, run: func(_ *machine, args []value) (value, error) {
			key, err := asBytes(args[0])
			if err != nil {
				return nil, err
			}
			msg, err := asBytes(args[1])
			if err != nil {
				return nil, err
			}
			sig, err := asBytes(args[2])
			if err != nil {
				return nil, err
			}
			if len(key) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
				return nil, fmt.Errorf("verifyEd25519Signature: malformed key or signature")
			}
			return con(BoolConst(ed25519.Verify(key, msg, sig))), nil
		}},
		AppendString: {name: "appendString", arity: 2, run: func(_ *machine, args []value) (value, error) {
			a, err := asString(args[0])
			if err != nil {
				return nil, err
			}
			b, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			return con(StringConst(a + b)), nil
		}},
		EqualsString: {name: "equalsString", arity: 2, run: func(_ *machine, args []value) (value, error) {
			a, err := asString(args[0])
			if err != nil {
				return nil, err
			}
			b, err := asString(args[1])
			if err != nil {
				return nil, err
			}
			return con(BoolConst(a == b)), nil
		}},
		IfThenElse: {name: "ifThenElse", arity: 3, forces: 1, run: func(_ *machine, args []value) (value, error) {
			c, err := asConst(args[0], TypeBool)
			if err != nil {
				return nil, err
			}
			if c.Bool {
				return args[1], nil
			}
			return args[2], nil
		}},
		ChooseUnit: {name: "chooseUnit", arity: 2, forces: 1, run: func(_ *machine, args []value) (value, error) {
			if _, err := asConst(args[0], TypeUnit); err != nil {
				return nil, err
			}
			return args[1], nil
		}},
		Trace: {name: "trace", arity: 2, forces: 1, run: func(m *machine, args []value) (value, error) {
			s, err := asString(args[0])
			if err != nil {
				return nil, err
			}
			m.trace(s)
			return args[1], nil
		}},
		IData: {name: "iData", arity: 1, run: func(_ *machine, args []value) (value, error) {
			c, err := asConst(args[0], TypeInteger)
			if err != nil {
				return nil, err
			}
			return con(DataConst(DataInt{Value: c.Int})), nil
		}},
		BData: {name: "bData", arity: 1, run: func(_ *machine, args []value) (value, error) {
			b, err := asBytes(args[0])
			if err != nil {
				return nil, err
			}
			return con(DataConst(DataBytes(b))), nil
		}},
		UnIData: {name: "unIData", arity: 1, run: func(_ *machine, args []value) (value, error) {
			d, err := asData(args[0])
			if err != nil {
				return nil, err
			}
			i, ok := d.(DataInt)
			if !ok {
				return nil, fmt.Errorf("unIData: not an integer datum")
			}
			return con(Constant{Type: TypeInteger, Int: i.Value}), nil
		}},
		UnBData: {name: "unBData", arity: 1, run: func(_ *machine, args []value) (value, error) {
			d, err := asData(args[0])
			if err != nil {
				return nil, err
			}
			b, ok := d.(DataBytes)
			if !ok {
				return nil, fmt.Errorf("unBData: not a bytes datum")
			}
			return con(BytesConst(b)), nil
		}},
		EqualsData: {name: "equalsData", arity: 2, run: func(_ *machine, args []value) (value, error) {
			a, err := asData(args[0])
			if err != nil {
				return nil, err
			}
			b, err := asData(args[1])
			if err != nil {
				return nil, err
			}
			return con(BoolConst(EqualData(a, b))), nil
		}},
		SerialiseData: {name: "serialiseData", arity: 1, run: func(_ *machine, args []value) (value, error) {
			d, err := asData(args[0])
			if err != nil {
				return nil, err
			}
			b, err := EncodeData(d)
			if err != nil {
				return nil, err
			}
			return con(BytesConst(b)), nil
		}},
	}
}

func (b Builtin) String() string {
	if s, ok := builtins[b]; ok {
		return s.name
	}
	return fmt.Sprintf("builtin(%d)", uint8(b))
}

func intOp(name string, f func(a, b *big.Int) (*big.Int, error)) builtinSpec {
	return builtinSpec{name: name, arity: 2, run: func(_ *machine, args []value) (value, error) {
		a, b, err := twoInts(args)
		if err != nil {
			return nil, err
		}
		r, err := f(a, b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return con(Constant{Type: TypeInteger, Int: r}), nil
	}}
}

func intCmp(name string, f func(int) bool) builtinSpec {
	return builtinSpec{name: name, arity: 2, run: func(_ *machine, args []value) (value, error) {
		a, b, err := twoInts(args)
		if err != nil {
			return nil, err
		}
		return con(BoolConst(f(a.Cmp(b)))), nil
	}}
}

func hashOp(name string, f func([]byte) []byte) builtinSpec {
	return builtinSpec{name: name, arity: 1, run: func(_ *machine, args []value) (value, error) {
		b, err := asBytes(args[0])
		if err != nil {
			return nil, err
		}
		return con(BytesConst(f(b))), nil
	}}
}

// floorDiv rounds toward negative infinity.
func floorDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, fmt.Errorf("division by zero")
	}
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && r.Sign() != b.Sign() {
		q.Sub(q, big.NewInt(1))
	}
	return q, nil
}

func asConst(v value, t ConstType) (Constant, error) {
	c, ok := v.(vCon)
	if !ok || c.c.Type != t {
		return Constant{}, fmt.Errorf("expected constant of type %d, got %s", t, describe(v))
	}
	return c.c, nil
}

func asBytes(v value) ([]byte, error) {
	c, err := asConst(v, TypeByteString)
	return c.Bytes, err
}

func asString(v value) (string, error) {
	c, err := asConst(v, TypeString)
	return c.Str, err
}

func asData(v value) (Data, error) {
	c, err := asConst(v, TypeData)
	return c.Data, err
}

func twoInts(args []value) (*big.Int, *big.Int, error) {
	a, err := asConst(args[0], TypeInteger)
	if err != nil {
		return nil, nil, err
	}
	b, err := asConst(args[1], TypeInteger)
	if err != nil {
		return nil, nil, err
	}
	return a.Int, b.Int, nil
}

func twoBytes(args []value) ([]byte, []byte, error) {
	a, err := asBytes(args[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := asBytes(args[1])
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
