// Package evaluator prices script execution. Scripts are untyped lambda
// calculus programs serialized as CBOR term trees and run on a CEK machine
// that charges every step and builtin call against a budget.
package evaluator

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
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
		panic(fmt.Errorf("evaluator: cbor enc mode: %w", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
		MaxNestedLevels:  maxTermDepth + 8,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("evaluator: cbor dec mode: %w", err))
	}
}

const maxTermDepth = 1024

// Term is a program node. Variables are de Bruijn indices starting at 1.
type Term interface {
	isTerm()
}

type (
	Var struct {
		Index uint64
	}
	Lambda struct {
		Body Term
	}
	Apply struct {
		Fun Term
		Arg Term
	}
	Delay struct {
		Body Term
	}
	Force struct {
		Body Term
	}
	Const struct {
		Value Constant
	}
	BuiltinTerm struct {
		Fn Builtin
	}
	ErrorTerm struct{}
)

func (Var) isTerm()         {}
func (Lambda) isTerm()      {}
func (Apply) isTerm()       {}
func (Delay) isTerm()       {}
func (Force) isTerm()       {}
func (Const) isTerm()       {}
func (BuiltinTerm) isTerm() {}
func (ErrorTerm) isTerm()   {}

// term tags on the wire
const (
	tagVar uint8 = iota
	tagDelay
	tagLambda
	tagApply
	tagConst
	tagForce
	tagError
	tagBuiltin
)

// ConstType is the type of a constant.
type ConstType uint8

const (
	TypeInteger ConstType = iota
	TypeByteString
	TypeString
	TypeUnit
	TypeBool
	TypeData
)

// Constant is a literal value.
type Constant struct {
	Type  ConstType
	Int   *big.Int
	Bytes []byte
	Str   string
	Bool  bool
	Data  Data
}

func IntConst(v int64) Constant     { return Constant{Type: TypeInteger, Int: big.NewInt(v)} }
func BytesConst(b []byte) Constant  { return Constant{Type: TypeByteString, Bytes: b} }
func StringConst(s string) Constant { return Constant{Type: TypeString, Str: s} }
func BoolConst(b bool) Constant     { return Constant{Type: TypeBool, Bool: b} }
func DataConst(d Data) Constant     { return Constant{Type: TypeData, Data: d} }
func UnitConst() Constant           { return Constant{Type: TypeUnit} }

// Program is a versioned term.
type Program struct {
	Version [3]uint64
	Term    Term
}

// DecodeProgram parses the CBOR form [[major, minor, patch], term].
func DecodeProgram(b []byte) (Program, error) {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(b, &parts); err != nil {
		return Program{}, fmt.Errorf("decode program: %w", err)
	}
	if len(parts) != 2 {
		return Program{}, fmt.Errorf("decode program: want 2 elements, got %d", len(parts))
	}
	var p Program
	if err := decMode.Unmarshal(parts[0], &p.Version); err != nil {
		return Program{}, fmt.Errorf("decode program version: %w", err)
	}
	t, err := decodeTerm(parts[1], 0)
	if err != nil {
		return Program{}, fmt.Errorf("decode program: %w", err)
	}
	p.Term = t
	return p, nil
}

func decodeTerm(raw cbor.RawMessage, depth int) (Term, error) {
	if depth > maxTermDepth {
		return nil, fmt.Errorf("term nesting deeper than %d", maxTermDepth)
	}
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty term")
	}
	var tag uint8
	if err := decMode.Unmarshal(parts[0], &tag); err != nil {
		return nil, fmt.Errorf("term tag: %w", err)
	}
	want := map[uint8]int{
		tagVar: 2, tagDelay: 2, tagLambda: 2, tagApply: 3,
		tagConst: 3, tagForce: 2, tagError: 1, tagBuiltin: 2,
	}
	n, ok := want[tag]
	if !ok {
		return nil, fmt.Errorf("unknown term tag %d", tag)
	}
	if tag == tagConst && len(parts) == 2 {
		n = 2
	}
	if len(parts) != n {
		return nil, fmt.Errorf("term tag %d: want %d elements, got %d", tag, n, len(parts))
	}

	sub := func(i int) (Term, error) { return decodeTerm(parts[i], depth+1) }
	switch tag {
	case tagVar:
		var v Var
		if err := decMode.Unmarshal(parts[1], &v.Index); err != nil {
			return nil, fmt.Errorf("var index: %w", err)
		}
		if v.Index == 0 {
			return nil, fmt.Errorf("var index must be positive")
		}
		return v, nil
	case tagDelay, tagLambda, tagForce:
		body, err := sub(1)
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagDelay:
			return Delay{Body: body}, nil
		case tagLambda:
			return Lambda{Body: body}, nil
		default:
			return Force{Body: body}, nil
		}
	case tagApply:
		f, err := sub(1)
		if err != nil {
			return nil, err
		}
		a, err := sub(2)
		if err != nil {
			return nil, err
		}
		return Apply{Fun: f, Arg: a}, nil
	case tagConst:
		c, err := decodeConstant(parts[1:])
		if err != nil {
			return nil, err
		}
		return Const{Value: c}, nil
	case tagError:
		return ErrorTerm{}, nil
	default:
		var fn Builtin
		if err := decMode.Unmarshal(parts[1], &fn); err != nil {
			return nil, fmt.Errorf("builtin id: %w", err)
		}
		if _, ok := builtins[fn]; !ok {
			return nil, fmt.Errorf("unknown builtin %d", fn)
		}
		return BuiltinTerm{Fn: fn}, nil
	}
}

func decodeConstant(parts []cbor.RawMessage) (Constant, error) {
	var c Constant
	if err := decMode.Unmarshal(parts[0], &c.Type); err != nil {
		return c, fmt.Errorf("constant type: %w", err)
	}
	if c.Type == TypeUnit {
		return c, nil
	}
	if len(parts) != 2 {
		return c, fmt.Errorf("constant of type %d has no value", c.Type)
	}
	raw := parts[1]
	var err error
	switch c.Type {
	case TypeInteger:
		c.Int = new(big.Int)
		err = decMode.Unmarshal(raw, c.Int)
	case TypeByteString:
		err = decMode.Unmarshal(raw, &c.Bytes)
	case TypeString:
		err = decMode.Unmarshal(raw, &c.Str)
	case TypeBool:
		err = decMode.Unmarshal(raw, &c.Bool)
	case TypeData:
		c.Data, err = DecodeData(raw)
	default:
		return c, fmt.Errorf("unknown constant type %d", c.Type)
	}
	if err != nil {
		return c, fmt.Errorf("constant value: %w", err)
	}
	return c, nil
}

// Encode serializes the program.
func (p Program) Encode() ([]byte, error) {
	t, err := termValue(p.Term)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal([]any{p.Version[:], t})
}

func termValue(t Term) (any, error) {
	wrap := func(tag uint8, subs ...Term) (any, error) {
		out := []any{tag}
		for _, s := range subs {
			v, err := termValue(s)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	switch v := t.(type) {
	case Var:
		return []any{tagVar, v.Index}, nil
	case Delay:
		return wrap(tagDelay, v.Body)
	case Lambda:
		return wrap(tagLambda, v.Body)
	case Apply:
		return wrap(tagApply, v.Fun, v.Arg)
	case Force:
		return wrap(tagForce, v.Body)
	case ErrorTerm:
		return []any{tagError}, nil
	case BuiltinTerm:
		return []any{tagBuiltin, uint64(v.Fn)}, nil
	case Const:
		return constValue(v.Value)
	default:
		return nil, fmt.Errorf("unknown term %T", t)
	}
}

func constValue(c Constant) (any, error) {
	var value any
	switch c.Type {
	case TypeUnit:
		return []any{tagConst, c.Type}, nil
	case TypeInteger:
		value = c.Int
	case TypeByteString:
		value = c.Bytes
	case TypeString:
		value = c.Str
	case TypeBool:
		value = c.Bool
	case TypeData:
		b, err := EncodeData(c.Data)
		if err != nil {
			return nil, err
		}
		value = cbor.RawMessage(b)
	default:
		return nil, fmt.Errorf("unknown constant type %d", c.Type)
	}
	return []any{tagConst, c.Type, value}, nil
}
