package evaluator

import (
	"math/big"
	"unicode/utf8"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// Shape selects which argument size measure a linear cost applies to.
type Shape uint8

const (
	ShapeConstant Shape = iota
	ShapeFirst
	ShapeSum
	ShapeMax
	ShapeMin
)

// Linear is intercept + slope*measure(sizes).
type Linear struct {
	Shape     Shape
	Intercept uint64
	Slope     uint64
}

func (l Linear) apply(sizes []uint64) uint64 {
	var x uint64
	switch l.Shape {
	case ShapeConstant:
		return l.Intercept
	case ShapeFirst:
		if len(sizes) > 0 {
			x = sizes[0]
		}
	case ShapeSum:
		for _, s := range sizes {
			x += s
		}
	case ShapeMax:
		for _, s := range sizes {
			x = max(x, s)
		}
	case ShapeMin:
		for i, s := range sizes {
			if i == 0 || s < x {
				x = s
			}
		}
	}
	return l.Intercept + l.Slope*x
}

// BuiltinCost prices one builtin call.
type BuiltinCost struct {
	CPU Linear
	Mem Linear
}

// CostModel holds machine and builtin prices.
type CostModel struct {
	Startup  model.ExUnits
	Step     model.ExUnits
	Builtins map[Builtin]BuiltinCost
}

func constant(cpu, mem uint64) BuiltinCost {
	return BuiltinCost{CPU: Linear{Intercept: cpu}, Mem: Linear{Intercept: mem}}
}

// DefaultCostModel approximates the Babbage era PlutusV2 parameters.
func DefaultCostModel() CostModel {
	return CostModel{
		Startup: model.ExUnits{Mem: 100, Steps: 100},
		Step:    model.ExUnits{Mem: 100, Steps: 23000},
		Builtins: map[Builtin]BuiltinCost{
			AddInteger: {
				CPU: Linear{Shape: ShapeMax, Intercept: 205665, Slope: 812},
				Mem: Linear{Shape: ShapeMax, Intercept: 1, Slope: 1},
			},
			SubtractInteger: {
				CPU: Linear{Shape: ShapeMax, Intercept: 205665, Slope: 812},
				Mem: Linear{Shape: ShapeMax, Intercept: 1, Slope: 1},
			},
			MultiplyInteger: {
				CPU: Linear{Shape: ShapeSum, Intercept: 69522, Slope: 11687},
				Mem: Linear{Shape: ShapeSum, Slope: 1},
			},
			DivideInteger: {
				CPU: Linear{Shape: ShapeSum, Intercept: 196500, Slope: 10560},
				Mem: Linear{Shape: ShapeFirst, Intercept: 1, Slope: 1},
			},
			EqualsInteger: {
				CPU: Linear{Shape: ShapeMin, Intercept: 208512, Slope: 421},
				Mem: Linear{Intercept: 1},
			},
			LessThanInteger: {
				CPU: Linear{Shape: ShapeMin, Intercept: 208896, Slope: 511},
				Mem: Linear{Intercept: 1},
			},
			LessThanEqualsInteger: {
				CPU: Linear{Shape: ShapeMin, Intercept: 204924, Slope: 473},
				Mem: Linear{Intercept: 1},
			},
			AppendByteString: {
				CPU: Linear{Shape: ShapeSum, Intercept: 1000, Slope: 571},
				Mem: Linear{Shape: ShapeSum, Slope: 1},
			},
			LengthOfByteString: constant(1000, 10),
			EqualsByteString: {
				CPU: Linear{Shape: ShapeMin, Intercept: 216773, Slope: 62},
				Mem: Linear{Intercept: 1},
			},
			Sha2_256: {
				CPU: Linear{Shape: ShapeFirst, Intercept: 806990, Slope: 30482},
				Mem: Linear{Intercept: 4},
			},
			Sha3_256: {
				CPU: Linear{Shape: ShapeFirst, Intercept: 1927926, Slope: 82523},
				Mem: Linear{Intercept: 4},
			},
			Blake2b_256: {
				CPU: Linear{Shape: ShapeFirst, Intercept: 117366, Slope: 10475},
				Mem: Linear{Intercept: 4},
			},
			VerifyEd25519Signature: {
				CPU: Linear{Shape: ShapeSum, Intercept: 57996947, Slope: 18975},
				Mem: Linear{Intercept: 10},
			},
			AppendString: {
				CPU: Linear{Shape: ShapeSum, Intercept: 1000, Slope: 24177},
				Mem: Linear{Shape: ShapeSum, Intercept: 4, Slope: 1},
			},
			EqualsString: {
				CPU: Linear{Shape: ShapeMin, Intercept: 187000, Slope: 1000},
				Mem: Linear{Intercept: 1},
			},
			IfThenElse: constant(80556, 1),
			ChooseUnit: constant(46417, 4),
			Trace:      constant(212342, 32),
			IData:      constant(1000, 32),
			BData:      constant(1000, 32),
			UnIData:    constant(43357, 32),
			UnBData:    constant(31220, 32),
			EqualsData: {
				CPU: Linear{Shape: ShapeMin, Intercept: 1060367, Slope: 12586},
				Mem: Linear{Intercept: 1},
			},
			SerialiseData: {
				CPU: Linear{Shape: ShapeFirst, Intercept: 1159724, Slope: 392670},
				Mem: Linear{Shape: ShapeFirst, Slope: 2},
			},
		},
	}
}

func (c CostModel) builtin(fn Builtin, args []value) model.ExUnits {
	bc, ok := c.Builtins[fn]
	if !ok {
		return c.Step
	}
	sizes := make([]uint64, len(args))
	for i, a := range args {
		sizes[i] = a.size()
	}
	return model.ExUnits{Mem: bc.Mem.apply(sizes), Steps: bc.CPU.apply(sizes)}
}

func intSize(n *big.Int) uint64 {
	if n == nil || n.Sign() == 0 {
		return 1
	}
	return uint64((n.BitLen()-1)/64 + 1)
}

func bytesSize(b []byte) uint64 {
	if len(b) == 0 {
		return 1
	}
	return uint64((len(b)-1)/8 + 1)
}

func constSize(c Constant) uint64 {
	switch c.Type {
	case TypeInteger:
		return intSize(c.Int)
	case TypeByteString:
		return bytesSize(c.Bytes)
	case TypeString:
		return uint64(utf8.RuneCountInString(c.Str))
	case TypeData:
		return dataSize(c.Data)
	default:
		return 1
	}
}
