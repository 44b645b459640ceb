package evaluator

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

func call(fn Builtin, args ...Term) Term {
	var t Term = BuiltinTerm{Fn: fn}
	for _, a := range args {
		t = Apply{Fun: t, Arg: a}
	}
	return t
}

func intTerm(v int64) Term { return Const{Value: IntConst(v)} }

func evalTerm(t *testing.T, term Term) (value, *machine, error) {
	t.Helper()
	costs := DefaultCostModel()
	m := newMachine(&costs, model.ExUnits{Mem: 1 << 40, Steps: 1 << 50})
	v, err := m.run(term)
	return v, m, err
}

func TestMachineBuiltins(t *testing.T) {
	tests := []struct {
		name string
		term Term
		want Constant
	}{
		{name: "add", term: call(AddInteger, intTerm(2), intTerm(40)), want: IntConst(42)},
		{name: "floor division", term: call(DivideInteger, intTerm(-7), intTerm(2)), want: IntConst(-4)},
		{name: "less than", term: call(LessThanInteger, intTerm(1), intTerm(2)), want: BoolConst(true)},
		{
			name: "append bytes",
			term: call(AppendByteString, Const{Value: BytesConst([]byte{1})}, Const{Value: BytesConst([]byte{2})}),
			want: BytesConst([]byte{1, 2}),
		},
		{
			name: "un iData",
			term: call(UnIData, call(IData, intTerm(9))),
			want: IntConst(9),
		},
		{
			name: "lambda application",
			term: Apply{Fun: Lambda{Body: call(MultiplyInteger, Var{Index: 1}, Var{Index: 1})}, Arg: intTerm(12)},
			want: IntConst(144),
		},
		{
			name: "partial builtin",
			term: Apply{Fun: call(SubtractInteger, intTerm(10)), Arg: intTerm(3)},
			want: IntConst(7),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, err := evalTerm(t, tt.term)
			require.NoError(t, err)
			c, ok := v.(vCon)
			require.True(t, ok, "got %s", describe(v))
			assert.Equal(t, tt.want.Type, c.c.Type)
			switch tt.want.Type {
			case TypeInteger:
				assert.Zero(t, tt.want.Int.Cmp(c.c.Int), "got %s", c.c.Int)
			default:
				assert.Equal(t, tt.want, c.c)
			}
		})
	}
}

func TestMachineErrors(t *testing.T) {
	tests := []struct {
		name string
		term Term
		want string
	}{
		{name: "error term", term: ErrorTerm{}, want: errExplicitError.Error()},
		{name: "unbound", term: Var{Index: 1}, want: "unbound variable"},
		{name: "division by zero", term: call(DivideInteger, intTerm(1), intTerm(0)), want: "division by zero"},
		{name: "type mismatch", term: call(AddInteger, intTerm(1), Const{Value: StringConst("x")}), want: "expected constant"},
		{name: "apply constant", term: Apply{Fun: intTerm(1), Arg: intTerm(2)}, want: "cannot apply"},
		{name: "unforced builtin", term: call(IfThenElse, Const{Value: BoolConst(true)}), want: "applied before force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := evalTerm(t, tt.term)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMachineTraceAndCost(t *testing.T) {
	term := Apply{
		Fun: Apply{Fun: Force{Body: BuiltinTerm{Fn: Trace}}, Arg: Const{Value: StringConst("hello")}},
		Arg: intTerm(1),
	}
	_, m, err := evalTerm(t, term)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, m.traces)

	costs := DefaultCostModel()
	assert.Greater(t, m.spent.Steps, costs.Builtins[Trace].CPU.Intercept)
}

func TestMachineBudget(t *testing.T) {
	costs := DefaultCostModel()
	m := newMachine(&costs, model.ExUnits{Mem: 1_000_000, Steps: 100_000})
	// omega: (\x. x x)(\x. x x) never terminates
	self := Lambda{Body: Apply{Fun: Var{Index: 1}, Arg: Var{Index: 1}}}
	_, err := m.run(Apply{Fun: self, Arg: self})
	assert.ErrorIs(t, err, errBudgetExhausted)
}

func TestProgramRoundTrip(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 100)
	prog := Program{Version: [3]uint64{1, 0, 0}, Term: Lambda{Body: Apply{
		Fun: Delay{Body: Const{Value: Constant{Type: TypeInteger, Int: big1}}},
		Arg: Force{Body: Const{Value: DataConst(Constr{Index: 3, Fields: []Data{DataBytes("abc")}})}},
	}}}
	b, err := prog.Encode()
	require.NoError(t, err)
	decoded, err := DecodeProgram(b)
	require.NoError(t, err)
	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, b, again)

	_, err = DecodeProgram([]byte{0x82, 0x83, 0x01, 0x00, 0x00, 0x82, 0x09, 0x01})
	assert.ErrorContains(t, err, "unknown term tag")
	_, err = DecodeProgram([]byte{0x82, 0x83, 0x01, 0x00, 0x00, 0x82, 0x00, 0x00})
	assert.ErrorContains(t, err, "var index")
}

func TestDataRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data Data
	}{
		{name: "small constr", data: Constr{Index: 0, Fields: []Data{Int(1), DataBytes{1, 2}}}},
		{name: "extended constr", data: Constr{Index: 10}},
		{name: "general constr", data: Constr{Index: 500, Fields: []Data{Int(-3)}}},
		{name: "map", data: DataMap{{Key: DataBytes("k"), Value: DataList{Int(1), Int(2)}}}},
		{name: "big int", data: DataInt{Value: new(big.Int).Lsh(big.NewInt(-1), 80)}},
		{name: "long bytes", data: DataBytes(strings.Repeat("x", 150))},
		{name: "empty list", data: DataList{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeData(tt.data)
			require.NoError(t, err)
			decoded, err := DecodeData(b)
			require.NoError(t, err)
			again, err := EncodeData(decoded)
			require.NoError(t, err)
			assert.Equal(t, b, again)
			assert.True(t, EqualData(tt.data, decoded))
		})
	}

	_, err := DecodeData([]byte{0x01, 0x02})
	assert.ErrorContains(t, err, "trailing")
	_, err = DecodeData([]byte{0xd8, 0x79, 0x9f, 0x01})
	assert.Error(t, err)
}
