package evaluator

import (
	"errors"
	"fmt"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

type value interface {
	size() uint64
}

type (
	vCon struct {
		c Constant
	}
	vDelay struct {
		body Term
		env  *env
	}
	vLam struct {
		body Term
		env  *env
	}
	vBuiltin struct {
		fn     Builtin
		forces int
		args   []value
	}
)

func con(c Constant) vCon { return vCon{c: c} }

func (v vCon) size() uint64   { return constSize(v.c) }
func (vDelay) size() uint64   { return 1 }
func (vLam) size() uint64     { return 1 }
func (vBuiltin) size() uint64 { return 1 }

func describe(v value) string {
	switch t := v.(type) {
	case vCon:
		return fmt.Sprintf("constant(type %d)", t.c.Type)
	case vDelay:
		return "delay"
	case vLam:
		return "lambda"
	case vBuiltin:
		return t.fn.String()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// env is a de Bruijn environment; index 1 is the head.
type env struct {
	v    value
	next *env
}

func (e *env) lookup(i uint64) (value, bool) {
	for ; e != nil; e = e.next {
		if i == 1 {
			return e.v, true
		}
		i--
	}
	return nil, false
}

type frameKind uint8

const (
	frameForce frameKind = iota
	frameArg
	frameFun
)

type frame struct {
	kind frameKind
	term Term
	env  *env
	fun  value
}

var (
	errBudgetExhausted = errors.New("budget exhausted")
	errExplicitError   = errors.New("script raised an error")
)

const maxTraces = 64

type machine struct {
	costs  *CostModel
	limit  model.ExUnits
	spent  model.ExUnits
	traces []string
}

func newMachine(costs *CostModel, limit model.ExUnits) *machine {
	return &machine{costs: costs, limit: limit}
}

func (m *machine) spend(u model.ExUnits) error {
	m.spent = m.spent.Add(u)
	if m.spent.Mem > m.limit.Mem || m.spent.Steps > m.limit.Steps {
		return errBudgetExhausted
	}
	return nil
}

func (m *machine) trace(s string) {
	if len(m.traces) < maxTraces {
		m.traces = append(m.traces, s)
	}
}

// run evaluates t to a value, keeping the continuation on an explicit stack.
func (m *machine) run(t Term) (value, error) {
	if err := m.spend(m.costs.Startup); err != nil {
		return nil, err
	}
	var (
		stack []frame
		cur   = t
		curE  *env
		ret   value
	)
	for {
		if cur != nil {
			if err := m.spend(m.costs.Step); err != nil {
				return nil, err
			}
			switch n := cur.(type) {
			case Var:
				v, ok := curE.lookup(n.Index)
				if !ok {
					return nil, fmt.Errorf("unbound variable %d", n.Index)
				}
				ret = v
			case Const:
				ret = con(n.Value)
			case Lambda:
				ret = vLam{body: n.Body, env: curE}
			case Delay:
				ret = vDelay{body: n.Body, env: curE}
			case BuiltinTerm:
				ret = vBuiltin{fn: n.Fn}
			case Force:
				stack = append(stack, frame{kind: frameForce})
				cur = n.Body
				continue
			case Apply:
				stack = append(stack, frame{kind: frameArg, term: n.Arg, env: curE})
				cur = n.Fun
				continue
			case ErrorTerm:
				return nil, errExplicitError
			default:
				return nil, fmt.Errorf("unknown term %T", cur)
			}
			cur = nil
		}

		if len(stack) == 0 {
			return ret, nil
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch f.kind {
		case frameForce:
			next, nextE, v, err := m.force(ret)
			if err != nil {
				return nil, err
			}
			cur, curE, ret = next, nextE, v
		case frameArg:
			stack = append(stack, frame{kind: frameFun, fun: ret})
			cur, curE = f.term, f.env
		case frameFun:
			next, nextE, v, err := m.apply(f.fun, ret)
			if err != nil {
				return nil, err
			}
			cur, curE, ret = next, nextE, v
		}
	}
}

// force returns either a term to compute next or a value to return.
func (m *machine) force(v value) (Term, *env, value, error) {
	switch t := v.(type) {
	case vDelay:
		return t.body, t.env, nil, nil
	case vBuiltin:
		spec := builtins[t.fn]
		if t.forces >= spec.forces {
			return nil, nil, nil, fmt.Errorf("%s: unexpected force", spec.name)
		}
		t.forces++
		return nil, nil, t, nil
	default:
		return nil, nil, nil, fmt.Errorf("cannot force %s", describe(v))
	}
}

func (m *machine) apply(fn, arg value) (Term, *env, value, error) {
	switch t := fn.(type) {
	case vLam:
		return t.body, &env{v: arg, next: t.env}, nil, nil
	case vBuiltin:
		spec := builtins[t.fn]
		if t.forces < spec.forces {
			return nil, nil, nil, fmt.Errorf("%s: applied before force", spec.name)
		}
		args := make([]value, len(t.args), len(t.args)+1)
		copy(args, t.args)
		args = append(args, arg)
		if len(args) < spec.arity {
			return nil, nil, vBuiltin{fn: t.fn, forces: t.forces, args: args}, nil
		}
		if err := m.spend(m.costs.builtin(t.fn, args)); err != nil {
			return nil, nil, nil, err
		}
		out, err := spec.run(m, args)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s: %w", spec.name, err)
		}
		return nil, nil, out, nil
	default:
		return nil, nil, nil, fmt.Errorf("cannot apply %s", describe(fn))
	}
}
