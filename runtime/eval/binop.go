package eval

import (
	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
)

// evalBinOp implements BinaryOp's arithmetic, comparison, boolean, and
// bitwise operators over Int/Float (numeric promotion to Float when either
// side is Float), with String only supporting BinAdd (concatenation) and
// equality.
func evalBinOp(op ir.BinOp, lhs, rhs value.Value, span value.Span) (value.Value, error) {
	switch op {
	case ir.BinEq:
		return value.Bool(valuesEqual(lhs, rhs), span), nil
	case ir.BinNeq:
		return value.Bool(!valuesEqual(lhs, rhs), span), nil
	case ir.BinAnd, ir.BinOr:
		l, err := lhs.AsBool()
		if err != nil {
			return value.Value{}, err
		}
		r, err := rhs.AsBool()
		if err != nil {
			return value.Value{}, err
		}
		if op == ir.BinAnd {
			return value.Bool(l && r, span), nil
		}
		return value.Bool(l || r, span), nil
	}

	if lhs.Kind == value.KindString && rhs.Kind == value.KindString && op == ir.BinAdd {
		l, _ := lhs.AsString()
		r, _ := rhs.AsString()
		return value.String(l+r, span), nil
	}

	if lhs.Kind == value.KindInt && rhs.Kind == value.KindInt {
		l, _ := lhs.AsInt()
		r, _ := rhs.AsInt()
		return intBinOp(op, l, r, span)
	}

	lf, err := numericAsFloat(lhs)
	if err != nil {
		return value.Value{}, err
	}
	rf, err := numericAsFloat(rhs)
	if err != nil {
		return value.Value{}, err
	}
	return floatBinOp(op, lf, rf, span)
}

func numericAsFloat(v value.Value) (float64, error) {
	switch v.Kind {
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f, nil
	case value.KindInt:
		i, _ := v.AsInt()
		return float64(i), nil
	default:
		return 0, shellerr.NewSpanned(shellerr.KindTypeMismatch, "expected a numeric value", shellerr.Span{Start: v.Span.Start, End: v.Span.End})
	}
}

func intBinOp(op ir.BinOp, l, r int64, span value.Span) (value.Value, error) {
	switch op {
	case ir.BinAdd:
		return value.Int(l+r, span), nil
	case ir.BinSub:
		return value.Int(l-r, span), nil
	case ir.BinMul:
		return value.Int(l*r, span), nil
	case ir.BinDiv:
		if r == 0 {
			return value.Value{}, shellerr.NewSpanned(shellerr.KindGeneric, "division by zero", shellerr.Span{Start: span.Start, End: span.End})
		}
		return value.Int(l/r, span), nil
	case ir.BinMod:
		if r == 0 {
			return value.Value{}, shellerr.NewSpanned(shellerr.KindGeneric, "division by zero", shellerr.Span{Start: span.Start, End: span.End})
		}
		return value.Int(l%r, span), nil
	case ir.BinLt:
		return value.Bool(l < r, span), nil
	case ir.BinLte:
		return value.Bool(l <= r, span), nil
	case ir.BinGt:
		return value.Bool(l > r, span), nil
	case ir.BinGte:
		return value.Bool(l >= r, span), nil
	case ir.BinBitAnd:
		return value.Int(l&r, span), nil
	case ir.BinBitOr:
		return value.Int(l|r, span), nil
	case ir.BinBitXor:
		return value.Int(l^r, span), nil
	case ir.BinShl:
		return value.Int(l<<uint(r), span), nil
	case ir.BinShr:
		return value.Int(l>>uint(r), span), nil
	default:
		return value.Value{}, shellerr.CompilerBug("unsupported BinOp for int operands")
	}
}

func floatBinOp(op ir.BinOp, l, r float64, span value.Span) (value.Value, error) {
	switch op {
	case ir.BinAdd:
		return value.Float(l+r, span), nil
	case ir.BinSub:
		return value.Float(l-r, span), nil
	case ir.BinMul:
		return value.Float(l*r, span), nil
	case ir.BinDiv:
		if r == 0 {
			return value.Value{}, shellerr.NewSpanned(shellerr.KindGeneric, "division by zero", shellerr.Span{Start: span.Start, End: span.End})
		}
		return value.Float(l/r, span), nil
	case ir.BinLt:
		return value.Bool(l < r, span), nil
	case ir.BinLte:
		return value.Bool(l <= r, span), nil
	case ir.BinGt:
		return value.Bool(l > r, span), nil
	case ir.BinGte:
		return value.Bool(l >= r, span), nil
	default:
		return value.Value{}, shellerr.CompilerBug("unsupported BinOp for float operands")
	}
}

func valuesEqual(a, b value.Value) bool {
	if a.Kind != b.Kind {
		af, aerr := numericAsFloat(a)
		bf, berr := numericAsFloat(b)
		if aerr == nil && berr == nil {
			return af == bf
		}
		return false
	}
	switch a.Kind {
	case value.KindNothing:
		return true
	case value.KindBool:
		x, _ := a.AsBool()
		y, _ := b.AsBool()
		return x == y
	case value.KindInt:
		x, _ := a.AsInt()
		y, _ := b.AsInt()
		return x == y
	case value.KindFloat:
		x, _ := a.AsFloat()
		y, _ := b.AsFloat()
		return x == y
	case value.KindString, value.KindGlob:
		x, _ := a.AsString()
		y, _ := b.AsString()
		return x == y
	default:
		return false
	}
}
