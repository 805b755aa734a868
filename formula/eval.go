package formula

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Evaluate parses and evaluates a formula against the given context.
// Field references absent from the context resolve to null; typed
// operations on null fail with a type error rather than coercing.
//
// Evaluate is pure: it performs no I/O and never executes input as code.
func Evaluate(source string, ctx Context) (Value, error) {
	root, err := Parse(source)
	if err != nil {
		return Null(), err
	}
	return evalNode(root, ctx)
}

// Parse tokenizes and parses a formula, returning the root of the
// restricted AST. Exposed so the validator can syntax-check without
// evaluating, and so callers can parse once and evaluate per record.
func Parse(source string) (Expr, error) {
	tokens, err := lex(source)
	if err != nil {
		return nil, err
	}
	return parse(tokens)
}

// EvaluateParsed evaluates an already-parsed formula against a context.
func EvaluateParsed(root Expr, ctx Context) (Value, error) {
	return evalNode(root, ctx)
}

func evalNode(n Expr, ctx Context) (Value, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.val, nil

	case *fieldNode:
		if v, ok := ctx[n.name]; ok {
			return v, nil
		}
		return Null(), nil

	case *unaryNode:
		return evalUnary(n, ctx)

	case *binaryNode:
		return evalBinary(n, ctx)

	case *callNode:
		return evalCall(n, ctx)

	default:
		return Null(), syntaxErrorf("", n.pos(), "unsupported expression node")
	}
}

func evalUnary(n *unaryNode, ctx Context) (Value, error) {
	v, err := evalNode(n.operand, ctx)
	if err != nil {
		return Null(), err
	}

	switch n.op {
	case tokMinus:
		if v.Kind != KindNumber {
			return Null(), typeErrorf(n.opText, n.at, "unary '-' requires a number, got %s", v.Kind)
		}
		return Number(-v.Num), nil
	case tokBang:
		if v.Kind != KindBool {
			return Null(), typeErrorf(n.opText, n.at, "'!' requires a boolean, got %s", v.Kind)
		}
		return Boolean(!v.Bool), nil
	default:
		return Null(), syntaxErrorf(n.opText, n.at, "unsupported unary operator %q", n.opText)
	}
}

func evalBinary(n *binaryNode, ctx Context) (Value, error) {
	// Boolean operators short-circuit.
	if n.op == tokAndAnd || n.op == tokOrOr {
		left, err := evalNode(n.left, ctx)
		if err != nil {
			return Null(), err
		}
		if left.Kind != KindBool {
			return Null(), typeErrorf(n.opText, n.at, "%q requires boolean operands, got %s", n.opText, left.Kind)
		}
		if n.op == tokAndAnd && !left.Bool {
			return Boolean(false), nil
		}
		if n.op == tokOrOr && left.Bool {
			return Boolean(true), nil
		}
		right, err := evalNode(n.right, ctx)
		if err != nil {
			return Null(), err
		}
		if right.Kind != KindBool {
			return Null(), typeErrorf(n.opText, n.at, "%q requires boolean operands, got %s", n.opText, right.Kind)
		}
		return Boolean(right.Bool), nil
	}

	left, err := evalNode(n.left, ctx)
	if err != nil {
		return Null(), err
	}
	right, err := evalNode(n.right, ctx)
	if err != nil {
		return Null(), err
	}

	switch n.op {
	case tokAmp:
		// Concatenation formats each operand; null formats as "".
		return TextValue(left.Format() + right.Format()), nil

	case tokPlus, tokMinus, tokStar, tokSlash, tokPercent:
		if left.Kind != KindNumber || right.Kind != KindNumber {
			return Null(), typeErrorf(n.opText, n.at,
				"arithmetic %q requires numbers, got %s and %s", n.opText, left.Kind, right.Kind)
		}
		switch n.op {
		case tokPlus:
			return Number(left.Num + right.Num), nil
		case tokMinus:
			return Number(left.Num - right.Num), nil
		case tokStar:
			return Number(left.Num * right.Num), nil
		case tokSlash:
			return Number(left.Num / right.Num), nil
		default:
			return Number(math.Mod(left.Num, right.Num)), nil
		}

	case tokEQ:
		return Boolean(left.Equal(right)), nil
	case tokNE:
		return Boolean(!left.Equal(right)), nil

	case tokLT, tokLE, tokGT, tokGE:
		cmp, err := compareOrdered(left, right, n)
		if err != nil {
			return Null(), err
		}
		switch n.op {
		case tokLT:
			return Boolean(cmp < 0), nil
		case tokLE:
			return Boolean(cmp <= 0), nil
		case tokGT:
			return Boolean(cmp > 0), nil
		default:
			return Boolean(cmp >= 0), nil
		}

	default:
		return Null(), syntaxErrorf(n.opText, n.at, "unsupported operator %q", n.opText)
	}
}

// compareOrdered returns -1/0/1 for same-kind ordered values. Numbers,
// texts (case-sensitive), and dates are ordered; anything else is a type
// error.
func compareOrdered(left, right Value, n *binaryNode) (int, error) {
	if left.Kind != right.Kind {
		return 0, typeErrorf(n.opText, n.at,
			"%q cannot compare %s with %s", n.opText, left.Kind, right.Kind)
	}
	switch left.Kind {
	case KindNumber:
		switch {
		case left.Num < right.Num:
			return -1, nil
		case left.Num > right.Num:
			return 1, nil
		}
		return 0, nil
	case KindText:
		return strings.Compare(left.Text, right.Text), nil
	case KindDate:
		switch {
		case left.Date.Before(right.Date):
			return -1, nil
		case left.Date.After(right.Date):
			return 1, nil
		}
		return 0, nil
	default:
		return 0, typeErrorf(n.opText, n.at, "%q cannot order %s values", n.opText, left.Kind)
	}
}

// evalCall dispatches a function call. IF, AND, and OR receive their
// argument nodes so untaken branches are never evaluated; every other
// function evaluates its arguments eagerly.
func evalCall(n *callNode, ctx Context) (Value, error) {
	name := n.fn.Name()

	switch n.fn {
	case FuncIF:
		cond, err := evalNode(n.args[0], ctx)
		if err != nil {
			return Null(), err
		}
		if cond.Kind != KindBool {
			return Null(), typeErrorf(name, n.at, "IF condition must be boolean, got %s", cond.Kind)
		}
		if cond.Bool {
			return evalNode(n.args[1], ctx)
		}
		return evalNode(n.args[2], ctx)

	case FuncAND, FuncOR:
		identity := n.fn == FuncAND // AND starts true, OR starts false
		for _, arg := range n.args {
			v, err := evalNode(arg, ctx)
			if err != nil {
				return Null(), err
			}
			if v.Kind != KindBool {
				return Null(), typeErrorf(name, n.at, "%s arguments must be boolean, got %s", name, v.Kind)
			}
			if n.fn == FuncAND && !v.Bool {
				return Boolean(false), nil
			}
			if n.fn == FuncOR && v.Bool {
				return Boolean(true), nil
			}
		}
		return Boolean(identity), nil
	}

	args := make([]Value, len(n.args))
	for i, arg := range n.args {
		v, err := evalNode(arg, ctx)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}

	switch n.fn {
	case FuncNOT:
		if args[0].Kind != KindBool {
			return Null(), typeErrorf(name, n.at, "NOT requires a boolean, got %s", args[0].Kind)
		}
		return Boolean(!args[0].Bool), nil

	case FuncCONCATENATE:
		var sb strings.Builder
		for _, v := range args {
			sb.WriteString(v.Format())
		}
		return TextValue(sb.String()), nil

	case FuncUPPER:
		s, err := requireText(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		return TextValue(strings.ToUpper(s)), nil

	case FuncLOWER:
		s, err := requireText(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		return TextValue(strings.ToLower(s)), nil

	case FuncLEN:
		s, err := requireText(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		return Number(float64(utf8.RuneCountInString(s))), nil

	case FuncROUND:
		x, err := requireNumber(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		decimals := 0
		if len(args) == 2 {
			d, err := requireNumber(args[1], name, n.at)
			if err != nil {
				return Null(), err
			}
			decimals = int(d)
		}
		return Number(roundHalfAwayFromZero(x, decimals)), nil

	case FuncABS:
		x, err := requireNumber(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		return Number(math.Abs(x)), nil

	case FuncMAX, FuncMIN:
		best, err := requireNumber(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		for _, v := range args[1:] {
			x, err := requireNumber(v, name, n.at)
			if err != nil {
				return Null(), err
			}
			if (n.fn == FuncMAX && x > best) || (n.fn == FuncMIN && x < best) {
				best = x
			}
		}
		return Number(best), nil

	case FuncTODAY:
		return DateValue(time.Now()), nil

	case FuncDATEDIFF:
		a, err := requireDate(args[0], name, n.at)
		if err != nil {
			return Null(), err
		}
		b, err := requireDate(args[1], name, n.at)
		if err != nil {
			return Null(), err
		}
		days := math.Floor(a.Sub(b).Seconds() / 86400)
		return Number(days), nil

	case FuncISNULL:
		return Boolean(args[0].IsNull()), nil

	case FuncISBLANK:
		blank := args[0].IsNull() || (args[0].Kind == KindText && args[0].Text == "")
		return Boolean(blank), nil

	default:
		// Unreachable while the Function enum and this switch stay in sync.
		return Null(), syntaxErrorf(name, n.at, "function %s has no evaluation rule", name)
	}
}

// roundHalfAwayFromZero rounds x to d decimals, with ties going away
// from zero (spreadsheet convention, not banker's rounding). Rounding
// works on the shortest decimal form of x, so an input entered as
// 1.005 ties up to 1.01 even though its nearest binary float sits
// just below the midpoint.
func roundHalfAwayFromZero(x float64, d int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	if d < 0 {
		pow := math.Pow(10, float64(-d))
		scaled := x / pow
		if scaled >= 0 {
			return math.Floor(scaled+0.5) * pow
		}
		return math.Ceil(scaled-0.5) * pow
	}

	s := strconv.FormatFloat(x, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) <= d {
		return x
	}

	digits := []byte(whole + frac[:d])
	if frac[d] >= '5' {
		i := len(digits) - 1
		for ; i >= 0 && digits[i] == '9'; i-- {
			digits[i] = '0'
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		} else {
			digits[i]++
		}
	}

	out := string(digits)
	if d > 0 {
		out = out[:len(out)-d] + "." + out[len(out)-d:]
	}
	r, _ := strconv.ParseFloat(out, 64)
	if neg {
		return -r
	}
	return r
}

func requireNumber(v Value, fn string, pos int) (float64, error) {
	if v.Kind != KindNumber {
		return 0, typeErrorf(fn, pos, "%s requires a number, got %s", fn, v.Kind)
	}
	return v.Num, nil
}

func requireText(v Value, fn string, pos int) (string, error) {
	if v.Kind != KindText {
		return "", typeErrorf(fn, pos, "%s requires text, got %s", fn, v.Kind)
	}
	return v.Text, nil
}

// requireDate accepts a date value or text in YYYY-MM-DD or RFC3339 form.
func requireDate(v Value, fn string, pos int) (time.Time, error) {
	switch v.Kind {
	case KindDate:
		return v.Date, nil
	case KindText:
		if t, err := time.Parse("2006-01-02", v.Text); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(time.RFC3339, v.Text); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, typeErrorf(fn, pos, "%s cannot parse %q as a date", fn, v.Text)
	default:
		return time.Time{}, typeErrorf(fn, pos, "%s requires a date, got %s", fn, v.Kind)
	}
}
