package formula

import "strings"

// The AST is deliberately restricted: literals, field references,
// unary/binary operators, and calls into the closed function library.
// There is no node type that can name host code, so no input can escape the
// interpreter.

// Expr is an opaque parsed formula. Obtain one from Parse and evaluate
// it with EvaluateParsed.
type Expr interface {
	pos() int
}

type literalNode struct {
	val Value
	at  int
}

type fieldNode struct {
	name string
	at   int
}

type unaryNode struct {
	op      tokenType // tokMinus or tokBang
	opText  string
	operand Expr
	at      int
}

type binaryNode struct {
	op     tokenType
	opText string
	left   Expr
	right  Expr
	at     int
}

type callNode struct {
	fn   Function
	args []Expr
	at   int
}

func (n *literalNode) pos() int { return n.at }
func (n *fieldNode) pos() int   { return n.at }
func (n *unaryNode) pos() int   { return n.at }
func (n *binaryNode) pos() int  { return n.at }
func (n *callNode) pos() int    { return n.at }

// parse builds the AST for a lexed token stream.
//
// Precedence, loosest to tightest:
//
//	||  &&  (comparisons)  &  + -  * / %  (unary ! -)  primary
func parse(tokens []token) (Expr, error) {
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		return nil, syntaxErrorf(tok.val, tok.pos, "unexpected %q after expression", tok.val)
	}
	return root, nil
}

type parser struct {
	tokens []token
	idx    int
}

func (p *parser) peek() token {
	return p.tokens[p.idx]
}

func (p *parser) next() token {
	tok := p.tokens[p.idx]
	if tok.typ != tokEOF {
		p.idx++
	}
	return tok
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOrOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAndAnd {
		op := p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().typ {
		case tokEQ, tokNE, tokLT, tokLE, tokGT, tokGE:
			op := p.next()
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseConcat() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAmp {
		op := p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokPlus || p.peek().typ == tokMinus {
		op := p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().typ {
		case tokStar, tokSlash, tokPercent:
			op := p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.typ, opText: op.val, left: left, right: right, at: op.pos}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().typ {
	case tokMinus, tokBang:
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op.typ, opText: op.val, operand: operand, at: op.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.next()
	switch tok.typ {
	case tokNumber:
		return &literalNode{val: Number(tok.num), at: tok.pos}, nil

	case tokString:
		return &literalNode{val: TextValue(tok.val), at: tok.pos}, nil

	case tokFieldRef:
		return &fieldNode{name: tok.val, at: tok.pos}, nil

	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.typ != tokRParen {
			return nil, syntaxErrorf(closing.val, closing.pos, "expected ')'")
		}
		return inner, nil

	case tokIdent:
		// Keywords first, then the function library.
		switch strings.ToLower(tok.val) {
		case "true":
			return &literalNode{val: Boolean(true), at: tok.pos}, nil
		case "false":
			return &literalNode{val: Boolean(false), at: tok.pos}, nil
		case "null":
			return &literalNode{val: Null(), at: tok.pos}, nil
		}

		if p.peek().typ != tokLParen {
			return nil, syntaxErrorf(tok.val, tok.pos, "unexpected identifier %q (field references use {%s})", tok.val, tok.val)
		}

		fn, ok := LookupFunction(tok.val)
		if !ok {
			return nil, &EvalError{
				Kind:        ErrKindUnknownFunction,
				Message:     "unknown function " + tok.val,
				Token:       tok.val,
				Pos:         tok.pos,
				Suggestions: []string{"available functions: " + strings.Join(FunctionNames(), ", ")},
			}
		}

		p.next() // consume '('
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if !fn.checkArity(len(args)) {
			spec := functionSpecs[fn]
			switch {
			case spec.maxArgs < 0:
				return nil, arityErrorf(tok.val, tok.pos, "%s expects at least %d argument(s), got %d", spec.name, spec.minArgs, len(args))
			case spec.minArgs == spec.maxArgs:
				return nil, arityErrorf(tok.val, tok.pos, "%s expects %d argument(s), got %d", spec.name, spec.minArgs, len(args))
			default:
				return nil, arityErrorf(tok.val, tok.pos, "%s expects %d to %d argument(s), got %d", spec.name, spec.minArgs, spec.maxArgs, len(args))
			}
		}
		return &callNode{fn: fn, args: args, at: tok.pos}, nil

	case tokEOF:
		return nil, syntaxErrorf("", tok.pos, "unexpected end of expression")

	default:
		return nil, syntaxErrorf(tok.val, tok.pos, "unexpected %q", tok.val)
	}
}

// parseArgs parses a comma-separated argument list up to the closing
// parenthesis. The opening parenthesis has already been consumed.
func (p *parser) parseArgs() ([]Expr, error) {
	var args []Expr

	if p.peek().typ == tokRParen {
		p.next()
		return args, nil
	}

	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		tok := p.next()
		switch tok.typ {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, syntaxErrorf(tok.val, tok.pos, "expected ',' or ')' in argument list")
		}
	}
}
