// Package parser turns bench scripts into syntax trees.
//
// A script is a sequence of statements separated only by whitespace:
//
//	# spin up, hold, record
//	SET_THROTTLE 40
//	WAIT 500
//	T = READ_SENSOR thrust
//	IF T > 100 THEN { SET_THROTTLE 20 } ELSE { ADD_POINT }
//	REPEAT 3 { ADD_POINT WAIT 100 }
//
// Keywords are upper case and case-sensitive. Parsing never touches the bench.
package parser

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"thrustrig/rig"
)

// ParseError reports malformed script text.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// readKeywords are the fixed-channel read statements of the minimal dialect.
var readKeywords = map[string]rig.Channel{
	"READ_CELL_1":  rig.Cell1,
	"READ_CELL_2":  rig.Cell2,
	"READ_CURRENT": rig.Current,
	"READ_VOLTAGE": rig.Voltage,
}

var keywords = map[string]bool{
	"SET_THROTTLE":     true,
	"WAIT":             true,
	"READ_CELL_1":      true,
	"READ_CELL_2":      true,
	"READ_CURRENT":     true,
	"READ_VOLTAGE":     true,
	"READ_SENSOR":      true,
	"USE_RAW":          true,
	"USE_SPREADSHEET":  true,
	"WRITE_SHEET_CELL": true,
	"ADD_POINT":        true,
	"IF":               true,
	"THEN":             true,
	"ELSE":             true,
	"REPEAT":           true,
}

// IsKeyword reports whether word is reserved and cannot name a variable.
func IsKeyword(word string) bool { return keywords[word] }

// ParseFile reads a script file once and parses it.
func ParseFile(filename string) (*Program, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse parses script text. On failure it returns a *ParseError and no tree.
func Parse(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	prog := &Program{}
	for p.peek().kind != tokEOF {
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		prog.Stmts = append(prog.Stmts, stmt)
	}
	return prog, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Line: t.pos.Line, Column: t.pos.Column, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, text, context string) (token, error) {
	t := p.next()
	if t.kind != kind || (text != "" && t.text != text) {
		return t, p.errorf(t, "%s: expected %s, found %s", context, text, t.describe())
	}
	return t, nil
}

func (p *parser) statement() (Stmt, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, p.errorf(t, "expected a statement, found %s", t.describe())
	}

	if ch, ok := readKeywords[t.text]; ok {
		return &Read{Pos: t.pos, Channel: ch}, nil
	}

	switch t.text {
	case "SET_THROTTLE":
		v, err := p.integer(t.text, true)
		if err != nil {
			return nil, err
		}
		return &SetThrottle{Pos: t.pos, Value: v}, nil

	case "WAIT":
		ms, err := p.integer(t.text, false)
		if err != nil {
			return nil, err
		}
		return &Wait{Pos: t.pos, Millis: ms}, nil

	case "READ_SENSOR":
		ch, err := p.sensor()
		if err != nil {
			return nil, err
		}
		return &Read{Pos: t.pos, Channel: ch}, nil

	case "USE_RAW":
		w := p.next()
		if (w.kind != tokIdent && w.kind != tokNumber) || keywords[w.text] {
			return nil, p.errorf(w, "USE_RAW: expected true or false, found %s", w.describe())
		}
		return &UseRaw{Pos: t.pos, Flag: w.text}, nil

	case "USE_SPREADSHEET":
		return &UseSpreadsheet{Pos: t.pos}, nil

	case "ADD_POINT":
		return &AddPoint{Pos: t.pos}, nil

	case "WRITE_SHEET_CELL":
		return p.writeSheetCell(t)

	case "IF":
		return p.ifStatement(t)

	case "REPEAT":
		return p.repeat(t)
	}

	if keywords[t.text] {
		return nil, p.errorf(t, "unexpected %s", t.describe())
	}
	return p.assignment(t)
}

// assignment parses "<name> = READ_SENSOR <sensor>" or "<name> = <expr>".
// The name token has already been consumed.
func (p *parser) assignment(name token) (Stmt, error) {
	if _, err := p.expect(tokAssign, "=", "assignment to "+name.text); err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokIdent && t.text == "READ_SENSOR" {
		p.next()
		ch, err := p.sensor()
		if err != nil {
			return nil, err
		}
		return &ReadAssign{Pos: name.pos, Name: name.text, Channel: ch}, nil
	}
	value, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &Assign{Pos: name.pos, Name: name.text, Value: value}, nil
}

func (p *parser) sensor() (rig.Channel, error) {
	t := p.next()
	if t.kind != tokIdent {
		return 0, p.errorf(t, "READ_SENSOR: expected a sensor name, found %s", t.describe())
	}
	ch, ok := rig.LookupSensor(t.text)
	if !ok {
		return 0, p.errorf(t, "unknown sensor %q (want cell1, thrust, cell2, torque, current or voltage)", t.text)
	}
	return ch, nil
}

// Spreadsheet bounds for WRITE_SHEET_CELL addresses.
const (
	MaxSheetColumns = 16384
	MaxSheetRows    = 1048576
)

func (p *parser) writeSheetCell(kw token) (Stmt, error) {
	var value Expr
	t := p.peek()
	switch {
	case t.kind == tokIdent && !keywords[t.text]:
		p.next()
		value = &Var{Pos: t.pos, Name: t.text}
	case t.kind == tokNumber || (t.kind == tokOp && (t.text == "-" || t.text == "+")):
		n, _, err := p.signedNumber(kw.text)
		if err != nil {
			return nil, err
		}
		value = &Number{Pos: t.pos, Value: n}
	default:
		return nil, p.errorf(t, "WRITE_SHEET_CELL: expected a number or variable, found %s", t.describe())
	}

	xt := p.peek()
	x, err := p.integer(kw.text, false)
	if err != nil {
		return nil, err
	}
	if x >= MaxSheetColumns {
		return nil, p.errorf(xt, "%s: column %d is past the last column %d", kw.text, x, MaxSheetColumns-1)
	}
	yt := p.peek()
	y, err := p.integer(kw.text, false)
	if err != nil {
		return nil, err
	}
	if y >= MaxSheetRows {
		return nil, p.errorf(yt, "%s: row %d is past the last row %d", kw.text, y, MaxSheetRows-1)
	}
	return &WriteSheetCell{Pos: kw.pos, Value: value, X: x, Y: y}, nil
}

func (p *parser) ifStatement(kw token) (Stmt, error) {
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokIdent, "THEN", "IF"); err != nil {
		return nil, err
	}
	then, err := p.block("THEN")
	if err != nil {
		return nil, err
	}
	stmt := &If{Pos: kw.pos, Cond: cond, Then: then}

	if t := p.peek(); t.kind == tokIdent && t.text == "ELSE" {
		p.next()
		stmt.Else, err = p.block("ELSE")
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) repeat(kw token) (Stmt, error) {
	n, _, err := p.signedNumber(kw.text)
	if err != nil {
		return nil, err
	}
	n = math.Trunc(n)
	if n > math.MaxInt32 {
		return nil, p.errorf(kw, "REPEAT: count %g is too large", n)
	}
	count := int(n)
	if count < 0 {
		count = 0
	}
	body, err := p.block("REPEAT")
	if err != nil {
		return nil, err
	}
	return &Repeat{Pos: kw.pos, Count: count, Body: body}, nil
}

// block parses "{ <stmts> }". An empty block yields a non-nil empty slice.
func (p *parser) block(context string) ([]Stmt, error) {
	if _, err := p.expect(tokLBrace, "{", context); err != nil {
		return nil, err
	}
	stmts := []Stmt{}
	for {
		t := p.peek()
		if t.kind == tokRBrace {
			p.next()
			return stmts, nil
		}
		if t.kind == tokEOF {
			return nil, p.errorf(t, "%s: missing '}'", context)
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// signedNumber parses a numeric literal with an optional leading sign.
func (p *parser) signedNumber(context string) (float64, string, error) {
	sign := ""
	if t := p.peek(); t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		sign = t.text
	}
	t := p.next()
	if t.kind != tokNumber {
		return 0, "", p.errorf(t, "%s: expected a number, found %s", context, t.describe())
	}
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, "", p.errorf(t, "%s: bad number %s", context, t.text)
	}
	if sign == "-" {
		v = -v
	}
	return v, sign + t.text, nil
}

// integer parses an integral literal. Fractional text is rejected even when
// its value is whole.
func (p *parser) integer(context string, allowNegative bool) (int, error) {
	start := p.peek()
	v, text, err := p.signedNumber(context)
	if err != nil {
		return 0, err
	}
	if strings.Contains(text, ".") {
		return 0, p.errorf(start, "%s: expected an integer, found %s", context, text)
	}
	if !allowNegative && v < 0 {
		return 0, p.errorf(start, "%s: expected a non-negative integer, found %s", context, text)
	}
	if math.Abs(v) > math.MaxInt32 {
		return 0, p.errorf(start, "%s: %s is out of range", context, text)
	}
	return int(v), nil
}

// --- Expressions ---
//
//	expr    := sum [cmp sum]
//	sum     := product {("+"|"-") product}
//	product := atom {("*"|"/") atom}
//	atom    := ["-"|"+"] NUMBER | NAME | READ_* | "(" expr ")"

var compareOps = map[string]Op{">": OpGT, "<": OpLT, ">=": OpGE, "<=": OpLE, "==": OpEQ, "!=": OpNE}

func (p *parser) expr() (Expr, error) {
	left, err := p.sum()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	op, ok := compareOps[t.text]
	if t.kind != tokOp || !ok {
		return left, nil
	}
	p.next()
	right, err := p.sum()
	if err != nil {
		return nil, err
	}
	if n := p.peek(); n.kind == tokOp {
		if _, chained := compareOps[n.text]; chained {
			return nil, p.errorf(n, "comparisons cannot be chained")
		}
	}
	return &Compare{Pos: left.Position(), Op: op, Left: left, Right: right}, nil
}

func (p *parser) sum() (Expr, error) {
	left, err := p.product()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.product()
		if err != nil {
			return nil, err
		}
		left = &Binary{Pos: left.Position(), Op: Op(t.text), Left: left, Right: right}
	}
}

func (p *parser) product() (Expr, error) {
	left, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.atom()
		if err != nil {
			return nil, err
		}
		left = &Binary{Pos: left.Position(), Op: Op(t.text), Left: left, Right: right}
	}
}

func (p *parser) atom() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		v, _, err := p.signedNumber("expression")
		if err != nil {
			return nil, err
		}
		return &Number{Pos: t.pos, Value: v}, nil

	case tokOp:
		if t.text == "-" || t.text == "+" {
			v, _, err := p.signedNumber("expression")
			if err != nil {
				return nil, err
			}
			return &Number{Pos: t.pos, Value: v}, nil
		}

	case tokIdent:
		p.next()
		if ch, ok := readKeywords[t.text]; ok {
			return &ReadExpr{Pos: t.pos, Channel: ch}, nil
		}
		if keywords[t.text] {
			return nil, p.errorf(t, "unexpected %s in expression", t.describe())
		}
		return &Var{Pos: t.pos, Name: t.text}, nil

	case tokLParen:
		p.next()
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")", "expression"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, p.errorf(t, "expected a number, variable or '(', found %s", t.describe())
}
