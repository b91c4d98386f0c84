package parser

import (
	"fmt"

	"thrustrig/rig"
)

// Pos is a 1-based line and column in the script source.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) Position() Pos { return p }

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// Node is any element of the syntax tree.
type Node interface {
	Position() Pos
}

// Stmt is a statement node. The set of implementations is closed.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node. The set of implementations is closed.
type Expr interface {
	Node
	exprNode()
}

// Program is a parsed script: its top-level statements in source order.
type Program struct {
	Stmts []Stmt
}

// --- Statements ---

// SetThrottle commands the motor. Value is whatever the script wrote; range
// checking happens at execution time.
type SetThrottle struct {
	Pos
	Value int
}

// Wait pauses the run for Millis milliseconds.
type Wait struct {
	Pos
	Millis int
}

// Read performs a sensor read and discards the value.
type Read struct {
	Pos
	Channel rig.Channel
}

// UseRaw switches between raw and calibrated reads. Flag is the word as
// written; only true/false (any case) have an effect.
type UseRaw struct {
	Pos
	Flag string
}

type UseSpreadsheet struct {
	Pos
}

// WriteSheetCell writes Value into the report spreadsheet at column X, row Y.
type WriteSheetCell struct {
	Pos
	Value Expr
	X, Y  int
}

type AddPoint struct {
	Pos
}

// Assign stores the value of an expression in a variable.
type Assign struct {
	Pos
	Name  string
	Value Expr
}

// ReadAssign stores a sensor reading in a variable.
type ReadAssign struct {
	Pos
	Name    string
	Channel rig.Channel
}

// If runs Then when Cond is non-zero, otherwise Else. Else is nil when the
// script has no ELSE block.
type If struct {
	Pos
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// Repeat runs Body Count times. Count was truncated to an integer when parsed.
type Repeat struct {
	Pos
	Count int
	Body  []Stmt
}

func (*SetThrottle) stmtNode()    {}
func (*Wait) stmtNode()           {}
func (*Read) stmtNode()           {}
func (*UseRaw) stmtNode()         {}
func (*UseSpreadsheet) stmtNode() {}
func (*WriteSheetCell) stmtNode() {}
func (*AddPoint) stmtNode()       {}
func (*Assign) stmtNode()         {}
func (*ReadAssign) stmtNode()     {}
func (*If) stmtNode()             {}
func (*Repeat) stmtNode()         {}

// --- Expressions ---

// Op is an arithmetic or comparison operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"

	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

type Number struct {
	Pos
	Value float64
}

// Var references a variable. Unassigned variables evaluate to 0.
type Var struct {
	Pos
	Name string
}

// ReadExpr is a sensor read used as a value.
type ReadExpr struct {
	Pos
	Channel rig.Channel
}

// Binary is an arithmetic operation.
type Binary struct {
	Pos
	Op          Op
	Left, Right Expr
}

// Compare is a comparison; it evaluates to 1 when true and 0 when false.
type Compare struct {
	Pos
	Op          Op
	Left, Right Expr
}

func (*Number) exprNode()   {}
func (*Var) exprNode()      {}
func (*ReadExpr) exprNode() {}
func (*Binary) exprNode()   {}
func (*Compare) exprNode()  {}
