// Package sexp prints parsed scripts as S-expressions. The printed form is
// canonical: two scripts that differ only in layout or comments print the same
// and therefore share an ID.
package sexp

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"thrustrig/parser"
)

// EmitProgram emits a (program ...) S-expression, one statement per line.
func EmitProgram(prog *parser.Program) string {
	if prog == nil || len(prog.Stmts) == 0 {
		return "(program)\n"
	}
	lines := []string{"(program"}
	lines = append(lines, indent(emitBlock(prog.Stmts), 2)...)
	lines[len(lines)-1] += ")"
	return strings.Join(lines, "\n") + "\n"
}

// ID returns a short content hash of the canonical form of prog.
func ID(prog *parser.Program) string {
	return shortcode(EmitProgram(prog))
}

func emitBlock(stmts []parser.Stmt) []string {
	var lines []string
	for _, s := range stmts {
		lines = append(lines, emitStmt(s)...)
	}
	return lines
}

func emitStmt(s parser.Stmt) []string {
	switch s := s.(type) {
	case *parser.SetThrottle:
		return []string{fmt.Sprintf("(set_throttle %d)", s.Value)}
	case *parser.Wait:
		return []string{fmt.Sprintf("(wait %d)", s.Millis)}
	case *parser.Read:
		return []string{fmt.Sprintf("(read %s)", s.Channel)}
	case *parser.UseRaw:
		return []string{fmt.Sprintf("(use_raw %s)", s.Flag)}
	case *parser.UseSpreadsheet:
		return []string{"(use_spreadsheet)"}
	case *parser.WriteSheetCell:
		return []string{fmt.Sprintf("(write_sheet_cell %s %d %d)", EmitExpr(s.Value), s.X, s.Y)}
	case *parser.AddPoint:
		return []string{"(add_point)"}
	case *parser.Assign:
		return []string{fmt.Sprintf("(assign %s %s)", s.Name, EmitExpr(s.Value))}
	case *parser.ReadAssign:
		return []string{fmt.Sprintf("(read_assign %s %s)", s.Name, s.Channel)}
	case *parser.If:
		lines := []string{"(if " + EmitExpr(s.Cond)}
		lines = append(lines, indent(section("then", s.Then), 2)...)
		if s.Else != nil {
			lines = append(lines, indent(section("else", s.Else), 2)...)
		}
		lines[len(lines)-1] += ")"
		return lines
	case *parser.Repeat:
		header := fmt.Sprintf("(repeat %d", s.Count)
		if len(s.Body) == 0 {
			return []string{header + ")"}
		}
		lines := []string{header}
		lines = append(lines, indent(emitBlock(s.Body), 2)...)
		lines[len(lines)-1] += ")"
		return lines
	}
	panic(fmt.Sprintf("sexp: unknown statement %T", s))
}

func section(name string, stmts []parser.Stmt) []string {
	if len(stmts) == 0 {
		return []string{"(" + name + ")"}
	}
	lines := []string{"(" + name}
	lines = append(lines, indent(emitBlock(stmts), 2)...)
	lines[len(lines)-1] += ")"
	return lines
}

// EmitExpr renders an expression on a single line.
func EmitExpr(e parser.Expr) string {
	switch e := e.(type) {
	case *parser.Number:
		return strconv.FormatFloat(e.Value, 'g', -1, 64)
	case *parser.Var:
		return e.Name
	case *parser.ReadExpr:
		return fmt.Sprintf("(read %s)", e.Channel)
	case *parser.Binary:
		return fmt.Sprintf("(%s %s %s)", e.Op, EmitExpr(e.Left), EmitExpr(e.Right))
	case *parser.Compare:
		return fmt.Sprintf("(%s %s %s)", e.Op, EmitExpr(e.Left), EmitExpr(e.Right))
	}
	panic(fmt.Sprintf("sexp: unknown expression %T", e))
}

func indent(lines []string, n int) []string {
	prefix := strings.Repeat(" ", n)
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = prefix + l
	}
	return out
}

func shortcode(sexpr string) string {
	h := sha256.Sum256([]byte(sexpr))
	return fmt.Sprintf("%x", h[:4])
}
